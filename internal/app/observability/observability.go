package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"academy/internal/identity"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector logs one line per request and owns the Prometheus registry for
// HTTP and exam metrics.
type Collector struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	attempts       *prometheus.CounterVec
	wrongNotes     prometheus.Counter
	kvFallbacks    *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "academy_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "path"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_attempts_submitted_total",
			Help: "Exam attempts submitted, by final status and trigger",
		}, []string{"status", "trigger"}),
		wrongNotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "academy_wrong_notes_created_total",
			Help: "Wrong notes created by submitted attempts",
		}),
		kvFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_kv_remote_fallbacks_total",
			Help: "Remote store operations that fell back to the local cache",
		}, []string{"op"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "academy_active_sessions",
			Help: "Exam sessions currently in progress",
		}),
	}
	c.registry.MustRegister(
		c.requests,
		c.duration,
		c.attempts,
		c.wrongNotes,
		c.kvFallbacks,
		c.activeSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// WatchDB exports connection pool stats of db under the given name.
func (c *Collector) WatchDB(db *sql.DB, name string) {
	c.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

func (c *Collector) AttemptSubmitted(status, trigger string) {
	c.attempts.WithLabelValues(status, trigger).Inc()
}

func (c *Collector) WrongNotesCreated(n int) {
	c.wrongNotes.Add(float64(n))
}

func (c *Collector) ActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

func (c *Collector) KVFallback(op string) {
	c.kvFallbacks.WithLabelValues(op).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		path := routePattern(r)
		c.requests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		c.duration.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

		fields := []zap.Field{
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("user_id", strings.TrimSpace(r.Header.Get(identity.HeaderUserID))),
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", rec.status),
			zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
			zap.String("remote_ip", strings.TrimSpace(r.RemoteAddr)),
		}
		if id := segmentAfter(r.URL.Path, "exams"); id != "" {
			fields = append(fields, zap.String("exam_id", id))
		}
		if id := segmentAfter(r.URL.Path, "attempts"); id != "" {
			fields = append(fields, zap.String("attempt_id", id))
		}
		c.logger.Info("http request", fields...)
	})
}

func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// routePattern prefers the matched chi pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
			continue
		}
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func segmentAfter(path, name string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == name && parts[i+1] != "" {
			return parts[i+1]
		}
	}
	return ""
}
