package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalizedPath(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/api/v1/attempts/123/answers/9", "/api/v1/attempts/{id}/answers/{id}"},
		{"/api/v1/exams/0b5c3b8e-6f4a-4a53-9d2e-1b1f3c2a7e10/session", "/api/v1/exams/{id}/session"},
		{"/api/v1/questions/taxonomy", "/api/v1/questions/taxonomy"},
		{"", "/"},
	}
	for _, tt := range tests {
		if got := normalizedPath(tt.path); got != tt.want {
			t.Fatalf("normalizedPath(%q): expected %s, got %s", tt.path, tt.want, got)
		}
	}
}

func TestSegmentAfter(t *testing.T) {
	if id := segmentAfter("/api/v1/attempts/a-456", "attempts"); id != "a-456" {
		t.Fatalf("expected a-456, got %q", id)
	}
	if id := segmentAfter("/api/v1/exams/e1/session/submit", "exams"); id != "e1" {
		t.Fatalf("expected e1, got %q", id)
	}
	if id := segmentAfter("/api/v1/exams", "exams"); id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
}

func TestMiddlewareLogsAndCounts(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewCollector(zap.New(core))
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams/e1/session", nil)
	req.Header.Set("X-User-Id", "stu-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["exam_id"] != "e1" || fields["user_id"] != "stu-1" || fields["status"] != int64(http.StatusCreated) {
		t.Fatalf("unexpected fields: %v", fields)
	}

	c.AttemptSubmitted("graded", "timer")
	c.WrongNotesCreated(2)
	c.ActiveSessions(3)
	c.KVFallback("load")

	w := httptest.NewRecorder()
	c.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`academy_http_requests_total{method="POST",path="/api/v1/exams/e1/session",status="201"} 1`,
		`academy_attempts_submitted_total{status="graded",trigger="timer"} 1`,
		`academy_wrong_notes_created_total 2`,
		`academy_active_sessions 3`,
		`academy_kv_remote_fallbacks_total{op="load"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected metrics to contain %q", want)
		}
	}
}
