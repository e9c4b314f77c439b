package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"academy/internal/app/observability"
	"academy/internal/autosave"
	"academy/internal/db"
	"academy/internal/exam"
	"academy/internal/kv"
	"academy/internal/question"
	"academy/internal/report"
	"academy/internal/wrongnote"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired services and the resources they need closed on
// shutdown.
type App struct {
	Config    Config
	Logger    *zap.Logger
	Collector *observability.Collector
	Sessions  *exam.Manager

	Questions  *question.Handler
	Exams      *exam.Handler
	WrongNotes *wrongnote.Handler
	Reports    *report.Handler

	localDB  *sql.DB
	remoteDB *sql.DB
	redis    *redis.Client
}

// Build opens the stores and wires every service. A remote database or Redis
// that cannot be reached at startup is logged and skipped; the service then
// runs on the local cache alone.
func Build(ctx context.Context, cfg Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Collector: observability.NewCollector(logger),
	}

	localDB, err := db.OpenSQLite(ctx, cfg.LocalCachePath)
	if err != nil {
		return nil, err
	}
	a.localDB = localDB
	local := kv.NewSQLite(localDB)
	if err := local.EnsureSchema(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	var remote kv.Store
	if cfg.DBDSN != "" {
		remoteDB, err := db.OpenPostgresWithConfig(ctx, cfg.DBDSN, db.PostgresConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime(),
		})
		if err != nil {
			logger.Warn("remote store unavailable, running on local cache", zap.Error(err))
		} else {
			pg := kv.NewPostgres(remoteDB)
			if err := pg.EnsureSchema(ctx); err != nil {
				_ = remoteDB.Close()
				logger.Warn("remote schema unavailable, running on local cache", zap.Error(err))
			} else {
				a.remoteDB = remoteDB
				a.Collector.WatchDB(remoteDB, "remote")
				remote = pg
			}
		}
	}
	store := kv.NewTiered(remote, local, kv.TieredOptions{
		RemoteTimeout: cfg.RemoteTimeout(),
		Logger:        logger.Named("kv"),
		OnFallback:    a.Collector.KVFallback,
	})

	var cache autosave.Cache = autosave.NewStore(local, cfg.KeyPrefix)
	if cfg.RedisAddr != "" {
		client, err := db.OpenRedis(ctx, db.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Warn("redis unavailable, autosave on local cache", zap.Error(err))
		} else {
			a.redis = client
			cache = autosave.NewRedis(client, cfg.KeyPrefix, cfg.AutosaveTTL())
		}
	}

	key := func(name string) string { return cfg.KeyPrefix + ":" + name }
	questions := question.NewService(store, key("questions"))
	catalog := exam.NewCatalog(store, key("exams"))
	attempts := exam.NewAttemptStore(store, key("attempts"))
	notes := wrongnote.NewStore(store, key("wrong_notes"))

	a.Sessions = exam.NewManager(exam.SessionDeps{
		Exams:      catalog,
		Questions:  questions,
		Attempts:   attempts,
		Notes:      notes,
		Autosave:   cache,
		Recorder:   a.Collector,
		Logger:     logger.Named("exam"),
		Checkpoint: cfg.CheckpointAttempts,
	})

	a.Questions = question.NewHandler(questions)
	a.Exams = exam.NewHandler(exam.NewService(catalog, attempts, questions, a.Sessions))
	a.WrongNotes = wrongnote.NewHandler(wrongnote.NewService(notes, questions))
	a.Reports = report.NewHandler(report.NewService(attempts, catalog, questions, notes))
	return a, nil
}

// Close stops session timers and releases the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Sessions != nil {
		if err := a.Sessions.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop sessions: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.remoteDB != nil {
		if err := a.remoteDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close postgres: %w", err))
		}
	}
	if a.localDB != nil {
		if err := a.localDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
	}
	return errors.Join(errs...)
}
