package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/octobees/vcardsync/internal/config"
	"github.com/octobees/vcardsync/internal/database"
	"github.com/octobees/vcardsync/internal/logger"
	"github.com/octobees/vcardsync/internal/quota"
	"github.com/octobees/vcardsync/internal/repository"
	"github.com/octobees/vcardsync/internal/service"
	"github.com/octobees/vcardsync/internal/source"
)

const connectTimeout = 10 * time.Second

// app owns the lazily opened database handles of one command invocation.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	http   *http.Client
	pool   *pgxpool.Pool
	sqlite *sql.DB
}

func newApp(cfg *config.Config, l *zap.Logger) *app {
	return &app{
		cfg:    cfg,
		logger: logger.OrNop(l),
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.sqlite != nil {
		a.sqlite.Close()
	}
}

func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	pool, err := database.Connect(connectCtx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	a.pool = pool
	return pool, nil
}

// Limiter opens the configured quota backend.
func (a *app) Limiter(ctx context.Context) (*quota.MonthlyLimiter, error) {
	var store quota.Store
	switch a.cfg.Quota.Backend {
	case config.QuotaBackendSQLite:
		db, err := database.OpenSQLite(ctx, a.cfg.Quota.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		a.sqlite = db
		sqliteStore, err := quota.NewSQLiteStore(ctx, db)
		if err != nil {
			return nil, err
		}
		store = sqliteStore
	case config.QuotaBackendPostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		pgStore, err := quota.NewPostgresStore(ctx, pool)
		if err != nil {
			return nil, err
		}
		store = pgStore
	default:
		store = quota.NewFileStore(a.cfg.Quota.FilePath)
	}
	return quota.NewMonthlyLimiter(store, a.cfg.Quota.Limit), nil
}

// Source builds the configured listing source.
func (a *app) Source() (source.Source, error) {
	switch a.cfg.Source {
	case config.SourceWeb:
		return source.NewWebSource(a.cfg.SearchWebURL,
			source.WithWebHTTPClient(a.http),
			source.WithWebUserAgent(a.cfg.UserAgent),
			source.WithDetailLimiter(newRateLimiter(a.cfg.Pacing.AttachmentRate)),
			source.WithWebLogger(a.logger),
		)
	default:
		return source.NewAPISource(a.cfg.SearchAPIURL, a.cfg.SearchAPIKey,
			source.WithAPIHTTPClient(a.http),
			source.WithAPIUserAgent(a.cfg.UserAgent),
		)
	}
}

// Syncer wires the whole pipeline from configuration.
func (a *app) Syncer(ctx context.Context) (*service.Syncer, error) {
	src, err := a.Source()
	if err != nil {
		return nil, err
	}
	limiter, err := a.Limiter(ctx)
	if err != nil {
		return nil, err
	}

	fetcher := service.NewFetcher(a.cfg.OutputDir,
		service.WithFetcherHTTPClient(a.http),
		service.WithFetcherUserAgent(a.cfg.UserAgent),
		service.WithFetcherLimiter(newRateLimiter(a.cfg.Pacing.AttachmentRate)),
	)

	var normalizerOpts []service.NormalizerOption
	if a.cfg.PhoneDedup {
		normalizerOpts = append(normalizerOpts, service.WithPhoneDedup(a.cfg.PhoneRegion))
	}

	pacing := a.cfg.Pacing
	opts := []service.SyncerOption{
		service.WithNormalizer(service.NewNormalizer(normalizerOpts...)),
		service.WithPacerFactory(func() *service.Pacer { return service.NewPacer(pacing) }),
		service.WithPageSize(a.cfg.PageSize),
		service.WithSyncLogger(a.logger),
	}

	if a.cfg.MirrorContacts {
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		contacts := repository.NewPGXContactsRepository(pool)
		if err := contacts.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, service.WithMirror(contacts))
	}

	return service.NewSyncer(src, limiter, fetcher, a.cfg.OutputDir, opts...), nil
}

func newRateLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.Requests <= 0 || cfg.Interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(cfg.Interval/time.Duration(cfg.Requests)), 1)
}
