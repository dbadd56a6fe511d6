package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
	"github.com/octobees/vcardsync/internal/logger"
	"github.com/octobees/vcardsync/internal/quota"
	"github.com/octobees/vcardsync/internal/source"
)

// StopReason explains why pagination ended.
type StopReason string

const (
	StopEndOfResults StopReason = "end_of_results"
	StopEmptyPage    StopReason = "empty_page"
	StopPageError    StopReason = "page_error"
)

// PageWaiter blocks between two page requests.
type PageWaiter interface {
	BetweenPages(ctx context.Context) error
}

// WalkStats reports how a walk went.
type WalkStats struct {
	Calls   int        `json:"calls"`
	Records int        `json:"records"`
	Total   int        `json:"total"`
	Stopped StopReason `json:"stopped"`
	// PageErr is the fetch error that ended pagination, if any.
	PageErr error `json:"-"`
}

// Walker pages through a source until its result set is exhausted.
type Walker struct {
	source   source.Source
	limiter  quota.Limiter
	waiter   PageWaiter
	pageSize int
	logger   *zap.Logger
}

// WalkerOption configures optional dependencies.
type WalkerOption func(*Walker)

// WithPageWaiter sets the pause taken between page requests.
func WithPageWaiter(w PageWaiter) WalkerOption {
	return func(wk *Walker) {
		wk.waiter = w
	}
}

// WithWalkerLogger attaches a logger.
func WithWalkerLogger(l *zap.Logger) WalkerOption {
	return func(wk *Walker) {
		wk.logger = logger.OrNop(l)
	}
}

// NewWalker builds a walker requesting pageSize records per call.
func NewWalker(src source.Source, limiter quota.Limiter, pageSize int, opts ...WalkerOption) *Walker {
	if pageSize <= 0 {
		pageSize = 10
	}
	w := &Walker{
		source:   src,
		limiter:  limiter,
		pageSize: pageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Walk fetches pages starting at position 1 and hands every non-empty batch to
// handle. Each call spends one quota unit first; a refused unit aborts the walk
// with quota.ErrExhausted. A failing page ends pagination without an error.
func (w *Walker) Walk(ctx context.Context, query dto.SearchQuery, handle func(records []entity.RawRecord) error) (WalkStats, error) {
	var stats WalkStats
	position := 1

	for {
		if stats.Calls > 0 && w.waiter != nil {
			if err := w.waiter.BetweenPages(ctx); err != nil {
				return stats, err
			}
		}

		allowed, err := w.limiter.TryConsume(ctx)
		if err != nil {
			return stats, fmt.Errorf("quota check: %w", err)
		}
		if !allowed {
			return stats, quota.ErrExhausted
		}

		page, err := w.source.FetchPage(ctx, query, position, w.pageSize)
		stats.Calls++
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			w.logger.Warn("page fetch failed, stopping pagination",
				zap.Int("position", position),
				zap.Error(err),
			)
			stats.Stopped = StopPageError
			stats.PageErr = err
			return stats, nil
		}

		stats.Total = page.Total
		if len(page.Records) == 0 {
			stats.Stopped = StopEmptyPage
			return stats, nil
		}

		w.logger.Info("page fetched",
			zap.Int("position", position),
			zap.Int("records", len(page.Records)),
			zap.Int("total", page.Total),
		)
		if err := handle(page.Records); err != nil {
			return stats, err
		}
		stats.Records += len(page.Records)
		position += len(page.Records)

		if position > page.Total {
			stats.Stopped = StopEndOfResults
			return stats, nil
		}
	}
}
