package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/octobees/vcardsync/internal/config"
	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
	"github.com/octobees/vcardsync/internal/logger"
	"github.com/octobees/vcardsync/internal/quota"
	"github.com/octobees/vcardsync/internal/repository"
	"github.com/octobees/vcardsync/internal/source"
)

var (
	// ErrNoResults is returned when the source yields nothing for the query.
	ErrNoResults = errors.New("no results for query")
	// ErrEmptyQuery is returned when no search term was given.
	ErrEmptyQuery = errors.New("search term is required")
)

// RunSummary describes one completed synchronization run.
type RunSummary struct {
	RunID     string                       `json:"run_id"`
	Query     dto.SearchQuery              `json:"query"`
	Walk      WalkStats                    `json:"walk"`
	Decisions map[Decision]int             `json:"decisions"`
	Skipped   int                          `json:"skipped"`
	Downloads int                          `json:"downloads"`
	Snapshot  repository.WriteSummary      `json:"snapshot"`
	Mirror    *repository.BulkUpsertResult `json:"mirror,omitempty"`
}

// Syncer runs the walk, normalize, merge and write pipeline for a query.
type Syncer struct {
	source     source.Source
	limiter    quota.Limiter
	normalizer *Normalizer
	fetcher    *Fetcher
	pacing     func() *Pacer
	mirror     repository.ContactsRepository
	outputDir  string
	pageSize   int
	logger     *zap.Logger
	newRunID   func() string
}

// SyncerOption configures optional dependencies.
type SyncerOption func(*Syncer)

// WithNormalizer overrides the default normalizer.
func WithNormalizer(n *Normalizer) SyncerOption {
	return func(s *Syncer) {
		if n != nil {
			s.normalizer = n
		}
	}
}

// WithPacerFactory sets how each run builds its pacer.
func WithPacerFactory(newPacer func() *Pacer) SyncerOption {
	return func(s *Syncer) {
		if newPacer != nil {
			s.pacing = newPacer
		}
	}
}

// WithMirror upserts every written snapshot into repo.
func WithMirror(repo repository.ContactsRepository) SyncerOption {
	return func(s *Syncer) {
		s.mirror = repo
	}
}

// WithPageSize sets the number of records requested per page.
func WithPageSize(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithSyncLogger attaches a logger.
func WithSyncLogger(l *zap.Logger) SyncerOption {
	return func(s *Syncer) {
		s.logger = logger.OrNop(l)
	}
}

// NewSyncer wires the pipeline. fetcher may be nil to skip attachments.
func NewSyncer(src source.Source, limiter quota.Limiter, fetcher *Fetcher, outputDir string, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		source:     src,
		limiter:    limiter,
		normalizer: NewNormalizer(),
		fetcher:    fetcher,
		pacing:     func() *Pacer { return NewPacer(config.PacingConfig{}) },
		outputDir:  outputDir,
		pageSize:   10,
		logger:     zap.NewNop(),
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync merges the remote result set for query into its on-disk snapshot.
// Nothing is written when the quota runs out, the context ends or the source
// returns no records.
func (s *Syncer) Sync(ctx context.Context, query dto.SearchQuery) (RunSummary, error) {
	query = query.Normalize()
	if !query.Valid() {
		return RunSummary{}, ErrEmptyQuery
	}

	summary := RunSummary{
		RunID:     s.newRunID(),
		Query:     query,
		Decisions: make(map[Decision]int),
	}
	log := s.logger.With(
		zap.String("run_id", summary.RunID),
		zap.String("term", query.Term),
		zap.String("location", query.Location),
	)

	store := repository.NewSnapshotStore(s.outputDir, query)
	contacts, err := store.Load()
	if err != nil {
		return summary, fmt.Errorf("load snapshot: %w", err)
	}
	log.Info("snapshot loaded", zap.String("root", store.Root()), zap.Int("contacts", len(contacts)))

	pacer := s.pacing()
	var fetcher AttachmentFetcher
	if s.fetcher != nil {
		fetcher = s.fetcher.In(store.Root())
	}
	merger := NewMerger(fetcher, store, WithDownloadWaiter(pacer), WithMergerLogger(log))
	walker := NewWalker(s.source, s.limiter, s.pageSize, WithPageWaiter(pacer), WithWalkerLogger(log))

	stats, err := walker.Walk(ctx, query, func(records []entity.RawRecord) error {
		for _, raw := range records {
			contact := s.normalizer.Normalize(raw)
			if contact.ID == "" {
				summary.Skipped++
				log.Warn("record without id skipped", zap.String("company", contact.Company))
				continue
			}
			decision, err := merger.Merge(ctx, contacts, contact)
			if err != nil {
				return err
			}
			summary.Decisions[decision]++
		}
		return nil
	})
	summary.Walk = stats
	summary.Downloads = pacer.Downloads()
	if err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			log.Error("api quota exhausted, run aborted", zap.Int("calls", stats.Calls))
		}
		return summary, err
	}
	if stats.Records == 0 && stats.Stopped == StopPageError {
		log.Error("first page failed, nothing was written", zap.Error(stats.PageErr))
		return summary, fmt.Errorf("fetch first page: %w", stats.PageErr)
	}
	if stats.Records == 0 {
		log.Info("no results")
		return summary, ErrNoResults
	}

	written, err := store.Write(contacts)
	if err != nil {
		return summary, fmt.Errorf("write snapshot: %w", err)
	}
	summary.Snapshot = written
	log.Info("snapshot written",
		zap.String("master", written.MasterPath),
		zap.Int("total", written.Total),
		zap.Int("with_email", written.WithEmail),
		zap.Int("without_email", written.WithoutEmail),
		zap.Int("downloads", summary.Downloads),
	)

	if s.mirror != nil {
		result, err := s.mirror.BulkUpsertContacts(ctx, query, sortedContacts(contacts))
		if err != nil {
			log.Warn("contact mirror failed", zap.Error(err))
		} else {
			summary.Mirror = &result
			log.Info("contacts mirrored", zap.Int("inserted", result.Inserted), zap.Int("updated", result.Updated))
		}
	}

	return summary, nil
}

func sortedContacts(contacts map[string]entity.Contact) []entity.Contact {
	out := make([]entity.Contact, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
