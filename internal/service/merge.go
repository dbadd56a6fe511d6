package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/octobees/vcardsync/internal/entity"
	"github.com/octobees/vcardsync/internal/logger"
)

// Decision is the outcome of merging one incoming contact.
type Decision string

const (
	DecisionInserted Decision = "inserted"
	DecisionUpdated  Decision = "updated"
	DecisionRetained Decision = "retained"
	DecisionRepaired Decision = "repaired"
)

// Layout resolves attachment folders and checks recorded attachment files.
type Layout interface {
	AttachmentDir(hasEmail bool) string
	Exists(rel string) bool
	Remove(rel string) error
}

// DownloadWaiter is notified after each stored attachment.
type DownloadWaiter interface {
	AfterDownload(ctx context.Context) error
}

// Merger folds incoming contacts into a snapshot. One Merger serves one run:
// it remembers which ids already had an attachment fetch attempted.
type Merger struct {
	fetcher   AttachmentFetcher
	layout    Layout
	waiter    DownloadWaiter
	logger    *zap.Logger
	attempted map[string]struct{}
}

// MergerOption configures optional dependencies.
type MergerOption func(*Merger)

// WithDownloadWaiter sets the pause policy applied after downloads.
func WithDownloadWaiter(w DownloadWaiter) MergerOption {
	return func(m *Merger) {
		m.waiter = w
	}
}

// WithMergerLogger attaches a logger.
func WithMergerLogger(l *zap.Logger) MergerOption {
	return func(m *Merger) {
		m.logger = logger.OrNop(l)
	}
}

// NewMerger builds a merger for a single run.
func NewMerger(fetcher AttachmentFetcher, layout Layout, opts ...MergerOption) *Merger {
	m := &Merger{
		fetcher:   fetcher,
		layout:    layout,
		logger:    zap.NewNop(),
		attempted: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge applies incoming to existing in place. Attachment failures are logged
// and never returned; the error is non-nil only when ctx ends.
func (m *Merger) Merge(ctx context.Context, existing map[string]entity.Contact, incoming entity.Contact) (Decision, error) {
	prev, found := existing[incoming.ID]

	switch {
	case !found:
		incoming.AttachmentPath = ""
		path, err := m.fetch(ctx, incoming, incoming.AttachmentURL)
		if err != nil {
			return "", err
		}
		incoming.AttachmentPath = path
		existing[incoming.ID] = incoming
		return DecisionInserted, nil

	case isNewer(incoming.UpdatedAt, prev.UpdatedAt):
		incoming.AttachmentPath = ""
		if incoming.AttachmentURL == "" {
			// Without a new URL the previous file is still the best copy.
			if m.layout.Exists(prev.AttachmentPath) {
				incoming.AttachmentPath = prev.AttachmentPath
			}
		} else {
			_, fetched := m.attempted[incoming.ID]
			path, err := m.fetch(ctx, incoming, incoming.AttachmentURL)
			if err != nil {
				return "", err
			}
			if path == "" && fetched && m.layout.Exists(prev.AttachmentPath) {
				// Downloaded earlier in this run.
				path = prev.AttachmentPath
			}
			incoming.AttachmentPath = path
			if path != "" && prev.AttachmentPath != "" && prev.AttachmentPath != path {
				if err := m.layout.Remove(prev.AttachmentPath); err != nil {
					m.logger.Warn("previous attachment not removed",
						zap.String("id", incoming.ID),
						zap.String("path", prev.AttachmentPath),
						zap.Error(err),
					)
				}
			}
		}
		existing[incoming.ID] = incoming
		return DecisionUpdated, nil

	default:
		if m.layout.Exists(prev.AttachmentPath) {
			return DecisionRetained, nil
		}
		url := prev.AttachmentURL
		if url == "" {
			url = incoming.AttachmentURL
		}
		path, err := m.fetch(ctx, prev, url)
		if err != nil {
			return "", err
		}
		if path == "" {
			if prev.AttachmentPath != "" {
				prev.AttachmentPath = ""
				existing[prev.ID] = prev
			}
			return DecisionRetained, nil
		}
		prev.AttachmentPath = path
		existing[prev.ID] = prev
		return DecisionRepaired, nil
	}
}

// fetch downloads the attachment of c at most once per run. It returns "" when
// there is nothing to fetch or the download failed.
func (m *Merger) fetch(ctx context.Context, c entity.Contact, url string) (string, error) {
	if url == "" || m.fetcher == nil {
		return "", nil
	}
	if _, done := m.attempted[c.ID]; done {
		return "", nil
	}
	m.attempted[c.ID] = struct{}{}

	path, err := m.fetcher.Fetch(ctx, url, m.layout.AttachmentDir(c.HasEmail()), c.ID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.logger.Warn("attachment download failed",
			zap.String("id", c.ID),
			zap.Error(err),
		)
		return "", nil
	}

	m.logger.Debug("attachment stored", zap.String("id", c.ID), zap.String("path", path))
	if m.waiter != nil {
		if err := m.waiter.AfterDownload(ctx); err != nil {
			return path, err
		}
	}
	return path, nil
}
