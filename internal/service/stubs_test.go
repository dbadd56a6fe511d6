package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
	"github.com/octobees/vcardsync/internal/repository"
)

type pageCall struct {
	position int
	pageSize int
}

// stubSource serves a fixed result list, page by page.
type stubSource struct {
	records []entity.RawRecord
	total   int
	failAt  int
	calls   []pageCall
}

func (s *stubSource) FetchPage(ctx context.Context, query dto.SearchQuery, position, pageSize int) (dto.Page, error) {
	s.calls = append(s.calls, pageCall{position: position, pageSize: pageSize})
	if s.failAt > 0 && len(s.calls) == s.failAt {
		return dto.Page{}, errors.New("connection reset")
	}
	start := position - 1
	if start >= len(s.records) {
		return dto.Page{Total: s.total}, nil
	}
	end := start + pageSize
	if end > len(s.records) {
		end = len(s.records)
	}
	return dto.Page{Records: s.records[start:end], Total: s.total}, nil
}

func makeRecords(n int) []entity.RawRecord {
	records := make([]entity.RawRecord, n)
	for i := range records {
		records[i] = entity.RawRecord{
			ID:      fmt.Sprintf("id-%02d", i+1),
			Updated: "2024-04-01T00:00:00Z",
			Org:     fmt.Sprintf("Firma %d", i+1),
		}
	}
	return records
}

// countingLimiter allows up to budget calls.
type countingLimiter struct {
	budget int
	used   int
	err    error
}

func (l *countingLimiter) TryConsume(ctx context.Context) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.used >= l.budget {
		return false, nil
	}
	l.used++
	return true, nil
}

type countingWaiter struct {
	pages int
	err   error
}

func (w *countingWaiter) BetweenPages(ctx context.Context) error {
	w.pages++
	return w.err
}

type fetchCall struct {
	url      string
	folder   string
	fallback string
}

// stubFetcher records calls and pretends to write files through the layout.
type stubFetcher struct {
	calls  []fetchCall
	fail   map[string]bool
	create func(rel string)
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL, folder, fallbackName string) (string, error) {
	f.calls = append(f.calls, fetchCall{url: rawURL, folder: folder, fallback: fallbackName})
	if f.fail[rawURL] {
		return "", errors.New("dial tcp: connection refused")
	}
	rel := folder + "/" + AttachmentFilename(rawURL, fallbackName)
	if f.create != nil {
		f.create(rel)
	}
	return rel, nil
}

type stubMirror struct {
	query    dto.SearchQuery
	contacts []entity.Contact
	err      error
}

func (m *stubMirror) BulkUpsertContacts(ctx context.Context, query dto.SearchQuery, contacts []entity.Contact) (repository.BulkUpsertResult, error) {
	m.query = query
	m.contacts = contacts
	if m.err != nil {
		return repository.BulkUpsertResult{}, m.err
	}
	return repository.BulkUpsertResult{Inserted: len(contacts), Total: len(contacts)}, nil
}
