package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
	"github.com/octobees/vcardsync/internal/quota"
)

var testQuery = dto.SearchQuery{Term: "metallbau", Location: "AG"}

func collect(batches *[][]entity.RawRecord) func([]entity.RawRecord) error {
	return func(records []entity.RawRecord) error {
		*batches = append(*batches, records)
		return nil
	}
}

func TestWalker_AdvancesByReturnedCount(t *testing.T) {
	src := &stubSource{records: makeRecords(25), total: 25}
	limiter := &countingLimiter{budget: 100}
	waiter := &countingWaiter{}
	walker := NewWalker(src, limiter, 10, WithPageWaiter(waiter))

	var batches [][]entity.RawRecord
	stats, err := walker.Walk(context.Background(), testQuery, collect(&batches))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantCalls := []pageCall{{position: 1, pageSize: 10}, {position: 11, pageSize: 10}, {position: 21, pageSize: 10}}
	if diff := cmp.Diff(wantCalls, src.calls, cmp.AllowUnexported(pageCall{})); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
	if stats.Calls != 3 || stats.Records != 25 || stats.Total != 25 || stats.Stopped != StopEndOfResults {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(batches) != 3 || len(batches[2]) != 5 {
		t.Fatalf("unexpected batches: %d", len(batches))
	}
	if limiter.used != 3 {
		t.Fatalf("expected one quota unit per call, got %d", limiter.used)
	}
	if waiter.pages != 2 {
		t.Fatalf("expected a pause between pages only, got %d", waiter.pages)
	}
}

func TestWalker_ShortPagesAdvanceByActualCount(t *testing.T) {
	src := &stubSource{records: makeRecords(7), total: 7}
	walker := NewWalker(src, &countingLimiter{budget: 100}, 3)

	stats, err := walker.Walk(context.Background(), testQuery, func([]entity.RawRecord) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	positions := []int{}
	for _, c := range src.calls {
		positions = append(positions, c.position)
	}
	if diff := cmp.Diff([]int{1, 4, 7}, positions); diff != "" {
		t.Fatalf("unexpected positions (-want +got):\n%s", diff)
	}
	if stats.Records != 7 {
		t.Fatalf("expected 7 records, got %d", stats.Records)
	}
}

func TestWalker_StopsOnEmptyPage(t *testing.T) {
	// The source over-reports its total.
	src := &stubSource{records: makeRecords(4), total: 50}
	walker := NewWalker(src, &countingLimiter{budget: 100}, 4)

	stats, err := walker.Walk(context.Background(), testQuery, func([]entity.RawRecord) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Calls != 2 || stats.Records != 4 || stats.Stopped != StopEmptyPage {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestWalker_QuotaExhaustedBeforeCall(t *testing.T) {
	src := &stubSource{records: makeRecords(25), total: 25}
	walker := NewWalker(src, &countingLimiter{budget: 1}, 10)

	var batches [][]entity.RawRecord
	stats, err := walker.Walk(context.Background(), testQuery, collect(&batches))
	if !errors.Is(err, quota.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if len(src.calls) != 1 || stats.Calls != 1 {
		t.Fatalf("expected the refused call not to be issued, got %d calls", len(src.calls))
	}
}

func TestWalker_QuotaStoreError(t *testing.T) {
	src := &stubSource{records: makeRecords(1), total: 1}
	walker := NewWalker(src, &countingLimiter{err: errors.New("disk full")}, 10)

	if _, err := walker.Walk(context.Background(), testQuery, collect(new([][]entity.RawRecord))); err == nil {
		t.Fatalf("expected quota store error")
	}
	if len(src.calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(src.calls))
	}
}

func TestWalker_PageErrorKeepsEarlierPages(t *testing.T) {
	src := &stubSource{records: makeRecords(25), total: 25, failAt: 2}
	walker := NewWalker(src, &countingLimiter{budget: 100}, 10)

	var batches [][]entity.RawRecord
	stats, err := walker.Walk(context.Background(), testQuery, collect(&batches))
	if err != nil {
		t.Fatalf("expected page errors to be non-fatal, got %v", err)
	}
	if stats.Stopped != StopPageError || stats.PageErr == nil {
		t.Fatalf("expected page error stop, got %+v", stats)
	}
	if len(batches) != 1 || stats.Records != 10 || stats.Calls != 2 {
		t.Fatalf("unexpected progress: batches=%d stats=%+v", len(batches), stats)
	}
}

func TestWalker_HandlerErrorAborts(t *testing.T) {
	src := &stubSource{records: makeRecords(25), total: 25}
	walker := NewWalker(src, &countingLimiter{budget: 100}, 10)

	boom := errors.New("boom")
	_, err := walker.Walk(context.Background(), testQuery, func([]entity.RawRecord) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if len(src.calls) != 1 {
		t.Fatalf("expected walk to stop after the failing batch, got %d calls", len(src.calls))
	}
}

func TestWalker_WaiterCancellation(t *testing.T) {
	src := &stubSource{records: makeRecords(25), total: 25}
	waiter := &countingWaiter{err: context.Canceled}
	walker := NewWalker(src, &countingLimiter{budget: 100}, 10, WithPageWaiter(waiter))

	_, err := walker.Walk(context.Background(), testQuery, func([]entity.RawRecord) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(src.calls) != 1 {
		t.Fatalf("expected one call before the interrupted pause, got %d", len(src.calls))
	}
}
