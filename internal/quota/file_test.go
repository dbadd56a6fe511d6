package quota

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "api_quota.json")
	clock := WithClock(fixedClock("2024-05-10T10:00:00Z"))

	first := NewMonthlyLimiter(NewFileStore(path), 3, clock)
	for i := 0; i < 2; i++ {
		if ok, err := first.TryConsume(context.Background()); err != nil || !ok {
			t.Fatalf("expected allowed, got ok=%v err=%v", ok, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read quota file: %v", err)
	}
	var usage Usage
	if err := json.Unmarshal(data, &usage); err != nil {
		t.Fatalf("decode quota file: %v", err)
	}
	if usage != (Usage{Month: "2024-05", Calls: 2}) {
		t.Fatalf("unexpected file content: %s", data)
	}

	second := NewMonthlyLimiter(NewFileStore(path), 3, clock)
	if ok, _ := second.TryConsume(context.Background()); !ok {
		t.Fatalf("expected third call allowed")
	}
	if ok, _ := second.TryConsume(context.Background()); ok {
		t.Fatalf("expected fourth call refused")
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_quota.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	limiter := NewMonthlyLimiter(NewFileStore(path), 3)
	if _, err := limiter.TryConsume(context.Background()); err == nil {
		t.Fatalf("expected error for corrupt quota file")
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewFileStore(filepath.Join(t.TempDir(), "api_quota.json"))
	if err := store.Update(ctx, func(u *Usage) error { return nil }); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
