package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/octobees/vcardsync/internal/config"
	"github.com/octobees/vcardsync/internal/repository"
	"github.com/octobees/vcardsync/internal/service"
	"github.com/octobees/vcardsync/internal/source"
)

func TestResolveQuery(t *testing.T) {
	tests := map[string]struct {
		args   []string
		input  string
		want   string
		wantLo string
		err    bool
	}{
		"both args":        {args: []string{" Metallbau ", "AG"}, want: "Metallbau", wantLo: "AG"},
		"term only":        {args: []string{"maler"}, input: "ZH\n", want: "maler", wantLo: "ZH"},
		"prompt both":      {input: "schreiner\nBE\n", want: "schreiner", wantLo: "BE"},
		"no trailing line": {input: "schreiner", want: "schreiner"},
		"empty term":       {input: "\n\n", err: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			q, err := resolveQuery(strings.NewReader(tt.input), &out, tt.args)
			if tt.err {
				if !errors.Is(err, service.ErrEmptyQuery) {
					t.Fatalf("expected ErrEmptyQuery, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Term != tt.want || q.Location != tt.wantLo {
				t.Fatalf("unexpected query: %+v", q)
			}
		})
	}
}

func TestResolveQuery_PromptsOnlyForMissing(t *testing.T) {
	var out bytes.Buffer
	if _, err := resolveQuery(strings.NewReader(""), &out, []string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no prompt, got %q", out.String())
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OUTPUT_DIR", t.TempDir())
	t.Setenv("QUOTA_FILE", filepath.Join(t.TempDir(), "quota.json"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestApp_SourceSelection(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(cfg, zap.NewNop())
	defer a.Close()

	src, err := a.Source()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*source.APISource); !ok {
		t.Fatalf("expected api source by default, got %T", src)
	}

	cfg.Source = config.SourceWeb
	src, err = a.Source()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := src.(*source.WebSource); !ok {
		t.Fatalf("expected web source, got %T", src)
	}
}

func TestApp_FileLimiterStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quota.Limit = 3
	a := newApp(cfg, zap.NewNop())
	defer a.Close()

	limiter, err := a.Limiter(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, err := limiter.TryConsume(context.Background()); err != nil || !ok {
		t.Fatalf("expected call allowed, got ok=%v err=%v", ok, err)
	}
	usage, remaining, err := limiter.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Calls != 1 || remaining != 2 {
		t.Fatalf("unexpected status: %+v remaining=%d", usage, remaining)
	}
}

func TestApp_SQLiteLimiter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quota.Backend = config.QuotaBackendSQLite
	cfg.Quota.SQLitePath = filepath.Join(t.TempDir(), "vcardsync.db")
	a := newApp(cfg, zap.NewNop())
	defer a.Close()

	limiter, err := a.Limiter(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, err := limiter.TryConsume(context.Background()); err != nil || !ok {
		t.Fatalf("expected call allowed, got ok=%v err=%v", ok, err)
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, service.RunSummary{
		RunID:     "run-1",
		Decisions: map[service.Decision]int{service.DecisionInserted: 2, service.DecisionRepaired: 1},
		Snapshot:  repository.WriteSummary{Total: 5, WithEmail: 3, WithoutEmail: 2, MasterPath: "out/csv/results_master.csv"},
		Mirror:    &repository.BulkUpsertResult{Inserted: 5},
	})
	text := out.String()
	for _, want := range []string{"run-1", "5 (3 with email, 2 without)", "results_master.csv", "5 inserted"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in summary:\n%s", want, text)
		}
	}
}
