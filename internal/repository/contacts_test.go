package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
)

type stubPool struct {
	execSQL     string
	beginTxFunc func(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

func (s *stubPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.execSQL = sql
	return pgconn.CommandTag{}, nil
}

func (s *stubPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if s.beginTxFunc != nil {
		return s.beginTxFunc(ctx, txOptions)
	}
	return nil, errors.New("begin tx not implemented")
}

// stubTx answers every upsert with the next value of inserted.
type stubTx struct {
	pgx.Tx
	inserted  []bool
	args      [][]any
	failAt    int
	committed bool
}

func (s *stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	s.args = append(s.args, args)
	n := len(s.args)
	if s.failAt > 0 && n == s.failAt {
		return stubRow{err: errors.New("constraint violation")}
	}
	return stubRow{value: s.inserted[n-1]}
}

func (s *stubTx) Commit(ctx context.Context) error {
	s.committed = true
	return nil
}

func (s *stubTx) Rollback(ctx context.Context) error { return nil }

type stubRow struct {
	value bool
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.value
	return nil
}

func TestPGXContactsRepository_BulkUpsertEmpty(t *testing.T) {
	repo := &PGXContactsRepository{}
	res, err := repo.BulkUpsertContacts(context.Background(), dto.SearchQuery{Term: "x"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("expected zero summary, got %+v", res)
	}
}

func TestPGXContactsRepository_BulkUpsertContacts(t *testing.T) {
	tx := &stubTx{inserted: []bool{true, false}}
	repo := &PGXContactsRepository{pool: &stubPool{
		beginTxFunc: func(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) { return tx, nil },
	}}

	contacts := []entity.Contact{
		{ID: "a", Company: "Muster AG", Phones: []string{"+41441234567"}, Email: "info@muster.ch", AttachmentPath: "vcards_email/a.vcf"},
		{ID: "b", Company: "Beispiel GmbH"},
	}
	res, err := repo.BulkUpsertContacts(context.Background(), dto.SearchQuery{Term: "metallbau", Location: "AG"}, contacts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inserted != 1 || res.Updated != 1 || res.Total != 2 {
		t.Fatalf("unexpected summary: %+v", res)
	}
	if !tx.committed {
		t.Fatalf("expected transaction to be committed")
	}

	second := tx.args[1]
	if second[0] != "metallbau" || second[1] != "AG" || second[2] != "b" {
		t.Fatalf("unexpected key arguments: %v", second[:3])
	}
	if phones, ok := second[8].([]string); !ok || phones == nil || len(phones) != 0 {
		t.Fatalf("expected empty phone array, got %#v", second[8])
	}
	if second[9] != nil || second[10] != nil {
		t.Fatalf("expected NULL email and vcard_path, got %v %v", second[9], second[10])
	}
}

func TestPGXContactsRepository_BulkUpsertError(t *testing.T) {
	tx := &stubTx{inserted: []bool{true, true}, failAt: 2}
	repo := &PGXContactsRepository{pool: &stubPool{
		beginTxFunc: func(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) { return tx, nil },
	}}

	_, err := repo.BulkUpsertContacts(context.Background(), dto.SearchQuery{Term: "x"}, []entity.Contact{{ID: "a"}, {ID: "b"}})
	if err == nil || !strings.Contains(err.Error(), `"b"`) {
		t.Fatalf("expected error naming contact b, got %v", err)
	}
	if tx.committed {
		t.Fatalf("expected no commit after failure")
	}
}

func TestPGXContactsRepository_EnsureSchema(t *testing.T) {
	pool := &stubPool{}
	repo := &PGXContactsRepository{pool: pool}
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(pool.execSQL, "CREATE TABLE IF NOT EXISTS contacts") {
		t.Fatalf("unexpected schema statement: %s", pool.execSQL)
	}
}
