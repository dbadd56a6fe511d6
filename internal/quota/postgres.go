package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var _ pgxPool = (*pgxpool.Pool)(nil)

// PostgresStore keeps one Usage row per month in PostgreSQL.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgresStore creates the quota table if needed.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	return newPostgresStore(ctx, pool)
}

func newPostgresStore(ctx context.Context, pool pgxPool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, createQuotaTableSQL); err != nil {
		return nil, fmt.Errorf("create api_quota table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

var _ Store = (*PostgresStore)(nil)

// Update implements Store. The latest row is locked for the duration of fn.
func (s *PostgresStore) Update(ctx context.Context, fn func(u *Usage) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var usage Usage
	err = tx.QueryRow(ctx, `SELECT month, calls FROM api_quota ORDER BY month DESC LIMIT 1 FOR UPDATE`).
		Scan(&usage.Month, &usage.Calls)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("select quota: %w", err)
	}

	if err := fn(&usage); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO api_quota (month, calls) VALUES ($1, $2)
		ON CONFLICT (month) DO UPDATE SET calls = EXCLUDED.calls
	`, usage.Month, usage.Calls)
	if err != nil {
		return fmt.Errorf("save quota: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit quota tx: %w", err)
	}
	return nil
}
