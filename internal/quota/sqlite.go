package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const createQuotaTableSQL = `
	CREATE TABLE IF NOT EXISTS api_quota (
		month TEXT PRIMARY KEY,
		calls INTEGER NOT NULL DEFAULT 0
	);
`

// SQLiteStore keeps one Usage row per month in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the quota table if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite handle is nil")
	}
	if _, err := db.ExecContext(ctx, createQuotaTableSQL); err != nil {
		return nil, fmt.Errorf("create api_quota table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, fn func(u *Usage) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback()

	var usage Usage
	err = tx.QueryRowContext(ctx, `SELECT month, calls FROM api_quota ORDER BY month DESC LIMIT 1`).
		Scan(&usage.Month, &usage.Calls)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("select quota: %w", err)
	}

	if err := fn(&usage); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO api_quota (month, calls) VALUES (?, ?)
		ON CONFLICT(month) DO UPDATE SET calls = excluded.calls
	`, usage.Month, usage.Calls)
	if err != nil {
		return fmt.Errorf("save quota: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quota tx: %w", err)
	}
	return nil
}
