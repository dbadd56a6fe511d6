package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/octobees/vcardsync/internal/dto"
	"github.com/octobees/vcardsync/internal/entity"
)

// ContactsRepository mirrors snapshot contacts into a database.
type ContactsRepository interface {
	BulkUpsertContacts(ctx context.Context, query dto.SearchQuery, contacts []entity.Contact) (BulkUpsertResult, error)
}

// BulkUpsertResult summarises the number of rows inserted or updated.
type BulkUpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Total    int `json:"total"`
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var _ pgxPool = (*pgxpool.Pool)(nil)

// PGXContactsRepository implements ContactsRepository using pgx.
type PGXContactsRepository struct {
	pool pgxPool
}

// NewPGXContactsRepository wires a pgx backed repository.
func NewPGXContactsRepository(pool *pgxpool.Pool) *PGXContactsRepository {
	return &PGXContactsRepository{pool: pool}
}

var _ ContactsRepository = (*PGXContactsRepository)(nil)

const createContactsTableSQL = `
	CREATE TABLE IF NOT EXISTS contacts (
		search_term TEXT NOT NULL,
		location TEXT NOT NULL,
		external_id TEXT NOT NULL,
		source_updated_at TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		phones TEXT[] NOT NULL DEFAULT '{}',
		email TEXT,
		vcard_path TEXT,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (search_term, location, external_id)
	)
`

// EnsureSchema creates the contacts table when it does not exist yet.
func (r *PGXContactsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createContactsTableSQL); err != nil {
		return fmt.Errorf("create contacts table: %w", err)
	}
	return nil
}

const bulkUpsertContactSQL = `
        INSERT INTO contacts (
            search_term, location, external_id, source_updated_at, company,
            first_name, last_name, address, phones, email, vcard_path
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (search_term, location, external_id) DO UPDATE SET
            source_updated_at = EXCLUDED.source_updated_at,
            company = EXCLUDED.company,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            address = EXCLUDED.address,
            phones = EXCLUDED.phones,
            email = EXCLUDED.email,
            vcard_path = EXCLUDED.vcard_path,
            synced_at = NOW()
        RETURNING xmax = 0;
    `

// BulkUpsertContacts persists the contacts of one query in a single transaction.
func (r *PGXContactsRepository) BulkUpsertContacts(ctx context.Context, query dto.SearchQuery, contacts []entity.Contact) (BulkUpsertResult, error) {
	var result BulkUpsertResult
	if len(contacts) == 0 {
		return result, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("start bulk upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range contacts {
		var inserted bool
		err := tx.QueryRow(ctx, bulkUpsertContactSQL,
			query.Term,
			query.Location,
			c.ID,
			c.UpdatedAt,
			c.Company,
			c.FirstName,
			c.LastName,
			c.Address,
			stringSliceOrEmpty(c.Phones),
			stringOrNil(c.Email),
			stringOrNil(c.AttachmentPath),
		).Scan(&inserted)
		if err != nil {
			return result, fmt.Errorf("bulk upsert contact %q: %w", c.ID, err)
		}

		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
		result.Total++
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit bulk upsert tx: %w", err)
	}

	return result, nil
}

func stringSliceOrEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func stringOrNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}
