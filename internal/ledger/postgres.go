// File: internal/ledger/postgres.go
package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
)

// PgxIface is the subset of pgxpool.Pool the store needs. Declared as an
// interface so tests can substitute pgxmock.
type PgxIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore persists usage records in a resource_ledger table. Suited to
// deployments where several operators share one phone pool; the upsert plus
// the primary key give the same per-resource serialization the file store
// gets from its lock file.
type PostgresStore struct {
	db       PgxIface
	platform schemas.Platform
}

// NewPostgresStore connects a store to an existing pool.
func NewPostgresStore(db PgxIface, platform schemas.Platform) *PostgresStore {
	return &PostgresStore{db: db, platform: platform}
}

// Connect dials postgres and ensures the ledger schema exists.
func Connect(ctx context.Context, url string, platform schemas.Platform) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	s := NewPostgresStore(pool, platform)
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS resource_ledger (
			platform TEXT NOT NULL,
			number   TEXT NOT NULL,
			state    TEXT NOT NULL,
			used_at  TIMESTAMPTZ NOT NULL,
			success  BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (platform, number)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure resource_ledger schema: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context) (map[string]schemas.UsageRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT number, state, used_at, success
		FROM resource_ledger WHERE platform = $1;
	`, string(s.platform))
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger records: %w", err)
	}
	defer rows.Close()

	recs := make(map[string]schemas.UsageRecord)
	for rows.Next() {
		rec := schemas.UsageRecord{Platform: s.platform}
		var state string
		if err := rows.Scan(&rec.Number, &state, &rec.UsedAt, &rec.Success); err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		rec.State = schemas.ResourceState(state)
		recs[rec.Number] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger row iteration failed: %w", err)
	}
	return recs, nil
}

// Save implements Store via upsert, keyed by (platform, number).
func (s *PostgresStore) Save(ctx context.Context, rec schemas.UsageRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO resource_ledger (platform, number, state, used_at, success)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (platform, number) DO UPDATE SET
			state = EXCLUDED.state,
			used_at = EXCLUDED.used_at,
			success = EXCLUDED.success;
	`, string(rec.Platform), rec.Number, string(rec.State), rec.UsedAt, rec.Success)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger record for %s: %w", rec.Number, err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() { s.db.Close() }
