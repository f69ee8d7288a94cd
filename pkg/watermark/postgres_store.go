package watermark

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// PostgresStore keeps watermarks in a Postgres table keyed by stream and
// tenant.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
	owned bool
}

// NewPostgresStore creates the table if needed. When owned is true Close
// also closes the pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, table string, owned bool) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		owned: owned,
	}
	if _, err := pool.Exec(ctx, s.createTableSQL()); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to create watermark table")
	}
	return s, nil
}

func (s *PostgresStore) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  stream text NOT NULL,
  tenant text NOT NULL DEFAULT '',
  value text NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (stream, tenant)
)`, s.table)
}

// Load returns all watermarks stored for stream.
func (s *PostgresStore) Load(ctx context.Context, stream string) (core.Watermarks, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT tenant, value FROM %s WHERE stream = $1`, s.table), stream)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to load watermarks")
	}
	defer rows.Close()

	out := make(core.Watermarks)
	for rows.Next() {
		var tenant, value string
		if err := rows.Scan(&tenant, &value); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to scan watermark")
		}
		out[tenant] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to load watermarks")
	}
	return out, nil
}

// Save upserts value inside a transaction that locks the current row, so
// the monotonic check and the write see the same state.
func (s *PostgresStore) Save(ctx context.Context, key Key, value string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var current string
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE stream = $1 AND tenant = $2 FOR UPDATE`, s.table),
		key.Stream, key.Tenant).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return errors.Wrap(err, errors.ErrorTypeState, "failed to read watermark")
	case Compare(value, current) <= 0:
		return nil
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (stream, tenant, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (stream, tenant) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, s.table),
		key.Stream, key.Tenant, value)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to save watermark")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to commit watermark")
	}
	return nil
}

// Close releases the pool if the store owns it.
func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
