// Package postgres loads streams into Postgres tables holding one jsonb
// document per row. Merge streams upsert on the rendered primary key.
package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/clients"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
	"github.com/ajitpratap0/tidemark/pkg/logger"
)

// DestinationName is the registry name of the Postgres sink.
const DestinationName = "postgres"

// Sink writes pages in one transaction each.
type Sink struct {
	pool    *pgxpool.Pool
	schema  string
	created map[string]bool
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewSink connects to dsn and makes sure schema exists.
func NewSink(ctx context.Context, dsn, schema string) (*Sink, error) {
	log := logger.Get().With(zap.String("component", "postgres_sink"))
	pool, err := clients.NewPostgresPool(ctx, clients.PostgresPoolConfig{DSN: dsn, MaxConns: 4}, log)
	if err != nil {
		return nil, err
	}

	if schema == "" {
		schema = "public"
	}
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSink, "failed to create schema "+schema)
	}

	return &Sink{
		pool:    pool,
		schema:  schema,
		created: make(map[string]bool),
		logger:  log,
	}, nil
}

func (s *Sink) ident(stream *core.Stream) string {
	return pgx.Identifier{s.schema, stream.TableName()}.Sanitize()
}

// createTableSQL returns the DDL for a stream's table. Merge tables are keyed
// by the rendered primary key; append tables by a serial id.
func createTableSQL(ident string, mode core.WriteMode) string {
	key := "_id bigserial PRIMARY KEY"
	if mode == core.WriteModeMerge {
		key = "_key text PRIMARY KEY"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  %s,
  _tenant text NOT NULL DEFAULT '',
  _loaded_at timestamptz NOT NULL DEFAULT now(),
  data jsonb NOT NULL
)`, ident, key)
}

func insertSQL(ident string, mode core.WriteMode) string {
	if mode == core.WriteModeMerge {
		return fmt.Sprintf(`INSERT INTO %s (_key, _tenant, data) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (_key) DO UPDATE SET _tenant = EXCLUDED._tenant, _loaded_at = now(), data = EXCLUDED.data`, ident)
	}
	return fmt.Sprintf(`INSERT INTO %s (_tenant, data) VALUES ($1, $2::jsonb)`, ident)
}

// Write inserts or upserts every row of page atomically.
func (s *Sink) Write(ctx context.Context, stream *core.Stream, page core.Page) error {
	ident := s.ident(stream)
	if err := s.ensureTable(ctx, ident, stream.WriteMode); err != nil {
		return err
	}

	batch, err := buildBatch(stream, page, insertSQL(ident, stream.WriteMode))
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to write page").
			WithDetail("table", stream.TableName())
	}

	s.logger.Debug("page written",
		zap.String("table", stream.TableName()),
		zap.Int("rows", len(page.Rows)))
	return nil
}

func buildBatch(stream *core.Stream, page core.Page, sql string) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, row := range page.Rows {
		doc, err := jsonpkg.Marshal(row)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode row")
		}
		if stream.WriteMode == core.WriteModeMerge {
			key, err := stream.Key(row)
			if err != nil {
				return nil, err
			}
			batch.Queue(sql, key, page.Tenant, string(doc))
			continue
		}
		batch.Queue(sql, page.Tenant, string(doc))
	}
	return batch, nil
}

func (s *Sink) ensureTable(ctx context.Context, ident string, mode core.WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[ident] {
		return nil
	}
	if _, err := s.pool.Exec(ctx, createTableSQL(ident, mode)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSink, "failed to create table "+ident)
	}
	s.created[ident] = true
	return nil
}

// Pool exposes the sink's connection pool.
func (s *Sink) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool
func (s *Sink) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}
