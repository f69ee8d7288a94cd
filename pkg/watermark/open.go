package watermark

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/clients"
	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.StateConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case "", "file":
		return NewFileStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := clients.NewPostgresPool(ctx, clients.PostgresPoolConfig{DSN: cfg.DSN, MaxConns: 2}, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(ctx, pool, cfg.Table, true)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown state type %q", cfg.Type)
	}
}
