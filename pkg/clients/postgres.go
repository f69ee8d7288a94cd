package clients

import (
	"context"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tidemark/pkg/errors"
)

// PostgresPoolConfig configures NewPostgresPool.
type PostgresPoolConfig struct {
	DSN            string
	MaxConns       int32
	MaxLifetime    time.Duration
	ConnectTimeout time.Duration
}

// NewPostgresPool parses the DSN, opens a pool and checks it with a ping
// query before returning.
func NewPostgresPool(ctx context.Context, cfg PostgresPoolConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse PostgreSQL connection string")
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create PostgreSQL connection pool")
	}

	var one int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "health check query failed")
	}

	logger.Info("PostgreSQL connection pool created",
		zap.String("connection_string", ObfuscateDSN(cfg.DSN)),
		zap.Int32("max_connections", poolConfig.MaxConns))

	return pool, nil
}

// ObfuscateDSN masks the password of a URL-style DSN for logging.
func ObfuscateDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
