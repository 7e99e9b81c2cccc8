package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds configuration for the PostgreSQL identity stores.
type Config struct {
	Pool PoolConfig

	// AutoMigrate runs pending migrations when the stores are opened.
	AutoMigrate bool
}

// Open creates the connection pool and, when enabled, migrates the schema.
// The caller owns the returned pool and must close it.
func Open(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	pool, err := NewPool(ctx, &cfg.Pool)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return pool, nil
}
