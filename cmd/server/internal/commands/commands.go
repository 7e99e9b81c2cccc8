package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/auth"
	"github.com/wolfeidau/portcullis/internal/store"
	memorystore "github.com/wolfeidau/portcullis/internal/store/memory"
	postgresstore "github.com/wolfeidau/portcullis/internal/store/postgres"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

type StoreFlags struct {
	Type     string             `help:"store type (memory or postgres)" default:"memory" env:"PORTCULLIS_STORE_TYPE" enum:"memory,postgres"`
	Postgres PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"PORTCULLIS_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (s *PostgresStoreFlags) open(ctx context.Context) (*pgxpool.Pool, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	pool, err := postgresstore.Open(ctx, &postgresstore.Config{
		Pool: postgresstore.PoolConfig{
			ConnString:      s.ConnString,
			MaxConns:        s.MaxConns,
			MinConns:        s.MinConns,
			MaxConnLifetime: s.MaxConnLifetime,
			MaxConnIdleTime: s.MaxConnIdleTime,
		},
		AutoMigrate: s.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return pool, nil
}

// openStores returns the configured stores and a function releasing them.
func openStores(ctx context.Context, flags *StoreFlags) (store.Stores, func(), error) {
	switch flags.Type {
	case "postgres":
		pool, err := flags.Postgres.open(ctx)
		if err != nil {
			return store.Stores{}, nil, err
		}
		log.Info().Msg("Using PostgreSQL stores with shared connection pool")
		return postgresstore.NewStores(pool), pool.Close, nil
	default:
		log.Warn().Msg("Using in-memory stores, data is lost on restart")
		return memorystore.New().Stores(), func() {}, nil
	}
}

func loadCatalog(path string) (*auth.Catalog, error) {
	if path == "" {
		return auth.DefaultCatalog()
	}
	return auth.LoadCatalog(path)
}
