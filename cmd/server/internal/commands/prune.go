package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/store"
	postgresstore "github.com/wolfeidau/portcullis/internal/store/postgres"
)

type SessionsCmd struct {
	Prune SessionsPruneCmd `cmd:"" help:"Delete expired sessions and verification codes"`
}

type SessionsPruneCmd struct {
	Postgres PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *SessionsPruneCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.Postgres.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	_, _, err = pruneExpired(ctx, postgresstore.NewStores(pool))
	return err
}

// pruneExpired deletes expired sessions and verification rows.
func pruneExpired(ctx context.Context, stores store.Stores) (int, int, error) {
	sessions, err := stores.Sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	verifications, err := stores.Verifications.DeleteExpired(ctx, time.Now())
	if err != nil {
		return sessions, 0, fmt.Errorf("failed to delete expired verifications: %w", err)
	}

	log.Info().Int("sessions", sessions).Int("verifications", verifications).Msg("Pruned expired rows")
	return sessions, verifications, nil
}

func runPruner(ctx context.Context, stores store.Stores, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := pruneExpired(ctx, stores); err != nil {
				log.Error().Err(err).Msg("Failed to prune expired rows")
			}
		}
	}
}
