package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	postgresstore "github.com/wolfeidau/portcullis/internal/store/postgres"
)

type MigrateCmd struct {
	Status   bool               `help:"list migrations and whether they are applied instead of migrating"`
	Postgres PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	// migrations are explicit here, never implied by the flag
	c.Postgres.AutoMigrate = false

	pool, err := c.Postgres.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !c.Status {
		return postgresstore.Migrate(ctx, pool)
	}

	statuses, err := postgresstore.Status(ctx, pool)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%d\t%s\t%t\n", s.Version, s.Name, s.Applied)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	log.Debug().Int("migrations", len(statuses)).Msg("Listed migrations")
	return nil
}
