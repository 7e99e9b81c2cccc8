package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/auth"
	"github.com/wolfeidau/portcullis/internal/login"
	"github.com/wolfeidau/portcullis/internal/session"
	postgresstore "github.com/wolfeidau/portcullis/internal/store/postgres"
)

type SeedCmd struct {
	Catalog string `help:"path to a role catalog YAML file, the built-in catalog is used when unset" default:"" env:"PORTCULLIS_CATALOG"`

	AdminUsername string `help:"create an admin with this username" env:"PORTCULLIS_ADMIN_USERNAME"`
	AdminEmail    string `help:"email of the admin" env:"PORTCULLIS_ADMIN_EMAIL"`
	AdminPassword string `help:"password of the admin" env:"PORTCULLIS_ADMIN_PASSWORD"`
	AdminRole     string `help:"role granted to the admin" default:"admin"`

	Postgres PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *SeedCmd) Validate() error {
	if c.AdminUsername != "" && (c.AdminEmail == "" || c.AdminPassword == "") {
		return errors.New("--admin-email and --admin-password are required with --admin-username")
	}
	return nil
}

func (c *SeedCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.Postgres.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	stores := postgresstore.NewStores(pool)

	catalog, err := loadCatalog(c.Catalog)
	if err != nil {
		return fmt.Errorf("failed to load role catalog: %w", err)
	}
	if err := catalog.Apply(ctx, stores.RBAC); err != nil {
		return fmt.Errorf("failed to apply role catalog: %w", err)
	}
	log.Info().Int("roles", len(catalog.Roles)).Msg("Role catalog applied")

	if c.AdminUsername == "" {
		return nil
	}

	// seeding never touches cookies, so the manager gets no cookie store
	service, err := login.NewService(login.ServiceConfig{
		Stores:   stores,
		Sessions: session.NewManager(stores.Sessions, nil, session.Config{}),
		Authz:    auth.NewAuthorizer(stores.RBAC),
		Catalog:  catalog,
	})
	if err != nil {
		return err
	}

	personID, err := service.CreateAccount(ctx, login.SignupInput{
		Email:    c.AdminEmail,
		Username: c.AdminUsername,
		Password: c.AdminPassword,
	}, c.AdminRole)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	log.Info().Str("person_id", personID.String()).Str("username", c.AdminUsername).Msg("Admin created")
	return nil
}
