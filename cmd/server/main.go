package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/cmd/server/internal/commands"
	"github.com/wolfeidau/portcullis/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Debug    bool             `help:"Enable debug mode." env:"PORTCULLIS_DEBUG"`
		Version  kong.VersionFlag
		Serve    commands.ServeCmd    `cmd:"" default:"withargs" help:"Start the auth server"`
		Migrate  commands.MigrateCmd  `cmd:"" help:"Apply or inspect database migrations"`
		Seed     commands.SeedCmd     `cmd:"" help:"Apply the role catalog and optionally create an admin"`
		Sessions commands.SessionsCmd `cmd:"" help:"Manage stored sessions and verifications"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("portcullis"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	// packages log through the global logger
	log.Logger = logger.Setup(cli.Debug)

	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
