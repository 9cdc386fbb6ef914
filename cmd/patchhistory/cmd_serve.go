package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rpattn/patchhistory/internal/config"
	"github.com/rpattn/patchhistory/internal/db"
	"github.com/rpattn/patchhistory/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the patch history HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, catalog, s, err := opts.bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore(cmd.Context(), s)

			if addr != "" {
				cfg.Server.Addr = addr
			}
			return server.New(cfg.Server, catalog, nil).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override the configured listen address")
	return cmd
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.BackendPostgres {
				return errors.New("migrate requires the postgres store backend")
			}
			return db.RunMigrations(cfg.Store.Postgres.Config)
		},
	}
}
