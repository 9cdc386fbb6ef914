package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/patchhistory/internal/app"
	"github.com/rpattn/patchhistory/internal/config"
	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/store"
)

type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "patchhistory",
		Short: "Serve and inspect the patch history of tracked document collections",
		Long: `patchhistory records every change to tracked documents as a JSON Patch
and serves the resulting histories over HTTP.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", ".", "config.yaml file or the directory containing it")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newHistoryCmd(opts),
		newStateCmd(opts),
		newExportCmd(opts),
	)
	return rootCmd
}

// load reads the configuration and installs the default logger.
func (o *options) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// bootstrap opens the store and registers the tracked collections. The
// caller closes the returned store.
func (o *options) bootstrap(ctx context.Context, cmd *cobra.Command) (config.Config, *app.Catalog, store.Store, error) {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	s, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	catalog, err := app.Build(ctx, odm.NewConnection(s), cfg.Collections, logger)
	if err != nil {
		_ = s.Close(ctx)
		return config.Config{}, nil, nil, err
	}
	return cfg, catalog, s, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func closeStore(ctx context.Context, s store.Store) {
	if err := s.Close(ctx); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}
