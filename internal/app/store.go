// Package app assembles the configured store, the tracked models and their
// patch histories.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rpattn/patchhistory/internal/config"
	"github.com/rpattn/patchhistory/internal/db"
	"github.com/rpattn/patchhistory/internal/store"
	"github.com/rpattn/patchhistory/internal/store/memstore"
	"github.com/rpattn/patchhistory/internal/store/mongostore"
	"github.com/rpattn/patchhistory/internal/store/pgstore"
)

// OpenStore connects the configured backend. Postgres migrations run first
// when enabled.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		slog.Info("using in-memory store")
		return memstore.New(), nil

	case config.BackendMongo:
		s, err := mongostore.Connect(ctx, mongostore.Config{
			URI:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("connected to mongo", "database", cfg.Mongo.Database)
		return s, nil

	case config.BackendPostgres:
		if cfg.Postgres.Migrate {
			if err := db.RunMigrations(cfg.Postgres.Config); err != nil {
				return nil, err
			}
		}
		conn, err := db.NewConnection(ctx, cfg.Postgres.Config)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to postgres", "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName)
		return pgstore.New(conn), nil
	}
	return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
}
