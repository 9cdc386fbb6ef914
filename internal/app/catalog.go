package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rpattn/patchhistory/internal/config"
	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/history"
	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/repository"
)

// ErrUnknownCollection is returned for a collection that is not tracked.
var ErrUnknownCollection = errors.New("unknown collection")

// Entry is one tracked collection.
type Entry struct {
	Model   *odm.Model
	Tracker *history.Tracker
}

// Catalog indexes tracked collections by store collection name.
type Catalog struct {
	conn    *odm.Connection
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewCatalog(conn *odm.Connection, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{conn: conn, logger: logger, entries: map[string]*Entry{}}
}

// Build registers every configured collection and creates the declared
// indexes.
func Build(ctx context.Context, conn *odm.Connection, collections []config.CollectionConfig, logger *slog.Logger) (*Catalog, error) {
	catalog := NewCatalog(conn, logger)
	for _, cfg := range collections {
		if _, err := catalog.Register(cfg); err != nil {
			return nil, err
		}
	}
	if err := conn.SyncIndexes(ctx); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Register builds the schema of a configured collection, attaches patch
// history to it and registers its model.
func (c *Catalog) Register(cfg config.CollectionConfig) (*Entry, error) {
	var schemaOpts []odm.SchemaOption
	if cfg.Timestamps {
		schemaOpts = append(schemaOpts, odm.WithTimestamps())
	}
	if cfg.Strict {
		schemaOpts = append(schemaOpts, odm.WithStrict())
	}
	schema, err := odm.NewSchema(cfg.Fields, schemaOpts...)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
	}

	historyName := cfg.History.Name
	if historyName == "" {
		historyName = odm.LowerFirst(cfg.Name) + "Patches"
	}
	includes := make([]history.Include, len(cfg.History.Includes))
	for i, include := range cfg.History.Includes {
		includes[i] = history.Include{
			Field: domain.FieldDefinition{Name: include.Name, Type: include.Type, Required: include.Required},
			From:  include.From,
		}
	}
	tracker, err := history.Attach(schema, history.Config{
		Connection:    c.conn,
		Name:          historyName,
		SchemaFactory: odm.NewSchema,
	},
		history.WithRemovePatches(cfg.History.RemovePatchesEnabled()),
		history.WithTrackOriginalValue(cfg.History.TrackOriginalValue),
		history.WithIncludes(includes...),
		history.WithLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
	}

	var modelOpts []odm.ModelOption
	if cfg.Collection != "" {
		modelOpts = append(modelOpts, odm.WithCollection(cfg.Collection))
	}
	model, err := c.conn.Model(cfg.Name, schema, modelOpts...)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
	}

	entry := &Entry{Model: model, Tracker: tracker}
	c.mu.Lock()
	c.entries[model.Collection().Name()] = entry
	c.mu.Unlock()

	c.logger.Info("tracking collection",
		"model", model.Name(),
		"collection", model.Collection().Name(),
		"patch_model", tracker.Name(),
	)
	return entry, nil
}

// Lookup finds a tracked collection by store collection name.
func (c *Catalog) Lookup(collection string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return entry, nil
}

// Patches returns the patch repository of a tracked collection.
func (c *Catalog) Patches(collection string) (repository.PatchRepository, bool) {
	entry, err := c.Lookup(collection)
	if err != nil {
		return nil, false
	}
	return entry.Tracker.Patches(), true
}

// Collections lists the tracked collection names, sorted.
func (c *Catalog) Collections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseID converts a textual identity to the store's native form.
func (c *Catalog) ParseID(raw string) (any, error) {
	return c.conn.Store().ParseID(raw)
}

// Connection returns the document connection.
func (c *Catalog) Connection() *odm.Connection {
	return c.conn
}

// Tracker returns the patch history tracker of a tracked collection.
func (c *Catalog) Tracker(collection string) (*history.Tracker, error) {
	entry, err := c.Lookup(collection)
	if err != nil {
		return nil, err
	}
	return entry.Tracker, nil
}
