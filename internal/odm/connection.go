// Package odm is a small document mapper over the store contract: schemas
// with typed fields and registries of methods, statics and virtuals, models
// bound to collections, and an interceptor chain around every write.
package odm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rpattn/patchhistory/internal/store"
	"github.com/rpattn/patchhistory/pkg/validator"
)

// Connection is a registry of models sharing one store.
type Connection struct {
	store  store.Store
	mu     sync.RWMutex
	models map[string]*Model
	now    func() time.Time
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) ConnectionOption {
	return func(c *Connection) { c.now = now }
}

// NewConnection wraps a store.
func NewConnection(s store.Store, opts ...ConnectionOption) *Connection {
	c := &Connection{store: s, models: map[string]*Model{}, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying store.
func (c *Connection) Store() store.Store {
	return c.store
}

// ModelOption configures a model at registration.
type ModelOption func(*modelConfig)

type modelConfig struct {
	collection string
}

// WithCollection overrides the collection name, which otherwise is the model
// name with a lower-cased first character.
func WithCollection(name string) ModelOption {
	return func(c *modelConfig) { c.collection = name }
}

// Model registers a model. Names are unique per connection.
func (c *Connection) Model(name string, schema *Schema, opts ...ModelOption) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}
	if schema == nil {
		return nil, fmt.Errorf("model %s: schema cannot be nil", name)
	}
	cfg := modelConfig{collection: LowerFirst(name)}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrModelExists, name)
	}
	m := &Model{
		name:       name,
		schema:     schema,
		conn:       c,
		collection: c.store.Collection(cfg.collection),
		validator:  validator.NewDocumentValidator(schema.strict),
		now:        c.now,
	}
	c.models[name] = m
	return m, nil
}

// Lookup returns a registered model.
func (c *Connection) Lookup(name string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	return m, ok
}

// Models lists registered models by name.
func (c *Connection) Models() []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// SyncIndexes creates store indexes for every field declared with Index.
func (c *Connection) SyncIndexes(ctx context.Context) error {
	for _, m := range c.Models() {
		for _, field := range m.schema.fields {
			if !field.Index {
				continue
			}
			if err := m.collection.EnsureIndex(ctx, field.Name); err != nil {
				return fmt.Errorf("failed to sync indexes for %s: %w", m.name, err)
			}
		}
	}
	return nil
}

// LowerFirst lower-cases the first character of s.
func LowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// UpperFirst upper-cases the first character of s.
func UpperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
