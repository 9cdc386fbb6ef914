// Package memstore is an in-memory document store. Documents are deep-copied
// on the way in and out, so callers never share state with the store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rpattn/patchhistory/internal/store"
	"github.com/rpattn/patchhistory/internal/store/query"
)

// Store keeps collections in memory. Identities are uuid.UUID values.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Collection returns the named collection, creating it on first use.
func (s *Store) Collection(name string) store.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &collection{name: name, indexes: map[string]struct{}{}}
		s.collections[name] = c
	}
	return c
}

// NewID returns a random UUID.
func (s *Store) NewID() any {
	return uuid.New()
}

// ParseID parses a UUID string.
func (s *Store) ParseID(raw string) (any, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", raw, err)
	}
	return id, nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error {
	return nil
}

type collection struct {
	mu      sync.RWMutex
	name    string
	docs    []store.Document
	indexes map[string]struct{}
}

func (c *collection) Name() string {
	return c.name
}

func (c *collection) InsertOne(_ context.Context, doc store.Document) error {
	if _, ok := doc["_id"]; !ok {
		return fmt.Errorf("failed to insert into %s: document has no _id", c.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(doc["_id"]) >= 0 {
		return fmt.Errorf("failed to insert into %s: duplicate _id %v", c.name, doc["_id"])
	}
	c.docs = append(c.docs, query.Clone(doc))
	return nil
}

func (c *collection) ReplaceOne(_ context.Context, id any, doc store.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return store.ErrNotFound
	}
	replacement := query.Clone(doc)
	replacement["_id"] = c.docs[idx]["_id"]
	c.docs[idx] = replacement
	return nil
}

func (c *collection) FindOne(_ context.Context, filter store.Filter) (store.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, err := c.firstMatch(filter)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	return query.Clone(c.docs[idx]), nil
}

func (c *collection) Find(_ context.Context, filter store.Filter, opts store.FindOptions) ([]store.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []store.Document
	for _, doc := range c.docs {
		ok, err := query.Match(doc, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
		}
		if ok {
			out = append(out, query.Clone(doc))
		}
	}
	query.Sort(out, sortKeys(opts.Sort))
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (c *collection) Count(ctx context.Context, filter store.Filter) (int64, error) {
	docs, err := c.Find(ctx, filter, store.FindOptions{})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (c *collection) UpdateOne(_ context.Context, filter store.Filter, update store.Update, upsert bool) (store.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.firstMatch(filter)
	if err != nil {
		return store.UpdateResult{}, err
	}
	if idx < 0 {
		if !upsert {
			return store.UpdateResult{}, nil
		}
		id, err := c.upsertLocked(filter, update)
		if err != nil {
			return store.UpdateResult{}, err
		}
		return store.UpdateResult{UpsertedID: id}, nil
	}
	modified, err := c.updateAtLocked(idx, update)
	if err != nil {
		return store.UpdateResult{}, err
	}
	result := store.UpdateResult{MatchedCount: 1}
	if modified {
		result.ModifiedCount = 1
	}
	return result, nil
}

func (c *collection) UpdateMany(_ context.Context, filter store.Filter, update store.Update, upsert bool) (store.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []int
	for i, doc := range c.docs {
		ok, err := query.Match(doc, filter)
		if err != nil {
			return store.UpdateResult{}, fmt.Errorf("failed to query %s: %w", c.name, err)
		}
		if ok {
			matched = append(matched, i)
		}
	}
	if len(matched) == 0 {
		if !upsert {
			return store.UpdateResult{}, nil
		}
		id, err := c.upsertLocked(filter, update)
		if err != nil {
			return store.UpdateResult{}, err
		}
		return store.UpdateResult{UpsertedID: id}, nil
	}
	result := store.UpdateResult{MatchedCount: int64(len(matched))}
	for _, idx := range matched {
		modified, err := c.updateAtLocked(idx, update)
		if err != nil {
			return result, err
		}
		if modified {
			result.ModifiedCount++
		}
	}
	return result, nil
}

func (c *collection) FindOneAndUpdate(_ context.Context, filter store.Filter, update store.Update, opts store.FindOneAndUpdateOptions) (store.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.firstMatch(filter)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		if !opts.Upsert {
			return nil, store.ErrNotFound
		}
		id, err := c.upsertLocked(filter, update)
		if err != nil {
			return nil, err
		}
		if !opts.ReturnAfter {
			return nil, store.ErrNotFound
		}
		return query.Clone(c.docs[c.indexOf(id)]), nil
	}
	before := query.Clone(c.docs[idx])
	if _, err := c.updateAtLocked(idx, update); err != nil {
		return nil, err
	}
	if opts.ReturnAfter {
		return query.Clone(c.docs[idx]), nil
	}
	return before, nil
}

func (c *collection) DeleteOne(_ context.Context, filter store.Filter) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.firstMatch(filter)
	if err != nil || idx < 0 {
		return 0, err
	}
	c.docs = append(c.docs[:idx], c.docs[idx+1:]...)
	return 1, nil
}

func (c *collection) DeleteMany(_ context.Context, filter store.Filter) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	var deleted int64
	for _, doc := range c.docs {
		ok, err := query.Match(doc, filter)
		if err != nil {
			return deleted, fmt.Errorf("failed to query %s: %w", c.name, err)
		}
		if ok {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return deleted, nil
}

func (c *collection) FindOneAndDelete(_ context.Context, filter store.Filter) (store.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.firstMatch(filter)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	doc := c.docs[idx]
	c.docs = append(c.docs[:idx], c.docs[idx+1:]...)
	return doc, nil
}

// EnsureIndex records the index. Lookups stay linear scans.
func (c *collection) EnsureIndex(_ context.Context, field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[field] = struct{}{}
	return nil
}

// Indexes lists the indexed fields, for tests.
func (c *collection) Indexes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.indexes))
	for field := range c.indexes {
		out = append(out, field)
	}
	return out
}

func (c *collection) firstMatch(filter store.Filter) (int, error) {
	for i, doc := range c.docs {
		ok, err := query.Match(doc, filter)
		if err != nil {
			return -1, fmt.Errorf("failed to query %s: %w", c.name, err)
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

func (c *collection) indexOf(id any) int {
	for i, doc := range c.docs {
		if query.Equal(doc["_id"], id) {
			return i
		}
	}
	return -1
}

func (c *collection) updateAtLocked(idx int, update store.Update) (bool, error) {
	current := c.docs[idx]
	next, err := query.Apply(current, update, false)
	if err != nil {
		return false, fmt.Errorf("failed to update %s: %w", c.name, err)
	}
	if query.Equal(current, next) {
		return false, nil
	}
	c.docs[idx] = next
	return true, nil
}

func (c *collection) upsertLocked(filter store.Filter, update store.Update) (any, error) {
	seed := query.UpsertSeed(filter)
	doc, err := query.Apply(seed, update, true)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert into %s: %w", c.name, err)
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = uuid.New()
	}
	c.docs = append(c.docs, doc)
	return doc["_id"], nil
}

func sortKeys(fields []store.SortField) []query.SortKey {
	keys := make([]query.SortKey, len(fields))
	for i, field := range fields {
		keys[i] = query.SortKey{Field: field.Field, Descending: field.Descending}
	}
	return keys
}
