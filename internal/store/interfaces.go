// Package store defines the document store contract used by the document
// mapper. Documents, filters and updates use the MongoDB query dialect
// expressed as plain maps.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a single-document operation matches nothing.
var ErrNotFound = errors.New("document not found")

// Document is a raw stored document. The identity lives under "_id".
type Document = map[string]any

// Filter selects documents, e.g. {"title": "A", "_id": {"$in": [...]}}.
type Filter = map[string]any

// Update is either an operator document ({"$set": {...}}) or a replacement.
type Update = map[string]any

// UpdateResult reports the outcome of an update operation.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    any
}

// Upserted reports whether the update inserted a new document.
func (r UpdateResult) Upserted() bool {
	return r.UpsertedID != nil
}

// SortField orders query results.
type SortField struct {
	Field      string
	Descending bool
}

// FindOptions tune Find.
type FindOptions struct {
	Sort  []SortField
	Limit int64
}

// FindOneAndUpdateOptions tune FindOneAndUpdate.
type FindOneAndUpdateOptions struct {
	Upsert      bool
	ReturnAfter bool
}

// Store is a handle on a document database.
type Store interface {
	Collection(name string) Collection
	// NewID returns a fresh store-native identity.
	NewID() any
	// ParseID converts the textual form of an identity back to its native form.
	ParseID(raw string) (any, error)
	Close(ctx context.Context) error
}

// Collection is a named set of documents.
type Collection interface {
	Name() string
	InsertOne(ctx context.Context, doc Document) error
	ReplaceOne(ctx context.Context, id any, doc Document) error
	FindOne(ctx context.Context, filter Filter) (Document, error)
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	UpdateOne(ctx context.Context, filter Filter, update Update, upsert bool) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter Filter, update Update, upsert bool) (UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter Filter, update Update, opts FindOneAndUpdateOptions) (Document, error)
	DeleteOne(ctx context.Context, filter Filter) (int64, error)
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
	FindOneAndDelete(ctx context.Context, filter Filter) (Document, error)
	EnsureIndex(ctx context.Context, field string) error
}
