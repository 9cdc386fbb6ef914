// Package mongostore backs the document store contract with MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rpattn/patchhistory/internal/store"
)

// Config holds MongoDB connection settings
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// Store wraps a MongoDB database. Identities are bson.ObjectID values.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &Store{client: client, db: client.Database(cfg.Database)}, nil
}

// Collection returns a handle on the named collection.
func (s *Store) Collection(name string) store.Collection {
	return &collection{coll: s.db.Collection(name)}
}

// NewID returns a fresh ObjectID.
func (s *Store) NewID() any {
	return bson.NewObjectID()
}

// ParseID parses a hex ObjectID.
func (s *Store) ParseID(raw string) (any, error) {
	id, err := bson.ObjectIDFromHex(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", raw, err)
	}
	return id, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type collection struct {
	coll *mongo.Collection
}

func (c *collection) Name() string {
	return c.coll.Name()
}

func (c *collection) InsertOne(ctx context.Context, doc store.Document) error {
	if _, err := c.coll.InsertOne(ctx, bson.M(doc)); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", c.Name(), err)
	}
	return nil
}

func (c *collection) ReplaceOne(ctx context.Context, id any, doc store.Document) error {
	replacement := bson.M{}
	for key, value := range doc {
		if key != "_id" {
			replacement[key] = value
		}
	}
	res, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, replacement)
	if err != nil {
		return fmt.Errorf("failed to replace in %s: %w", c.Name(), err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *collection) FindOne(ctx context.Context, filter store.Filter) (store.Document, error) {
	var raw bson.M
	if err := c.coll.FindOne(ctx, bson.M(filter)).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query %s: %w", c.Name(), err)
	}
	return normalizeDocument(raw), nil
}

func (c *collection) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]store.Document, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		sort := bson.D{}
		for _, field := range opts.Sort {
			direction := 1
			if field.Descending {
				direction = -1
			}
			sort = append(sort, bson.E{Key: field.Field, Value: direction})
		}
		// ObjectIDs grow monotonically, so ties keep insertion order
		sort = append(sort, bson.E{Key: "_id", Value: 1})
		findOpts.SetSort(sort)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	cur, err := c.coll.Find(ctx, bson.M(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.Name(), err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.Name(), err)
	}
	docs := make([]store.Document, len(raw))
	for i, item := range raw {
		docs[i] = normalizeDocument(item)
	}
	return docs, nil
}

func (c *collection) Count(ctx context.Context, filter store.Filter) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c.Name(), err)
	}
	return n, nil
}

func (c *collection) UpdateOne(ctx context.Context, filter store.Filter, update store.Update, upsert bool) (store.UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, bson.M(filter), bson.M(update), options.UpdateOne().SetUpsert(upsert))
	if err != nil {
		return store.UpdateResult{}, fmt.Errorf("failed to update %s: %w", c.Name(), err)
	}
	return toUpdateResult(res), nil
}

func (c *collection) UpdateMany(ctx context.Context, filter store.Filter, update store.Update, upsert bool) (store.UpdateResult, error) {
	res, err := c.coll.UpdateMany(ctx, bson.M(filter), bson.M(update), options.UpdateMany().SetUpsert(upsert))
	if err != nil {
		return store.UpdateResult{}, fmt.Errorf("failed to update %s: %w", c.Name(), err)
	}
	return toUpdateResult(res), nil
}

func (c *collection) FindOneAndUpdate(ctx context.Context, filter store.Filter, update store.Update, opts store.FindOneAndUpdateOptions) (store.Document, error) {
	findOpts := options.FindOneAndUpdate().SetUpsert(opts.Upsert)
	if opts.ReturnAfter {
		findOpts.SetReturnDocument(options.After)
	}
	var raw bson.M
	if err := c.coll.FindOneAndUpdate(ctx, bson.M(filter), bson.M(update), findOpts).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update %s: %w", c.Name(), err)
	}
	return normalizeDocument(raw), nil
}

func (c *collection) DeleteOne(ctx context.Context, filter store.Filter) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", c.Name(), err)
	}
	return res.DeletedCount, nil
}

func (c *collection) DeleteMany(ctx context.Context, filter store.Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", c.Name(), err)
	}
	return res.DeletedCount, nil
}

func (c *collection) FindOneAndDelete(ctx context.Context, filter store.Filter) (store.Document, error) {
	var raw bson.M
	if err := c.coll.FindOneAndDelete(ctx, bson.M(filter)).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete from %s: %w", c.Name(), err)
	}
	return normalizeDocument(raw), nil
}

func (c *collection) EnsureIndex(ctx context.Context, field string) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}})
	if err != nil {
		return fmt.Errorf("failed to create index %s on %s: %w", field, c.Name(), err)
	}
	return nil
}

func toUpdateResult(res *mongo.UpdateResult) store.UpdateResult {
	return store.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedID:    res.UpsertedID,
	}
}

// normalizeDocument converts driver container types into plain maps and
// slices so documents look the same regardless of backend.
func normalizeDocument(raw bson.M) store.Document {
	return normalizeValue(map[string]any(raw)).(map[string]any)
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case bson.M:
		return normalizeValue(map[string]any(typed))
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalizeValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(typed))
		for _, elem := range typed {
			out[elem.Key] = normalizeValue(elem.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case bson.DateTime:
		return typed.Time().UTC()
	case time.Time:
		return typed.UTC()
	case int32:
		return int64(typed)
	}
	return value
}
