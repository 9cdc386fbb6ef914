// Package pgstore stores documents as JSONB rows in PostgreSQL. Filters are
// narrowed in SQL with JSONB containment and then evaluated exactly with the
// shared query matcher; updates are read-modify-write inside a transaction
// holding row locks.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/patchhistory/internal/db"
	"github.com/rpattn/patchhistory/internal/store"
	"github.com/rpattn/patchhistory/internal/store/query"
)

// Store implements store.Store on the documents table. Identities are UUID
// strings.
type Store struct {
	conn *db.Connection
}

// New wraps an open connection. Run db.RunMigrations first.
func New(conn *db.Connection) *Store {
	return &Store{conn: conn}
}

// Collection returns a handle on the named collection.
func (s *Store) Collection(name string) store.Collection {
	return &collection{name: name, conn: s.conn}
}

// NewID returns a random UUID string.
func (s *Store) NewID() any {
	return uuid.NewString()
}

// ParseID validates and canonicalizes a UUID string.
func (s *Store) ParseID(raw string) (any, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", raw, err)
	}
	return id.String(), nil
}

// Close closes the pool.
func (s *Store) Close(context.Context) error {
	s.conn.Close()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type collection struct {
	name string
	conn *db.Connection
}

func (c *collection) Name() string {
	return c.name
}

func (c *collection) InsertOne(ctx context.Context, doc store.Document) error {
	return c.insert(ctx, c.conn.Pool, doc)
}

func (c *collection) ReplaceOne(ctx context.Context, id any, doc store.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	tag, err := c.conn.Pool.Exec(ctx,
		`UPDATE documents SET body = $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		c.name, idString(id), body)
	if err != nil {
		return fmt.Errorf("failed to replace document in %s: %w", c.name, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *collection) FindOne(ctx context.Context, filter store.Filter) (store.Document, error) {
	docs, err := c.match(ctx, c.conn.Pool, filter, false)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (c *collection) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]store.Document, error) {
	docs, err := c.match(ctx, c.conn.Pool, filter, false)
	if err != nil {
		return nil, err
	}
	keys := make([]query.SortKey, len(opts.Sort))
	for i, field := range opts.Sort {
		keys[i] = query.SortKey{Field: field.Field, Descending: field.Descending}
	}
	query.Sort(docs, keys)
	if opts.Limit > 0 && int64(len(docs)) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs, nil
}

func (c *collection) Count(ctx context.Context, filter store.Filter) (int64, error) {
	docs, err := c.match(ctx, c.conn.Pool, filter, false)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (c *collection) UpdateOne(ctx context.Context, filter store.Filter, update store.Update, upsert bool) (store.UpdateResult, error) {
	return c.update(ctx, filter, update, upsert, false)
}

func (c *collection) UpdateMany(ctx context.Context, filter store.Filter, update store.Update, upsert bool) (store.UpdateResult, error) {
	return c.update(ctx, filter, update, upsert, true)
}

func (c *collection) update(ctx context.Context, filter store.Filter, update store.Update, upsert, many bool) (store.UpdateResult, error) {
	normalizedUpdate, err := normalize(update)
	if err != nil {
		return store.UpdateResult{}, err
	}
	var result store.UpdateResult
	err = c.conn.WithTx(ctx, func(tx pgx.Tx) error {
		docs, err := c.match(ctx, tx, filter, true)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			if !upsert {
				return nil
			}
			id, err := c.upsert(ctx, tx, filter, normalizedUpdate)
			if err != nil {
				return err
			}
			result.UpsertedID = id
			return nil
		}
		if !many {
			docs = docs[:1]
		}
		result.MatchedCount = int64(len(docs))
		for _, doc := range docs {
			modified, _, err := c.applyAndWrite(ctx, tx, doc, normalizedUpdate)
			if err != nil {
				return err
			}
			if modified {
				result.ModifiedCount++
			}
		}
		return nil
	})
	if err != nil {
		return store.UpdateResult{}, err
	}
	return result, nil
}

func (c *collection) FindOneAndUpdate(ctx context.Context, filter store.Filter, update store.Update, opts store.FindOneAndUpdateOptions) (store.Document, error) {
	normalizedUpdate, err := normalize(update)
	if err != nil {
		return nil, err
	}
	var out store.Document
	err = c.conn.WithTx(ctx, func(tx pgx.Tx) error {
		docs, err := c.match(ctx, tx, filter, true)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			if !opts.Upsert {
				return store.ErrNotFound
			}
			id, err := c.upsert(ctx, tx, filter, normalizedUpdate)
			if err != nil {
				return err
			}
			if !opts.ReturnAfter {
				return store.ErrNotFound
			}
			found, err := c.match(ctx, tx, store.Filter{"_id": id}, false)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				return store.ErrNotFound
			}
			out = found[0]
			return nil
		}
		_, next, err := c.applyAndWrite(ctx, tx, docs[0], normalizedUpdate)
		if err != nil {
			return err
		}
		if opts.ReturnAfter {
			out = next
		} else {
			out = docs[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *collection) DeleteOne(ctx context.Context, filter store.Filter) (int64, error) {
	deleted, err := c.delete(ctx, filter, false)
	return int64(len(deleted)), err
}

func (c *collection) DeleteMany(ctx context.Context, filter store.Filter) (int64, error) {
	deleted, err := c.delete(ctx, filter, true)
	return int64(len(deleted)), err
}

func (c *collection) FindOneAndDelete(ctx context.Context, filter store.Filter) (store.Document, error) {
	deleted, err := c.delete(ctx, filter, false)
	if err != nil {
		return nil, err
	}
	if len(deleted) == 0 {
		return nil, store.ErrNotFound
	}
	return deleted[0], nil
}

func (c *collection) delete(ctx context.Context, filter store.Filter, many bool) ([]store.Document, error) {
	var deleted []store.Document
	err := c.conn.WithTx(ctx, func(tx pgx.Tx) error {
		docs, err := c.match(ctx, tx, filter, true)
		if err != nil || len(docs) == 0 {
			return err
		}
		if !many {
			docs = docs[:1]
		}
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = idString(doc["_id"])
		}
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = ANY($2)`, c.name, ids); err != nil {
			return fmt.Errorf("failed to delete documents from %s: %w", c.name, err)
		}
		deleted = docs
		return nil
	})
	return deleted, err
}

var unsafeIdentifierChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// EnsureIndex creates a partial expression index on the JSONB path.
func (c *collection) EnsureIndex(ctx context.Context, field string) error {
	name := "idx_" + unsafeIdentifierChars.ReplaceAllString(c.name+"_"+field, "_")
	if len(name) > 63 {
		name = name[:63]
	}
	path := "{" + strings.Join(strings.Split(field, "."), ",") + "}"
	sql := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON documents ((body #>> %s)) WHERE collection = %s`,
		pgx.Identifier{name}.Sanitize(), quoteLiteral(path), quoteLiteral(c.name),
	)
	if _, err := c.conn.Pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	return nil
}

func (c *collection) insert(ctx context.Context, q querier, doc store.Document) error {
	id, ok := doc["_id"]
	if !ok {
		return fmt.Errorf("failed to insert into %s: document has no _id", c.name)
	}
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx,
		`INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)`,
		c.name, idString(id), body); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", c.name, err)
	}
	return nil
}

func (c *collection) upsert(ctx context.Context, q querier, filter store.Filter, update store.Update) (any, error) {
	normalizedFilter, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	doc, err := query.Apply(query.UpsertSeed(normalizedFilter), update, true)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert into %s: %w", c.name, err)
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = uuid.NewString()
	}
	if err := c.insert(ctx, q, doc); err != nil {
		return nil, err
	}
	return idString(doc["_id"]), nil
}

func (c *collection) applyAndWrite(ctx context.Context, q querier, doc store.Document, update store.Update) (bool, store.Document, error) {
	next, err := query.Apply(doc, update, false)
	if err != nil {
		return false, nil, fmt.Errorf("failed to update %s: %w", c.name, err)
	}
	// compare through JSON so the stored and updated forms agree on types
	next, err = normalize(next)
	if err != nil {
		return false, nil, err
	}
	next["_id"] = doc["_id"]
	if query.Equal(doc, next) {
		return false, next, nil
	}
	body, err := encodeBody(next)
	if err != nil {
		return false, nil, err
	}
	if _, err := q.Exec(ctx,
		`UPDATE documents SET body = $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		c.name, idString(doc["_id"]), body); err != nil {
		return false, nil, fmt.Errorf("failed to update %s: %w", c.name, err)
	}
	return true, next, nil
}

// match loads candidate rows narrowed in SQL and filters them exactly.
func (c *collection) match(ctx context.Context, q querier, filter store.Filter, forUpdate bool) ([]store.Document, error) {
	normalizedFilter, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	sql, args := candidateQuery(c.name, normalizedFilter, forUpdate)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", c.name, err)
		}
		doc := map[string]any{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s in %s: %w", id, c.name, err)
		}
		doc["_id"] = id
		ok, err := query.Match(doc, normalizedFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", c.name, err)
	}
	return docs, nil
}

// candidateQuery builds a SELECT whose result is a superset of the filter's
// matches: equality on "_id" maps to the id column and plain equality on
// other fields to JSONB containment at the field path.
func candidateQuery(collection string, filter store.Filter, forUpdate bool) (string, []any) {
	var sb strings.Builder
	args := []any{collection}
	sb.WriteString(`SELECT id, body FROM documents WHERE collection = $1`)

	for key, condition := range filter {
		if strings.HasPrefix(key, "$") {
			continue
		}
		if key == "_id" {
			if ids, ok := idCondition(condition); ok {
				args = append(args, ids)
				fmt.Fprintf(&sb, ` AND id = ANY($%d)`, len(args))
			}
			continue
		}
		if condition == nil || query.IsOperatorDocument(condition) {
			continue
		}
		encoded, err := json.Marshal(condition)
		if err != nil {
			continue
		}
		args = append(args, strings.Split(key, "."), string(encoded))
		fmt.Fprintf(&sb, ` AND (body #> $%d::text[]) @> $%d::jsonb`, len(args)-1, len(args))
	}

	sb.WriteString(` ORDER BY seq`)
	if forUpdate {
		sb.WriteString(` FOR UPDATE`)
	}
	return sb.String(), args
}

func idCondition(condition any) ([]string, bool) {
	if !query.IsOperatorDocument(condition) {
		if condition == nil {
			return nil, false
		}
		return []string{idString(condition)}, true
	}
	ops := condition.(map[string]any)
	if len(ops) != 1 {
		return nil, false
	}
	if eq, ok := ops["$eq"]; ok && eq != nil {
		return []string{idString(eq)}, true
	}
	if in, ok := ops["$in"].([]any); ok {
		ids := make([]string, len(in))
		for i, item := range in {
			ids[i] = idString(item)
		}
		return ids, true
	}
	return nil, false
}

func idString(id any) string {
	switch typed := id.(type) {
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	}
	return fmt.Sprint(id)
}

func encodeBody(doc store.Document) (string, error) {
	body := make(map[string]any, len(doc))
	for key, value := range doc {
		if key != "_id" {
			body[key] = value
		}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode document body: %w", err)
	}
	return string(encoded), nil
}

// normalize round-trips a map through JSON so filters, updates and stored
// bodies share one value representation.
func normalize(value map[string]any) (map[string]any, error) {
	if value == nil {
		return map[string]any{}, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query document: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("failed to decode query document: %w", err)
	}
	return out, nil
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
