package odm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/store"
	"github.com/rpattn/patchhistory/internal/store/query"
	"github.com/rpattn/patchhistory/pkg/validator"
)

// Model binds a schema to a store collection. Every write goes through the
// schema's interceptor chain.
type Model struct {
	name       string
	schema     *Schema
	conn       *Connection
	collection store.Collection
	validator  *validator.DocumentValidator
	now        func() time.Time
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.name
}

// Schema returns the model's schema.
func (m *Model) Schema() *Schema {
	return m.schema
}

// Collection returns the underlying store collection.
func (m *Model) Collection() store.Collection {
	return m.collection
}

// Connection returns the connection the model is registered on.
func (m *Model) Connection() *Connection {
	return m.conn
}

// Static returns a value registered with Schema.AddStatic.
func (m *Model) Static(name string) (any, bool) {
	return m.schema.static(name)
}

// New builds an unsaved document, applying field defaults and assigning an
// identity when the schema has one.
func (m *Model) New(data map[string]any) *Document {
	doc := &Document{model: m, data: query.Clone(data), isNew: true}
	if doc.data == nil {
		doc.data = map[string]any{}
	}
	for _, field := range m.schema.fields {
		if _, ok := doc.data[field.Name]; ok {
			continue
		}
		if value := field.DefaultValue(); value != nil {
			doc.data[field.Name] = value
		}
	}
	if m.schema.HasIdentity() {
		if _, ok := doc.data[domain.IdentityField]; !ok {
			doc.data[domain.IdentityField] = m.conn.store.NewID()
		}
	}
	return doc
}

// Create builds and saves a new document.
func (m *Model) Create(ctx context.Context, data map[string]any, opts ...QueryOption) (*Document, error) {
	doc := m.New(data)
	if err := m.Save(ctx, doc, opts...); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save inserts a new document or replaces a persisted one.
func (m *Model) Save(ctx context.Context, doc *Document, opts ...QueryOption) error {
	return m.dispatch(ctx, &Mutation{Kind: MutationSave, Document: doc, Options: buildQueryOptions(opts)})
}

// Remove deletes a persisted document.
func (m *Model) Remove(ctx context.Context, doc *Document, opts ...QueryOption) error {
	return m.dispatch(ctx, &Mutation{Kind: MutationRemove, Document: doc, Options: buildQueryOptions(opts)})
}

// FindByID loads a document by identity.
func (m *Model) FindByID(ctx context.Context, id any) (*Document, error) {
	return m.FindOne(ctx, store.Filter{domain.IdentityField: id})
}

// FindOne loads the first document matching filter.
func (m *Model) FindOne(ctx context.Context, filter store.Filter) (*Document, error) {
	raw, err := m.collection.FindOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	return m.hydrate(ctx, raw)
}

// Find loads every document matching filter.
func (m *Model) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]*Document, error) {
	raw, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(raw))
	for _, item := range raw {
		doc, err := m.hydrate(ctx, item)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Count counts documents matching filter.
func (m *Model) Count(ctx context.Context, filter store.Filter) (int64, error) {
	return m.collection.Count(ctx, filter)
}

// UpdateOne updates the first document matching filter. An update without
// operators is applied as $set.
func (m *Model) UpdateOne(ctx context.Context, filter store.Filter, update store.Update, opts ...QueryOption) (store.UpdateResult, error) {
	mutation := &Mutation{Kind: MutationUpdateOne, Filter: filter, Update: update, Options: buildQueryOptions(opts)}
	if err := m.dispatch(ctx, mutation); err != nil {
		return store.UpdateResult{}, err
	}
	return mutation.Result, nil
}

// UpdateMany updates every document matching filter.
func (m *Model) UpdateMany(ctx context.Context, filter store.Filter, update store.Update, opts ...QueryOption) (store.UpdateResult, error) {
	mutation := &Mutation{Kind: MutationUpdateMany, Filter: filter, Update: update, Options: buildQueryOptions(opts)}
	if err := m.dispatch(ctx, mutation); err != nil {
		return store.UpdateResult{}, err
	}
	return mutation.Result, nil
}

// FindOneAndUpdate updates the first document matching filter and returns
// it, before the update unless ReturnAfter is given.
func (m *Model) FindOneAndUpdate(ctx context.Context, filter store.Filter, update store.Update, opts ...QueryOption) (*Document, error) {
	mutation := &Mutation{Kind: MutationFindOneAndUpdate, Filter: filter, Update: update, Options: buildQueryOptions(opts)}
	if err := m.dispatch(ctx, mutation); err != nil {
		return nil, err
	}
	if mutation.Document == nil {
		return nil, ErrNotFound
	}
	return mutation.Document, nil
}

// DeleteOne deletes the first document matching filter.
func (m *Model) DeleteOne(ctx context.Context, filter store.Filter, opts ...QueryOption) (int64, error) {
	mutation := &Mutation{Kind: MutationDeleteOne, Filter: filter, Options: buildQueryOptions(opts)}
	if err := m.dispatch(ctx, mutation); err != nil {
		return 0, err
	}
	return mutation.Deleted, nil
}

// DeleteMany deletes every document matching filter.
func (m *Model) DeleteMany(ctx context.Context, filter store.Filter, opts ...QueryOption) (int64, error) {
	mutation := &Mutation{Kind: MutationDeleteMany, Filter: filter, Options: buildQueryOptions(opts)}
	if err := m.dispatch(ctx, mutation); err != nil {
		return 0, err
	}
	return mutation.Deleted, nil
}

// FindOneAndDelete deletes the first document matching filter and returns it.
func (m *Model) FindOneAndDelete(ctx context.Context, filter store.Filter, opts ...QueryOption) (*Document, error) {
	mutation := &Mutation{Kind: MutationFindOneAndDelete, Filter: filter, Options: buildQueryOptions(opts)}
	if err := m.dispatch(ctx, mutation); err != nil {
		return nil, err
	}
	if mutation.Document == nil {
		return nil, ErrNotFound
	}
	return mutation.Document, nil
}

func (m *Model) dispatch(ctx context.Context, mutation *Mutation) error {
	mutation.Model = m
	if mutation.Filter == nil {
		mutation.Filter = store.Filter{}
	}
	return chain(m.schema.interceptorChain(), m.execute)(ctx, mutation)
}

// execute performs the store write at the end of the interceptor chain.
func (m *Model) execute(ctx context.Context, mutation *Mutation) error {
	switch mutation.Kind {
	case MutationSave:
		return m.write(ctx, mutation.Document)

	case MutationRemove:
		id := mutation.Document.ID()
		if id == nil {
			return ErrNoIdentity
		}
		n, err := m.collection.DeleteOne(ctx, store.Filter{domain.IdentityField: id})
		if err != nil {
			return err
		}
		mutation.Deleted = n
		return nil

	case MutationUpdateOne, MutationUpdateMany:
		update := m.castUpdate(mutation.Update)
		var (
			res store.UpdateResult
			err error
		)
		if mutation.Kind == MutationUpdateOne {
			res, err = m.collection.UpdateOne(ctx, mutation.Filter, update, mutation.Options.Upsert)
		} else {
			res, err = m.collection.UpdateMany(ctx, mutation.Filter, update, mutation.Options.Upsert)
		}
		if err != nil {
			return err
		}
		mutation.Result = res
		return nil

	case MutationFindOneAndUpdate:
		raw, err := m.collection.FindOneAndUpdate(ctx, mutation.Filter, m.castUpdate(mutation.Update), store.FindOneAndUpdateOptions{
			Upsert:      mutation.Options.Upsert,
			ReturnAfter: mutation.Options.ReturnAfter,
		})
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		mutation.Document, err = m.hydrate(ctx, raw)
		return err

	case MutationDeleteOne:
		n, err := m.collection.DeleteOne(ctx, mutation.Filter)
		if err != nil {
			return err
		}
		mutation.Deleted = n
		return nil

	case MutationDeleteMany:
		n, err := m.collection.DeleteMany(ctx, mutation.Filter)
		if err != nil {
			return err
		}
		mutation.Deleted = n
		return nil

	case MutationFindOneAndDelete:
		raw, err := m.collection.FindOneAndDelete(ctx, mutation.Filter)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		mutation.Document = &Document{model: m, data: raw}
		mutation.Deleted = 1
		return nil
	}
	return fmt.Errorf("unsupported mutation %s", mutation.Kind)
}

func (m *Model) write(ctx context.Context, doc *Document) error {
	if doc.ID() == nil {
		return ErrNoIdentity
	}
	if doc.isNew && m.schema.timestamps {
		if _, ok := doc.data[CreatedAtField]; !ok {
			doc.data[CreatedAtField] = m.timestamp()
		}
	}
	if m.schema.timestamps {
		doc.data[UpdatedAtField] = m.timestamp()
	}

	raw := doc.ToObject(true)
	if err := m.validator.ValidateDocument(raw, m.schema.fields, m.schema.TimestampFields()...).Err(); err != nil {
		return err
	}

	if doc.isNew {
		if err := m.collection.InsertOne(ctx, raw); err != nil {
			return err
		}
		doc.isNew = false
		return nil
	}
	return m.collection.ReplaceOne(ctx, doc.ID(), raw)
}

// castUpdate wraps a plain update in $set and adds timestamp maintenance.
func (m *Model) castUpdate(update store.Update) store.Update {
	out := query.Clone(update)
	if out == nil {
		out = store.Update{}
	}
	if !query.HasOperators(out) {
		out = store.Update{"$set": out}
	}
	if !m.schema.timestamps {
		return out
	}
	now := m.timestamp()
	set, _ := out["$set"].(map[string]any)
	if set == nil {
		set = map[string]any{}
		out["$set"] = set
	}
	set[UpdatedAtField] = now
	if _, ok := set[CreatedAtField]; !ok {
		onInsert, _ := out["$setOnInsert"].(map[string]any)
		if onInsert == nil {
			onInsert = map[string]any{}
			out["$setOnInsert"] = onInsert
		}
		onInsert[CreatedAtField] = now
	}
	return out
}

// timestamp is truncated to milliseconds so it survives every store intact.
func (m *Model) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func (m *Model) hydrate(ctx context.Context, raw store.Document) (*Document, error) {
	doc := &Document{model: m, data: raw}
	for _, interceptor := range m.schema.interceptorChain() {
		if err := interceptor.AfterLoad(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
