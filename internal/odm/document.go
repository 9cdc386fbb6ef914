package odm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/store/query"
)

// Document is an in-memory instance of a model. It is not safe for
// concurrent use.
type Document struct {
	model    *Model
	data     map[string]any
	isNew    bool
	baseline domain.Snapshot
}

// Model returns the model the document belongs to.
func (d *Document) Model() *Model {
	return d.model
}

// ID returns the document identity, or nil for schemas without one.
func (d *Document) ID() any {
	return d.data[domain.IdentityField]
}

// IsNew reports whether the document has not been persisted yet.
func (d *Document) IsNew() bool {
	return d.isNew
}

// Get reads a dotted path, descending into populated references. When no
// stored value exists the schema virtual of that name is evaluated.
func (d *Document) Get(path string) any {
	if value, ok := getPath(d.data, path); ok {
		return value
	}
	if fn, ok := d.model.schema.virtual(path); ok {
		return fn(d)
	}
	return nil
}

// Set assigns a dotted path.
func (d *Document) Set(path string, value any) {
	query.Set(d.data, path, value)
}

// Unset removes a dotted path.
func (d *Document) Unset(path string) {
	query.Unset(d.data, path)
}

// ToObject returns a deep copy of the document data. With depopulate set,
// populated references are replaced by their identities.
func (d *Document) ToObject(depopulate bool) map[string]any {
	return plain(d.data, depopulate).(map[string]any)
}

// Baseline returns the snapshot attached by the last load or save.
func (d *Document) Baseline() (domain.Snapshot, bool) {
	return d.baseline, d.baseline != nil
}

// SetBaseline attaches a snapshot as the document's diff baseline.
func (d *Document) SetBaseline(s domain.Snapshot) {
	d.baseline = s
}

// Call invokes a schema instance method.
func (d *Document) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := d.model.schema.method(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return fn(ctx, d, args...)
}

// Save persists the document through its model.
func (d *Document) Save(ctx context.Context, opts ...QueryOption) error {
	return d.model.Save(ctx, d, opts...)
}

// Remove deletes the document through its model.
func (d *Document) Remove(ctx context.Context, opts ...QueryOption) error {
	return d.model.Remove(ctx, d, opts...)
}

// Populate replaces the identity stored in a reference field by the
// referenced document. Arrays of identities are populated element-wise.
func (d *Document) Populate(ctx context.Context, field string) error {
	def, ok := d.model.schema.Field(field)
	if !ok || def.Type != domain.FieldTypeReference || def.Ref == "" {
		return fmt.Errorf("field %s is not a reference", field)
	}
	target, ok := d.model.conn.Lookup(def.Ref)
	if !ok {
		return fmt.Errorf("failed to populate %s: %w: %s", field, ErrUnknownModel, def.Ref)
	}

	current, ok := d.data[field]
	if !ok || current == nil {
		return nil
	}
	resolve := func(id any) (any, error) {
		if doc, ok := id.(*Document); ok {
			return doc, nil
		}
		doc, err := target.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to populate %s: %w", field, err)
		}
		return doc, nil
	}

	if ids, ok := current.([]any); ok {
		out := make([]any, len(ids))
		for i, id := range ids {
			doc, err := resolve(id)
			if err != nil {
				return err
			}
			out[i] = doc
		}
		d.data[field] = out
		return nil
	}
	doc, err := resolve(current)
	if err != nil {
		return err
	}
	d.data[field] = doc
	return nil
}

func getPath(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, segment := range strings.Split(path, ".") {
		if doc, ok := current.(*Document); ok {
			current = doc.data
		}
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(typed) {
				return nil, false
			}
			current = typed[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func plain(value any, depopulate bool) any {
	switch typed := value.(type) {
	case *Document:
		if depopulate {
			return query.CloneValue(typed.ID())
		}
		return typed.ToObject(false)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = plain(item, depopulate)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = plain(item, depopulate)
		}
		return out
	}
	return query.CloneValue(value)
}
