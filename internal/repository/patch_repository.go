package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/store"
)

// PatchModelConfig describes the companion patch collection of a tracked
// schema.
type PatchModelConfig struct {
	// Name is the base name. The model is registered under the name with an
	// upper-cased first character and stored in the collection named with a
	// lower-cased first character.
	Name          string
	SchemaFactory odm.SchemaFactory
	// RefType is the identity type of the tracked schema.
	RefType  domain.FieldType
	Includes []domain.FieldDefinition
}

// PatchFields returns the field definitions of a patch record.
func PatchFields(refType domain.FieldType, includes []domain.FieldDefinition) []domain.FieldDefinition {
	fields := []domain.FieldDefinition{
		{
			Name:     domain.PatchFieldDate,
			Type:     domain.FieldTypeDate,
			Required: true,
			Default:  func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		},
		{Name: domain.PatchFieldOps, Type: domain.FieldTypeArray, Required: true},
		{Name: domain.PatchFieldRef, Type: refType, Required: true, Index: true},
	}
	return append(fields, domain.CopyFields(includes)...)
}

// NewPatchModel builds the patch schema through the configured factory and
// registers its model on conn.
func NewPatchModel(conn *odm.Connection, cfg PatchModelConfig) (*odm.Model, error) {
	schema, err := cfg.SchemaFactory(PatchFields(cfg.RefType, cfg.Includes))
	if err != nil {
		return nil, fmt.Errorf("failed to build patch schema: %w", err)
	}
	model, err := conn.Model(odm.UpperFirst(cfg.Name), schema, odm.WithCollection(odm.LowerFirst(cfg.Name)))
	if err != nil {
		return nil, fmt.Errorf("failed to register patch model: %w", err)
	}
	return model, nil
}

// patchRepository implements PatchRepository over a patch model
type patchRepository struct {
	model *odm.Model
}

// NewPatchRepository creates a new patch repository
func NewPatchRepository(model *odm.Model) PatchRepository {
	return &patchRepository{model: model}
}

func (r *patchRepository) Model() *odm.Model {
	return r.model
}

// Create persists a patch record. A zero Date takes the schema default.
func (r *patchRepository) Create(ctx context.Context, patch domain.Patch) (domain.Patch, error) {
	data := make(map[string]any, len(patch.Included)+3)
	for name, value := range patch.Included {
		if value != nil {
			data[name] = value
		}
	}
	data[domain.PatchFieldOps] = domain.OpsToDocuments(patch.Ops)
	data[domain.PatchFieldRef] = patch.Ref
	if !patch.Date.IsZero() {
		data[domain.PatchFieldDate] = patch.Date
	}

	doc, err := r.model.Create(ctx, data)
	if err != nil {
		return domain.Patch{}, fmt.Errorf("failed to create patch: %w", err)
	}
	return toPatch(doc)
}

func (r *patchRepository) ListByRef(ctx context.Context, ref any) ([]domain.Patch, error) {
	docs, err := r.model.Find(ctx, store.Filter{domain.PatchFieldRef: ref}, byDate())
	if err != nil {
		return nil, fmt.Errorf("failed to list patches: %w", err)
	}
	return toPatches(docs)
}

func (r *patchRepository) ListByRefs(ctx context.Context, refs []any) ([][]domain.Patch, error) {
	out := make([][]domain.Patch, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	docs, err := r.model.Find(ctx, store.Filter{domain.PatchFieldRef: map[string]any{"$in": refs}}, byDate())
	if err != nil {
		return nil, fmt.Errorf("failed to list patches: %w", err)
	}
	patches, err := toPatches(docs)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]domain.Patch, len(refs))
	for _, patch := range patches {
		key := domain.IdentityKey(patch.Ref)
		grouped[key] = append(grouped[key], patch)
	}
	for i, ref := range refs {
		out[i] = grouped[domain.IdentityKey(ref)]
		if out[i] == nil {
			out[i] = []domain.Patch{}
		}
	}
	return out, nil
}

func (r *patchRepository) CountByRef(ctx context.Context, ref any) (int64, error) {
	n, err := r.model.Count(ctx, store.Filter{domain.PatchFieldRef: ref})
	if err != nil {
		return 0, fmt.Errorf("failed to count patches: %w", err)
	}
	return n, nil
}

// DeleteByRef finds the document's patches and deletes them one by one.
func (r *patchRepository) DeleteByRef(ctx context.Context, ref any) (int64, error) {
	docs, err := r.model.Find(ctx, store.Filter{domain.PatchFieldRef: ref}, store.FindOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to find patches to delete: %w", err)
	}
	var deleted int64
	for _, doc := range docs {
		if err := doc.Remove(ctx); err != nil {
			return deleted, fmt.Errorf("failed to delete patch %v: %w", doc.ID(), err)
		}
		deleted++
	}
	return deleted, nil
}

func byDate() store.FindOptions {
	return store.FindOptions{Sort: []store.SortField{{Field: domain.PatchFieldDate}}}
}

func toPatches(docs []*odm.Document) ([]domain.Patch, error) {
	out := make([]domain.Patch, 0, len(docs))
	for _, doc := range docs {
		patch, err := toPatch(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, patch)
	}
	// stores that keep dates as strings sort them lexically
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func toPatch(doc *odm.Document) (domain.Patch, error) {
	data := doc.ToObject(true)
	ops, err := domain.OpsFromDocuments(data[domain.PatchFieldOps])
	if err != nil {
		return domain.Patch{}, err
	}
	date, err := toTime(data[domain.PatchFieldDate])
	if err != nil {
		return domain.Patch{}, err
	}

	patch := domain.Patch{
		ID:   doc.ID(),
		Date: date,
		Ops:  ops,
		Ref:  data[domain.PatchFieldRef],
	}
	for key, value := range data {
		switch key {
		case domain.IdentityField, domain.PatchFieldDate, domain.PatchFieldOps, domain.PatchFieldRef:
			continue
		}
		if patch.Included == nil {
			patch.Included = map[string]any{}
		}
		patch.Included[key] = value
	}
	return patch, nil
}

// toTime accepts native times and the RFC 3339 strings JSON stores return.
func toTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse patch date %q: %w", v, err)
		}
		return t.UTC(), nil
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected patch date type %T", raw)
}
