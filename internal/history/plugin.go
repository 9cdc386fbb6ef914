// Package history records every change to the documents of a schema as a
// JSON Patch in a companion collection. Attach wires a Tracker into the
// schema's interceptor chain; the tracker captures a baseline before each
// write, diffs it against the persisted result afterwards and stores the
// non-empty diffs.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rpattn/patchhistory/internal/diff"
	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/repository"
	"github.com/rpattn/patchhistory/internal/schema/validator"
)

// Names added to the tracked schema.
const (
	SnapshotMethod = "snapshot"
	PatchesStatic  = "Patches"
	PatchesVirtual = "patches"
)

// Config holds the required settings of Attach.
type Config struct {
	// Connection registers the patch model.
	Connection *odm.Connection
	// Name is the base name of the patch model and collection.
	Name string
	// SchemaFactory builds the patch schema, usually odm.NewSchema.
	SchemaFactory odm.SchemaFactory
}

// Include copies a value into every patch record. The value is read from
// the document at From (a field or virtual, defaulting to the field name)
// and, when absent there, from the query option of the same key.
type Include struct {
	Field domain.FieldDefinition
	From  string
}

func (i Include) source() string {
	if i.From != "" {
		return i.From
	}
	return i.Field.Name
}

// Option configures a Tracker.
type Option func(*settings)

// WithRemovePatches controls whether removing a document deletes its
// patches. Enabled by default.
func WithRemovePatches(enabled bool) Option {
	return func(s *settings) { s.removePatches = enabled }
}

// WithIncludes adds fields copied into every patch record.
func WithIncludes(includes ...Include) Option {
	return func(s *settings) { s.includes = append(s.includes, includes...) }
}

// WithTrackOriginalValue annotates every operation with the value it replaced.
func WithTrackOriginalValue(enabled bool) Option {
	return func(s *settings) { s.trackOriginalValue = enabled }
}

// WithDiffEngine replaces the default jsondiff engine.
func WithDiffEngine(engine diff.Engine) Option {
	return func(s *settings) { s.engine = engine }
}

// WithLogger sets the logger for pipeline events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// settings are resolved once by Attach and never change afterwards.
type settings struct {
	removePatches      bool
	includes           []Include
	trackOriginalValue bool
	engine             diff.Engine
	logger             *slog.Logger
}

func defaultSettings() settings {
	return settings{
		removePatches: true,
		engine:        diff.New(),
		logger:        slog.Default(),
	}
}

// Tracker records patches for the documents of one schema.
type Tracker struct {
	settings settings
	name     string
	repo     repository.PatchRepository
}

// Attach validates the configuration, registers the patch model and adds
// the snapshot method, the Patches static and the patches virtual to schema.
func Attach(schema *odm.Schema, cfg Config, opts ...Option) (*Tracker, error) {
	if schema == nil {
		return nil, fmt.Errorf("patch history: schema cannot be nil")
	}
	if cfg.Connection == nil {
		return nil, ErrMissingConnection
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, ErrMissingName
	}
	if cfg.SchemaFactory == nil {
		return nil, ErrMissingSchemaFactory
	}
	if !schema.HasIdentity() {
		return nil, ErrNoIdentityType
	}
	if schema.HasMethod(SnapshotMethod) {
		return nil, ErrConflictingMethod
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	if s.engine == nil {
		s.engine = diff.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	includeFields := make([]domain.FieldDefinition, len(s.includes))
	for i, include := range s.includes {
		includeFields[i] = include.Field
	}
	if err := validator.ValidateFields(includeFields, domain.PatchFieldDate, domain.PatchFieldOps, domain.PatchFieldRef); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInclude, err)
	}

	model, err := repository.NewPatchModel(cfg.Connection, repository.PatchModelConfig{
		Name:          name,
		SchemaFactory: cfg.SchemaFactory,
		RefType:       schema.IDType(),
		Includes:      includeFields,
	})
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		settings: s,
		name:     model.Name(),
		repo:     repository.NewPatchRepository(model),
	}

	if err := schema.AddMethod(SnapshotMethod, func(_ context.Context, doc *odm.Document, _ ...any) (any, error) {
		return Capture(doc)
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConflictingMethod, err)
	}
	if err := schema.AddStatic(PatchesStatic, t.repo); err != nil {
		return nil, err
	}
	if err := schema.AddVirtual(PatchesVirtual, func(doc *odm.Document) any {
		return &DocumentPatches{repo: t.repo, ref: doc.ID()}
	}); err != nil {
		return nil, err
	}
	schema.Use(t)

	t.settings.logger.Debug("patch history attached",
		"patch_model", t.name,
		"remove_patches", s.removePatches,
		"track_original_value", s.trackOriginalValue,
		"includes", len(s.includes),
	)
	return t, nil
}

// Patches returns the tracker's patch repository.
func (t *Tracker) Patches() repository.PatchRepository {
	return t.repo
}

// Name returns the patch model name.
func (t *Tracker) Name() string {
	return t.name
}

// PatchesOf returns the patch repository registered on a tracked model.
func PatchesOf(model *odm.Model) (repository.PatchRepository, bool) {
	value, ok := model.Static(PatchesStatic)
	if !ok {
		return nil, false
	}
	repo, ok := value.(repository.PatchRepository)
	return repo, ok
}

// DocumentPatches is the patches virtual: the patch repository bound to one
// document.
type DocumentPatches struct {
	repo repository.PatchRepository
	ref  any
}

// List returns the document's patches, oldest first.
func (p *DocumentPatches) List(ctx context.Context) ([]domain.Patch, error) {
	return p.repo.ListByRef(ctx, p.ref)
}

// Count counts the document's patches.
func (p *DocumentPatches) Count(ctx context.Context) (int64, error) {
	return p.repo.CountByRef(ctx, p.ref)
}
