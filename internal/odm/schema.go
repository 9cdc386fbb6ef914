package odm

import (
	"context"
	"fmt"
	"sync"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/schema/validator"
)

// Timestamp field names maintained by schemas built WithTimestamps.
const (
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"
)

// Method is an instance method registered on a schema.
type Method func(ctx context.Context, doc *Document, args ...any) (any, error)

// Virtual is a computed, read-only document property.
type Virtual func(doc *Document) any

// SchemaOption configures a Schema at construction.
type SchemaOption func(*Schema)

// SchemaFactory builds a schema from field definitions. NewSchema is the
// default implementation.
type SchemaFactory func(fields []domain.FieldDefinition, opts ...SchemaOption) (*Schema, error)

// WithTimestamps maintains createdAt and updatedAt on every write.
func WithTimestamps() SchemaOption {
	return func(s *Schema) { s.timestamps = true }
}

// WithIDType sets the identity field type. The default is
// domain.FieldTypeMixed, leaving the representation to the store.
func WithIDType(t domain.FieldType) SchemaOption {
	return func(s *Schema) { s.idType = t }
}

// WithoutID builds a schema with no identity field, as used for embedded
// values. Documents of such schemas cannot be saved.
func WithoutID() SchemaOption {
	return func(s *Schema) { s.idType = "" }
}

// WithStrict rejects undeclared properties on save.
func WithStrict() SchemaOption {
	return func(s *Schema) { s.strict = true }
}

// Schema describes the fields and behaviour of a model's documents.
// Registry additions are visible to models already built from it.
type Schema struct {
	mu           sync.RWMutex
	fields       []domain.FieldDefinition
	idType       domain.FieldType
	timestamps   bool
	strict       bool
	methods      map[string]Method
	statics      map[string]any
	virtuals     map[string]Virtual
	interceptors []Interceptor
}

// NewSchema validates the field definitions and builds a schema.
func NewSchema(fields []domain.FieldDefinition, opts ...SchemaOption) (*Schema, error) {
	s := &Schema{
		idType:   domain.FieldTypeMixed,
		methods:  map[string]Method{},
		statics:  map[string]any{},
		virtuals: map[string]Virtual{},
	}
	for _, opt := range opts {
		opt(s)
	}

	var reserved []string
	if s.timestamps {
		reserved = []string{CreatedAtField, UpdatedAtField}
	}
	if err := validator.ValidateFields(fields, reserved...); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	if s.idType != "" && !domain.NormalizeFieldType(s.idType).IsIdentityType() {
		return nil, fmt.Errorf("invalid schema: %s cannot back an identity", s.idType)
	}

	s.fields = domain.CopyFields(fields)
	for i := range s.fields {
		s.fields[i].Type = domain.NormalizeFieldType(s.fields[i].Type)
	}
	return s, nil
}

// Fields returns a copy of the declared fields.
func (s *Schema) Fields() []domain.FieldDefinition {
	return domain.CopyFields(s.fields)
}

// Field looks up a declared field by name.
func (s *Schema) Field(name string) (domain.FieldDefinition, bool) {
	for _, field := range s.fields {
		if field.Name == name {
			return field, true
		}
	}
	return domain.FieldDefinition{}, false
}

// IDType returns the identity field type, or "" when the schema has none.
func (s *Schema) IDType() domain.FieldType {
	return s.idType
}

// HasIdentity reports whether documents carry an identity field.
func (s *Schema) HasIdentity() bool {
	return s.idType != ""
}

// Timestamps reports whether createdAt and updatedAt are maintained.
func (s *Schema) Timestamps() bool {
	return s.timestamps
}

// TimestampFields lists the maintained timestamp fields, if any.
func (s *Schema) TimestampFields() []string {
	if !s.timestamps {
		return nil
	}
	return []string{CreatedAtField, UpdatedAtField}
}

// AddMethod registers an instance method.
func (s *Schema) AddMethod(name string, fn Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[name]; ok {
		return fmt.Errorf("%w: %s", ErrMethodExists, name)
	}
	s.methods[name] = fn
	return nil
}

// HasMethod reports whether an instance method is registered.
func (s *Schema) HasMethod(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.methods[name]
	return ok
}

func (s *Schema) method(name string) (Method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.methods[name]
	return fn, ok
}

// AddStatic registers a model-level value, typically an accessor.
func (s *Schema) AddStatic(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statics[name]; ok {
		return fmt.Errorf("%w: %s", ErrStaticExists, name)
	}
	s.statics[name] = value
	return nil
}

func (s *Schema) static(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.statics[name]
	return value, ok
}

// AddVirtual registers a computed property readable through Document.Get.
func (s *Schema) AddVirtual(name string, fn Virtual) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.virtuals[name]; ok {
		return fmt.Errorf("%w: %s", ErrVirtualExists, name)
	}
	if _, ok := s.Field(name); ok {
		return fmt.Errorf("%w: %s is a declared field", ErrVirtualExists, name)
	}
	s.virtuals[name] = fn
	return nil
}

func (s *Schema) virtual(name string) (Virtual, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.virtuals[name]
	return fn, ok
}

// Use appends an interceptor. Interceptors run in registration order, the
// first registered being outermost.
func (s *Schema) Use(interceptor Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interceptors = append(s.interceptors, interceptor)
}

func (s *Schema) interceptorChain() []Interceptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Interceptor, len(s.interceptors))
	copy(out, s.interceptors)
	return out
}
