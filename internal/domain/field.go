package domain

import (
	"strings"
	"time"
)

// FieldType represents the type of a field in a document schema
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
	FieldTypeMixed   FieldType = "mixed"
	// FieldTypeReference holds the identity of a document in another model.
	// The value may be a populated *odm.Document while in memory; it is
	// depopulated back to the identity before persisting or snapshotting.
	FieldTypeReference FieldType = "reference"
	// Identity types. A schema's identity field uses one of these, or
	// FieldTypeMixed when the store decides the identity representation.
	FieldTypeUUID     FieldType = "uuid"
	FieldTypeObjectID FieldType = "object_id"
)

// IdentityField is the reserved name of a document's identity field.
const IdentityField = "_id"

// FieldDefinition represents a field definition in a schema
type FieldDefinition struct {
	Name        string    `json:"name" mapstructure:"name"`
	Type        FieldType `json:"type" mapstructure:"type"`
	Required    bool      `json:"required" mapstructure:"required"`
	Index       bool      `json:"index,omitempty" mapstructure:"index"`
	Description string    `json:"description,omitempty" mapstructure:"description"`
	// Default is either a literal value or a func() any evaluated for every
	// new document.
	Default any `json:"-" mapstructure:"-"`
	// Ref names the model a FieldTypeReference points at.
	Ref string `json:"ref,omitempty" mapstructure:"ref"`
}

// DefaultValue evaluates the field default, returning nil when none is set.
func (f FieldDefinition) DefaultValue() any {
	switch d := f.Default.(type) {
	case nil:
		return nil
	case func() any:
		return d()
	case func() time.Time:
		return d()
	default:
		return d
	}
}

// IsIdentityType reports whether the type can back a document identity.
func (t FieldType) IsIdentityType() bool {
	switch t {
	case FieldTypeUUID, FieldTypeObjectID, FieldTypeString, FieldTypeNumber, FieldTypeMixed:
		return true
	}
	return false
}

// NormalizeFieldType lower-cases and trims a type name read from configuration.
func NormalizeFieldType(t FieldType) FieldType {
	return FieldType(strings.ToLower(strings.TrimSpace(string(t))))
}

// CopyFields creates a copy of the fields slice
func CopyFields(fields []FieldDefinition) []FieldDefinition {
	if fields == nil {
		return nil
	}
	newFields := make([]FieldDefinition, len(fields))
	copy(newFields, fields)
	return newFields
}
