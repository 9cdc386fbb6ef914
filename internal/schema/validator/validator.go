package validator

import (
	"fmt"
	"strings"

	"github.com/rpattn/patchhistory/internal/domain"
)

var knownTypes = map[domain.FieldType]struct{}{
	domain.FieldTypeString:    {},
	domain.FieldTypeNumber:    {},
	domain.FieldTypeBoolean:   {},
	domain.FieldTypeDate:      {},
	domain.FieldTypeArray:     {},
	domain.FieldTypeObject:    {},
	domain.FieldTypeMixed:     {},
	domain.FieldTypeReference: {},
	domain.FieldTypeUUID:      {},
	domain.FieldTypeObjectID:  {},
}

// ValidateFields ensures schema field definitions are well formed: every field
// is named once, uses a known type, and only reference fields declare a
// target model. Names listed in reserved may not be declared.
func ValidateFields(fields []domain.FieldDefinition, reserved ...string) error {
	seen := make(map[string]struct{}, len(fields))
	blocked := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		blocked[name] = struct{}{}
	}

	for _, field := range fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return fmt.Errorf("field name cannot be empty")
		}
		if name == domain.IdentityField {
			return fmt.Errorf("field %s is reserved for the document identity", name)
		}
		if _, ok := blocked[name]; ok {
			return fmt.Errorf("field %s is reserved", name)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("field %s is declared more than once", name)
		}
		seen[name] = struct{}{}

		fieldType := domain.NormalizeFieldType(field.Type)
		if _, ok := knownTypes[fieldType]; !ok {
			return fmt.Errorf("field %s has unknown type %q", name, field.Type)
		}

		if strings.TrimSpace(field.Ref) != "" && fieldType != domain.FieldTypeReference {
			return fmt.Errorf("field %s cannot declare ref because type %s does not support references", name, field.Type)
		}
	}

	return nil
}
