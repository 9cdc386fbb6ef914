package validator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/patchhistory/internal/domain"
)

// DocumentValidator validates document data against schema field definitions
type DocumentValidator struct {
	// Strict rejects properties that are not declared by the schema.
	Strict bool
}

// NewDocumentValidator creates a new document validator
func NewDocumentValidator(strict bool) *DocumentValidator {
	return &DocumentValidator{Strict: strict}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// Err folds the result into a single error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	messages := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		messages[i] = e.Message
	}
	return fmt.Errorf("document validation failed: %s", strings.Join(messages, "; "))
}

// ValidateDocument validates document properties against field definitions.
// The identity field and the names in ignored are always accepted.
func (dv *DocumentValidator) ValidateDocument(properties map[string]any, fields []domain.FieldDefinition, ignored ...string) ValidationResult {
	result := ValidationResult{
		IsValid: true,
		Errors:  []ValidationError{},
	}

	declared := make(map[string]struct{}, len(fields)+len(ignored)+1)
	declared[domain.IdentityField] = struct{}{}
	for _, name := range ignored {
		declared[name] = struct{}{}
	}

	for _, field := range fields {
		declared[field.Name] = struct{}{}
		value, exists := properties[field.Name]

		// Required field missing
		if field.Required && (!exists || value == nil) {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   field.Name,
				Message: fmt.Sprintf("required field '%s' is missing", field.Name),
			})
			continue
		}

		if !exists || value == nil {
			continue
		}

		if err := dv.validateFieldType(field.Name, value, field.Type); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   field.Name,
				Message: err.Error(),
				Value:   value,
			})
		}
	}

	if dv.Strict {
		for name, value := range properties {
			if _, ok := declared[name]; !ok {
				result.IsValid = false
				result.Errors = append(result.Errors, ValidationError{
					Field:   name,
					Message: fmt.Sprintf("property '%s' is not defined in schema", name),
					Value:   value,
				})
			}
		}
	}

	return result
}

// validateFieldType validates the type of a field value
func (dv *DocumentValidator) validateFieldType(fieldName string, value any, expectedType domain.FieldType) error {
	switch domain.NormalizeFieldType(expectedType) {
	case domain.FieldTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
	case domain.FieldTypeNumber:
		if !dv.isNumber(value) {
			return fmt.Errorf("field '%s' must be a number, got %T", fieldName, value)
		}
	case domain.FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' must be a boolean, got %T", fieldName, value)
		}
	case domain.FieldTypeDate:
		switch v := value.(type) {
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("field '%s' must be a valid timestamp (RFC3339): %v", fieldName, err)
			}
		case time.Time:
			// already parsed; accept value
		default:
			return fmt.Errorf("field '%s' must be a timestamp, got %T", fieldName, value)
		}
	case domain.FieldTypeArray:
		kind := reflect.ValueOf(value).Kind()
		if kind != reflect.Slice && kind != reflect.Array {
			return fmt.Errorf("field '%s' must be an array, got %T", fieldName, value)
		}
	case domain.FieldTypeObject:
		if reflect.ValueOf(value).Kind() != reflect.Map {
			return fmt.Errorf("field '%s' must be an object, got %T", fieldName, value)
		}
	case domain.FieldTypeUUID:
		switch v := value.(type) {
		case uuid.UUID:
		case string:
			if _, err := uuid.Parse(strings.TrimSpace(v)); err != nil {
				return fmt.Errorf("field '%s' must be a valid UUID string: %v", fieldName, err)
			}
		default:
			return fmt.Errorf("field '%s' must be a UUID, got %T", fieldName, value)
		}
	case domain.FieldTypeMixed, domain.FieldTypeReference, domain.FieldTypeObjectID:
		if _, err := json.Marshal(value); err != nil {
			return fmt.Errorf("field '%s' contains a value that cannot be encoded: %v", fieldName, err)
		}
	default:
		return fmt.Errorf("unknown field type: %s", expectedType)
	}

	return nil
}

func (dv *DocumentValidator) isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float32, float64:
		return true
	default:
		return false
	}
}
