package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrImmutableIdentity is returned when an update tries to change "_id".
var ErrImmutableIdentity = errors.New("the _id field is immutable")

// HasOperators reports whether the update uses operator keys.
func HasOperators(update map[string]any) bool {
	for key := range update {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

// Apply returns a copy of doc with update applied. A document without
// operators replaces everything but "_id". $setOnInsert only applies when
// inserting is true.
func Apply(doc map[string]any, update map[string]any, inserting bool) (map[string]any, error) {
	out := Clone(doc)
	if out == nil {
		out = map[string]any{}
	}
	if !HasOperators(update) {
		replacement := Clone(update)
		if replacement == nil {
			replacement = map[string]any{}
		}
		if id, ok := out["_id"]; ok {
			if newID, has := replacement["_id"]; has && !Equal(newID, id) {
				return nil, ErrImmutableIdentity
			}
			replacement["_id"] = id
		}
		return replacement, nil
	}

	for operator, raw := range update {
		if !strings.HasPrefix(operator, "$") {
			return nil, fmt.Errorf("update mixes operators and plain field %q", operator)
		}
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s expects a document, got %T", operator, raw)
		}
		for path, operand := range fields {
			if path == "_id" && operator != "$setOnInsert" {
				current, exists := out["_id"]
				if operator != "$set" || !exists || !Equal(current, operand) {
					return nil, ErrImmutableIdentity
				}
			}
			if err := applyOperator(out, operator, path, CloneValue(operand), inserting); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func applyOperator(doc map[string]any, operator, path string, operand any, inserting bool) error {
	switch operator {
	case "$set":
		Set(doc, path, operand)
	case "$setOnInsert":
		if inserting {
			Set(doc, path, operand)
		}
	case "$unset":
		Unset(doc, path)
	case "$inc":
		delta, ok := toFloat(operand)
		if !ok {
			return fmt.Errorf("$inc on %s expects a number", path)
		}
		current, exists := Get(doc, path)
		if !exists {
			Set(doc, path, operand)
			return nil
		}
		base, ok := toFloat(current)
		if !ok {
			return fmt.Errorf("$inc on %s: field is not numeric", path)
		}
		Set(doc, path, addNumbers(current, operand, base+delta))
	case "$push", "$addToSet":
		current, exists := Get(doc, path)
		var items []any
		if exists && current != nil {
			typed, ok := current.([]any)
			if !ok {
				return fmt.Errorf("%s on %s: field is not an array", operator, path)
			}
			items = append(items, typed...)
		}
		for _, value := range eachValues(operand) {
			if operator == "$addToSet" && containsValue(items, value) {
				continue
			}
			items = append(items, value)
		}
		Set(doc, path, items)
	case "$pull":
		current, exists := Get(doc, path)
		if !exists {
			return nil
		}
		typed, ok := current.([]any)
		if !ok {
			return fmt.Errorf("$pull on %s: field is not an array", path)
		}
		kept := make([]any, 0, len(typed))
		for _, item := range typed {
			if !Equal(item, operand) {
				kept = append(kept, item)
			}
		}
		Set(doc, path, kept)
	default:
		return fmt.Errorf("unsupported update operator %s", operator)
	}
	return nil
}

// eachValues unwraps {"$each": [...]} for $push and $addToSet.
func eachValues(operand any) []any {
	if typed, ok := operand.(map[string]any); ok {
		if each, ok := typed["$each"]; ok {
			if items, ok := toSlice(each); ok {
				return items
			}
		}
	}
	return []any{operand}
}

func containsValue(items []any, value any) bool {
	for _, item := range items {
		if Equal(item, value) {
			return true
		}
	}
	return false
}

// addNumbers keeps integer types integral when both operands are integers.
func addNumbers(current, delta any, sum float64) any {
	_, currentFloat := current.(float64)
	_, deltaFloat := delta.(float64)
	_, currentFloat32 := current.(float32)
	_, deltaFloat32 := delta.(float32)
	if currentFloat || deltaFloat || currentFloat32 || deltaFloat32 {
		return sum
	}
	return int64(sum)
}

// UpsertSeed builds the initial document of an upsert from the equality
// conditions of filter.
func UpsertSeed(filter map[string]any) map[string]any {
	seed := map[string]any{}
	collectEquality(seed, filter)
	return seed
}

func collectEquality(seed map[string]any, filter map[string]any) {
	for key, condition := range filter {
		if key == "$and" {
			if clauses, err := subFilters(key, condition); err == nil {
				for _, clause := range clauses {
					collectEquality(seed, clause)
				}
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			continue
		}
		if IsOperatorDocument(condition) {
			if eq, ok := condition.(map[string]any)["$eq"]; ok {
				Set(seed, key, CloneValue(eq))
			}
			continue
		}
		Set(seed, key, CloneValue(condition))
	}
}
