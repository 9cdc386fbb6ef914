package query

import (
	"fmt"
	"strings"
)

// Match reports whether doc satisfies filter.
//
// Supported: implicit equality (with array element matching), $eq, $ne, $gt,
// $gte, $lt, $lte, $in, $nin, $exists, and the logical $and, $or, $nor.
func Match(doc map[string]any, filter map[string]any) (bool, error) {
	for key, condition := range filter {
		if strings.HasPrefix(key, "$") {
			ok, err := matchLogical(doc, key, condition)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		value, exists := Get(doc, key)
		ok, err := matchField(value, exists, condition)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", key, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchLogical(doc map[string]any, operator string, condition any) (bool, error) {
	clauses, err := subFilters(operator, condition)
	if err != nil {
		return false, err
	}
	switch operator {
	case "$and":
		for _, clause := range clauses {
			ok, err := Match(doc, clause)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "$or", "$nor":
		matched := false
		for _, clause := range clauses {
			ok, err := Match(doc, clause)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if operator == "$nor" {
			return !matched, nil
		}
		return matched, nil
	}
	return false, fmt.Errorf("unsupported query operator %s", operator)
}

func subFilters(operator string, condition any) ([]map[string]any, error) {
	if typed, ok := condition.([]map[string]any); ok {
		return typed, nil
	}
	items, ok := toSlice(condition)
	if !ok {
		return nil, fmt.Errorf("%s expects an array of filters", operator)
	}
	clauses := make([]map[string]any, 0, len(items))
	for _, item := range items {
		clause, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s expects an array of filters, got %T", operator, item)
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

// IsOperatorDocument reports whether every key of value is an operator.
func IsOperatorDocument(value any) bool {
	typed, ok := value.(map[string]any)
	if !ok || len(typed) == 0 {
		return false
	}
	for key := range typed {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return true
}

func matchField(value any, exists bool, condition any) (bool, error) {
	if !IsOperatorDocument(condition) {
		return equalOrContains(value, exists, condition), nil
	}
	for operator, operand := range condition.(map[string]any) {
		ok, err := matchOperator(value, exists, operator, operand)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOperator(value any, exists bool, operator string, operand any) (bool, error) {
	switch operator {
	case "$eq":
		return equalOrContains(value, exists, operand), nil
	case "$ne":
		return !equalOrContains(value, exists, operand), nil
	case "$in", "$nin":
		candidates, ok := toSlice(operand)
		if !ok {
			return false, fmt.Errorf("%s expects an array", operator)
		}
		found := false
		for _, candidate := range candidates {
			if equalOrContains(value, exists, candidate) {
				found = true
				break
			}
		}
		if operator == "$nin" {
			return !found, nil
		}
		return found, nil
	case "$exists":
		want, ok := operand.(bool)
		if !ok {
			return false, fmt.Errorf("$exists expects a boolean")
		}
		return exists == want, nil
	case "$gt", "$gte", "$lt", "$lte":
		if !exists {
			return false, nil
		}
		cmp, ok := Compare(value, operand)
		if !ok {
			return false, nil
		}
		switch operator {
		case "$gt":
			return cmp > 0, nil
		case "$gte":
			return cmp >= 0, nil
		case "$lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return false, fmt.Errorf("unsupported query operator %s", operator)
}

// equalOrContains implements implicit equality: a nil operand matches a
// missing field, and an array field matches when any element is equal.
func equalOrContains(value any, exists bool, operand any) bool {
	if operand == nil {
		return !exists || value == nil
	}
	if !exists {
		return false
	}
	operand = cloneValue(operand)
	if Equal(value, operand) {
		return true
	}
	if items, ok := value.([]any); ok {
		for _, item := range items {
			if Equal(item, operand) {
				return true
			}
		}
	}
	return false
}
