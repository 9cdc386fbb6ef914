package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Snapshot is a plain, JSON-safe copy of a document's data used as a diff
// baseline. It never contains the identity field.
type Snapshot map[string]any

// EmptySnapshot is the baseline of a document that did not exist before.
func EmptySnapshot() Snapshot {
	return Snapshot{}
}

// NewSnapshot converts arbitrary document data into a JSON-safe snapshot.
// Store-native types (uuid.UUID, bson.ObjectID, time.Time) are encoded to
// their JSON form so structural comparison is deterministic.
func NewSnapshot(data map[string]any) (Snapshot, error) {
	if data == nil {
		return EmptySnapshot(), nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return Snapshot(out), nil
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	return Snapshot(cloneValue(map[string]any(s)).(map[string]any))
}

// Map exposes the snapshot as a plain map.
func (s Snapshot) Map() map[string]any {
	return map[string]any(s)
}

// PointerToDottedPath converts a JSON Pointer ("/a/b/0") into a dotted field
// path ("a.b.0"), unescaping "~1" and "~0".
func PointerToDottedPath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return ""
	}
	segments := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, segment := range segments {
		segment = strings.ReplaceAll(segment, "~1", "/")
		segments[i] = strings.ReplaceAll(segment, "~0", "~")
	}
	return strings.Join(segments, ".")
}

// ValueAtPath looks up a dotted path in nested maps and slices. Numeric
// segments index into slices. Missing paths yield nil.
func ValueAtPath(data map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var current any = data
	for _, segment := range strings.Split(path, ".") {
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[segment]
			if !ok {
				return nil
			}
			current = next
		case Snapshot:
			next, ok := typed[segment]
			if !ok {
				return nil
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(typed) {
				return nil
			}
			current = typed[idx]
		default:
			return nil
		}
	}
	return current
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}
