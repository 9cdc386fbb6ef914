package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Patch operation kinds produced by the diff engine.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

// Patch record field names. They are reserved and cannot be used by
// included fields.
const (
	PatchFieldDate = "date"
	PatchFieldOps  = "ops"
	PatchFieldRef  = "ref"
)

// Operation is a single JSON Patch (RFC 6902) operation.
type Operation struct {
	Op            string `json:"op"`
	Path          string `json:"path"`
	Value         any    `json:"value,omitempty"`
	OriginalValue any    `json:"originalValue,omitempty"`
}

// MarshalJSON keeps explicit null values on add and replace operations so
// the encoded patch can be replayed.
func (o Operation) MarshalJSON() ([]byte, error) {
	out := map[string]any{"op": o.Op, "path": o.Path}
	if o.Op == OpAdd || o.Op == OpReplace || o.Value != nil {
		out["value"] = o.Value
	}
	if o.OriginalValue != nil {
		out["originalValue"] = o.OriginalValue
	}
	return json.Marshal(out)
}

// ToMap converts the operation into the plain document form stored in the
// patch collection.
func (o Operation) ToMap() map[string]any {
	out := map[string]any{"op": o.Op, "path": o.Path}
	if o.Op == OpAdd || o.Op == OpReplace || o.Value != nil {
		out["value"] = o.Value
	}
	if o.OriginalValue != nil {
		out["originalValue"] = o.OriginalValue
	}
	return out
}

// Patch is one persisted change to a tracked document.
type Patch struct {
	ID       any            `json:"id"`
	Date     time.Time      `json:"date"`
	Ops      []Operation    `json:"ops"`
	Ref      any            `json:"ref"`
	Included map[string]any `json:"included,omitempty"`
}

// OpsToDocuments converts operations into store-friendly values.
func OpsToDocuments(ops []Operation) []any {
	out := make([]any, len(ops))
	for i, op := range ops {
		out[i] = op.ToMap()
	}
	return out
}

// OpsFromDocuments decodes stored operations. Values may come back from the
// store as any JSON-compatible shape, so they are normalized through JSON.
func OpsFromDocuments(raw any) ([]Operation, error) {
	if raw == nil {
		return []Operation{}, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stored ops: %w", err)
	}
	var ops []Operation
	if err := json.Unmarshal(encoded, &ops); err != nil {
		return nil, fmt.Errorf("failed to decode stored ops: %w", err)
	}
	if ops == nil {
		ops = []Operation{}
	}
	return ops, nil
}

// IdentityKey renders an identity as a comparable map key. Store-native
// identities (uuid.UUID, bson.ObjectID) and their string forms produce the
// same key.
func IdentityKey(id any) string {
	if s, ok := id.(string); ok {
		return s
	}
	encoded, err := json.Marshal(id)
	if err != nil {
		return fmt.Sprint(id)
	}
	var s string
	if err := json.Unmarshal(encoded, &s); err == nil {
		return s
	}
	return string(encoded)
}
