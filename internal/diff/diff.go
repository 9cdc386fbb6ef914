// Package diff computes JSON Patch operations between document snapshots.
package diff

import (
	"fmt"

	"github.com/wI2L/jsondiff"

	"github.com/rpattn/patchhistory/internal/domain"
)

// Engine compares two snapshots. Implementations must be pure: equal inputs
// yield equal operations.
type Engine interface {
	Compare(before, after domain.Snapshot) ([]domain.Operation, error)
}

// JSONDiff is the default Engine, backed by jsondiff.
type JSONDiff struct {
	opts []jsondiff.Option
}

// New returns the default engine. Options are passed through to jsondiff,
// e.g. jsondiff.LCS() for minimal array diffs.
func New(opts ...jsondiff.Option) *JSONDiff {
	return &JSONDiff{opts: opts}
}

// Compare returns the operations turning before into after.
func (e *JSONDiff) Compare(before, after domain.Snapshot) ([]domain.Operation, error) {
	if before == nil {
		before = domain.EmptySnapshot()
	}
	if after == nil {
		after = domain.EmptySnapshot()
	}
	patch, err := jsondiff.Compare(map[string]any(before), map[string]any(after), e.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to compare snapshots: %w", err)
	}
	ops := make([]domain.Operation, 0, len(patch))
	for _, op := range patch {
		switch op.Type {
		case jsondiff.OperationAdd, jsondiff.OperationRemove, jsondiff.OperationReplace:
		default:
			return nil, fmt.Errorf("unsupported diff operation %q at %s", op.Type, op.Path)
		}
		out := domain.Operation{Op: op.Type, Path: op.Path}
		if op.Type != jsondiff.OperationRemove {
			out.Value = op.Value
		}
		ops = append(ops, out)
	}
	return ops, nil
}

// AnnotateOriginalValues sets OriginalValue on every operation to the value
// found in before at the operation's path.
func AnnotateOriginalValues(ops []domain.Operation, before domain.Snapshot) {
	for i := range ops {
		ops[i].OriginalValue = domain.ValueAtPath(before, domain.PointerToDottedPath(ops[i].Path))
	}
}
