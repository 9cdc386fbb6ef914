package history

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/rpattn/patchhistory/internal/domain"
)

// Reconstruct rebuilds a document's tracked state after its first version
// patches, or after all of them when version is 0. The identity and
// timestamps are not part of the result.
func (t *Tracker) Reconstruct(ctx context.Context, ref any, version int) (map[string]any, error) {
	patches, err := t.repo.ListByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if version < 0 || version > len(patches) {
		return nil, fmt.Errorf("%w: %d of %d", ErrVersionOutOfRange, version, len(patches))
	}
	if version == 0 {
		version = len(patches)
	}
	return Replay(patches[:version])
}

// Replay applies patches in order to an empty document.
func Replay(patches []domain.Patch) (map[string]any, error) {
	doc := []byte("{}")
	for i, patch := range patches {
		encoded, err := json.Marshal(patch.Ops)
		if err != nil {
			return nil, fmt.Errorf("failed to encode patch %d: %w", i+1, err)
		}
		decoded, err := jsonpatch.DecodePatch(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode patch %d: %w", i+1, err)
		}
		doc, err = decoded.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to apply patch %d: %w", i+1, err)
		}
	}

	var state map[string]any
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, fmt.Errorf("failed to decode reconstructed state: %w", err)
	}
	return state, nil
}
