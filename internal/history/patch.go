package history

import (
	"context"

	"github.com/rpattn/patchhistory/internal/diff"
	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
)

// createPatch diffs before against the document's current state and stores
// the result when it is not empty. It returns the current snapshot.
func (t *Tracker) createPatch(ctx context.Context, m *odm.Mutation, doc *odm.Document, before domain.Snapshot) (domain.Snapshot, error) {
	current, err := Capture(doc)
	if err != nil {
		return nil, t.fail(m.Kind, stageSnapshot, err)
	}

	ops, err := t.settings.engine.Compare(before, current)
	if err != nil {
		return nil, t.fail(m.Kind, stageDiff, err)
	}
	if len(ops) == 0 {
		t.skip("empty_diff", m.Kind)
		return current, nil
	}
	if t.settings.trackOriginalValue {
		diff.AnnotateOriginalValues(ops, before)
	}

	patch := domain.Patch{
		Ops:      ops,
		Ref:      doc.ID(),
		Included: t.resolveIncludes(doc, m.Options),
	}
	if _, err := t.repo.Create(ctx, patch); err != nil {
		return nil, t.fail(m.Kind, stagePersist, err)
	}

	patchesCreated.WithLabelValues(t.name, string(m.Kind)).Inc()
	t.settings.logger.Debug("patch created",
		"patch_model", t.name,
		"pathway", string(m.Kind),
		"ref", doc.ID(),
		"ops", len(ops),
	)
	return current, nil
}

// resolveIncludes evaluates every include against the document, falling
// back to the query option of the same source key when the document has no
// value.
func (t *Tracker) resolveIncludes(doc *odm.Document, opts odm.QueryOptions) map[string]any {
	if len(t.settings.includes) == 0 {
		return nil
	}
	out := make(map[string]any, len(t.settings.includes))
	for _, include := range t.settings.includes {
		source := include.source()
		value := doc.Get(source)
		if value == nil {
			value, _ = opts.Value(source)
		}
		if populated, ok := value.(*odm.Document); ok {
			value = populated.ID()
		}
		if value != nil {
			out[include.Field.Name] = value
		}
	}
	return out
}
