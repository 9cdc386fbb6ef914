package history

import (
	"context"
	"errors"

	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/store"
)

func (t *Tracker) aroundRemove(ctx context.Context, m *odm.Mutation, next odm.Handler) error {
	if t.settings.removePatches {
		if err := t.DeletePatches(ctx, m.Document); err != nil {
			return t.fail(m.Kind, stageCascade, err)
		}
	}
	return next(ctx, m)
}

// aroundDelete resolves the documents a query-based removal will delete and
// removes their patches first. A filter matching nothing is a no-op.
func (t *Tracker) aroundDelete(ctx context.Context, m *odm.Mutation, next odm.Handler) error {
	if !t.settings.removePatches {
		return next(ctx, m)
	}

	var targets []*odm.Document
	if m.Kind == odm.MutationDeleteMany {
		docs, err := m.Model.Find(ctx, m.Filter, store.FindOptions{})
		if err != nil {
			return t.fail(m.Kind, stageResolve, err)
		}
		targets = docs
	} else {
		doc, err := m.Model.FindOne(ctx, m.Filter)
		switch {
		case errors.Is(err, odm.ErrNotFound):
		case err != nil:
			return t.fail(m.Kind, stageResolve, err)
		default:
			targets = []*odm.Document{doc}
		}
	}

	for _, doc := range targets {
		if err := t.DeletePatches(ctx, doc); err != nil {
			return t.fail(m.Kind, stageCascade, err)
		}
	}
	return next(ctx, m)
}

// DeletePatches deletes every patch recorded for doc.
func (t *Tracker) DeletePatches(ctx context.Context, doc *odm.Document) error {
	deleted, err := t.repo.DeleteByRef(ctx, doc.ID())
	if deleted > 0 {
		patchesDeleted.WithLabelValues(t.name).Add(float64(deleted))
	}
	if err != nil {
		return err
	}
	t.settings.logger.Debug("patches deleted", "patch_model", t.name, "ref", doc.ID(), "count", deleted)
	return nil
}
