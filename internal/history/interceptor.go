package history

import (
	"context"
	"errors"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/store"
	"github.com/rpattn/patchhistory/internal/store/query"
)

// pathwayLoad labels failures while attaching baselines to loaded documents.
const pathwayLoad odm.MutationKind = "load"

// Intercept implements odm.Interceptor. Each pathway captures its baseline,
// lets the write happen and then records the resulting patches. A failing
// stage aborts the pipeline and its error is returned as is.
func (t *Tracker) Intercept(ctx context.Context, m *odm.Mutation, next odm.Handler) error {
	switch m.Kind {
	case odm.MutationSave:
		return t.aroundSave(ctx, m, next)
	case odm.MutationRemove:
		return t.aroundRemove(ctx, m, next)
	case odm.MutationUpdateOne, odm.MutationUpdateMany, odm.MutationFindOneAndUpdate:
		return t.aroundUpdate(ctx, m, next)
	case odm.MutationDeleteOne, odm.MutationDeleteMany, odm.MutationFindOneAndDelete:
		return t.aroundDelete(ctx, m, next)
	}
	return next(ctx, m)
}

// AfterLoad attaches a fresh baseline to every document read from the store.
func (t *Tracker) AfterLoad(_ context.Context, doc *odm.Document) error {
	baseline, err := Capture(doc)
	if err != nil {
		return t.fail(pathwayLoad, stageSnapshot, err)
	}
	doc.SetBaseline(baseline)
	return nil
}

func (t *Tracker) aroundSave(ctx context.Context, m *odm.Mutation, next odm.Handler) error {
	doc := m.Document
	before := domain.EmptySnapshot()
	if !doc.IsNew() {
		if baseline, ok := doc.Baseline(); ok {
			before = baseline
		}
	}

	if err := next(ctx, m); err != nil {
		return err
	}

	current, err := t.createPatch(ctx, m, doc, before)
	if err != nil {
		return err
	}
	doc.SetBaseline(current)
	return nil
}

func (t *Tracker) aroundUpdate(ctx context.Context, m *odm.Mutation, next odm.Handler) error {
	state := &updateState{
		filter:    query.Clone(m.Filter),
		update:    query.Clone(m.Update),
		baselines: map[string]domain.Snapshot{},
	}

	if m.Kind == odm.MutationUpdateMany {
		docs, err := m.Model.Find(ctx, m.Filter, store.FindOptions{})
		if err != nil {
			return t.fail(m.Kind, stageBaseline, err)
		}
		for _, doc := range docs {
			baseline, err := Capture(doc)
			if err != nil {
				return t.fail(m.Kind, stageSnapshot, err)
			}
			state.add(doc.ID(), baseline)
		}
	} else {
		doc, err := m.Model.FindOne(ctx, m.Filter)
		switch {
		case errors.Is(err, odm.ErrNotFound):
			// an upsert may create the document; its baseline is {}
		case err != nil:
			return t.fail(m.Kind, stageBaseline, err)
		default:
			baseline, err := Capture(doc)
			if err != nil {
				return t.fail(m.Kind, stageSnapshot, err)
			}
			state.add(doc.ID(), baseline)
		}
	}

	ctx = withUpdateState(ctx, state)
	if err := next(ctx, m); err != nil {
		return err
	}
	return t.afterUpdate(ctx, m)
}

func (t *Tracker) afterUpdate(ctx context.Context, m *odm.Mutation) error {
	state, ok := updateStateFrom(ctx)
	if !ok {
		return nil
	}
	if !modified(m) {
		t.skip("not_modified", m.Kind)
		return nil
	}

	filter := affectedFilter(state, m.Kind == odm.MutationUpdateMany)

	var docs []*odm.Document
	if m.Kind == odm.MutationUpdateMany {
		found, err := m.Model.Find(ctx, filter, store.FindOptions{})
		if err != nil {
			return t.fail(m.Kind, stageResolve, err)
		}
		docs = found
	} else {
		doc, err := m.Model.FindOne(ctx, filter)
		if errors.Is(err, odm.ErrNotFound) {
			t.skip("no_target", m.Kind)
			return nil
		}
		if err != nil {
			return t.fail(m.Kind, stageResolve, err)
		}
		docs = []*odm.Document{doc}
	}

	for _, doc := range docs {
		if _, err := t.createPatch(ctx, m, doc, state.baseline(doc.ID())); err != nil {
			return err
		}
	}
	return nil
}

// modified reports whether an update changed or created anything.
// FindOneAndUpdate reports no counts, so a returned document or an upsert
// request counts as a change.
func modified(m *odm.Mutation) bool {
	if m.Kind == odm.MutationFindOneAndUpdate {
		return m.Document != nil || m.Options.Upsert
	}
	return m.Result.ModifiedCount > 0 || m.Result.Upserted()
}

// affectedFilter selects the documents an update touched, by the identities
// matched beforehand or, without any, by the merged conditions.
func affectedFilter(state *updateState, many bool) store.Filter {
	switch {
	case len(state.ids) == 0:
		return mergeConditions(state.filter, state.update)
	case many:
		ids := make([]any, len(state.ids))
		copy(ids, state.ids)
		return store.Filter{domain.IdentityField: map[string]any{"$in": ids}}
	default:
		return store.Filter{domain.IdentityField: map[string]any{"$eq": state.ids[0]}}
	}
}

func (t *Tracker) fail(kind odm.MutationKind, stage string, err error) error {
	pathway := string(kind)
	pipelineErrors.WithLabelValues(t.name, pathway, stage).Inc()
	t.settings.logger.Warn("patch history pipeline failed",
		"patch_model", t.name,
		"pathway", pathway,
		"stage", stage,
		"error", err,
	)
	return err
}

func (t *Tracker) skip(reason string, kind odm.MutationKind) {
	patchesSkipped.WithLabelValues(t.name, reason).Inc()
	t.settings.logger.Debug("patch skipped", "patch_model", t.name, "pathway", string(kind), "reason", reason)
}
