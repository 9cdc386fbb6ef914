package history

import (
	"context"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/store"
)

// updateState carries what the pre-phase of a query-based update learned
// to its post-phase.
type updateState struct {
	filter store.Filter
	update store.Update
	// ids are the identities matched before the write, in match order.
	ids []any
	// baselines are keyed by domain.IdentityKey of the identity.
	baselines map[string]domain.Snapshot
}

func (s *updateState) add(id any, baseline domain.Snapshot) {
	s.ids = append(s.ids, id)
	s.baselines[domain.IdentityKey(id)] = baseline
}

func (s *updateState) baseline(id any) domain.Snapshot {
	if baseline, ok := s.baselines[domain.IdentityKey(id)]; ok {
		return baseline
	}
	return domain.EmptySnapshot()
}

type updateStateKey struct{}

func withUpdateState(ctx context.Context, state *updateState) context.Context {
	return context.WithValue(ctx, updateStateKey{}, state)
}

func updateStateFrom(ctx context.Context) (*updateState, bool) {
	state, ok := ctx.Value(updateStateKey{}).(*updateState)
	return state, ok
}
