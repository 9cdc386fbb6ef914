package history

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/store"
)

func TestMergeConditions(t *testing.T) {
	tests := []struct {
		name   string
		filter store.Filter
		update store.Update
		want   store.Filter
	}{
		{
			name:   "set overrides filter values",
			filter: store.Filter{"title": "A", "count": map[string]any{"$gt": 1}},
			update: store.Update{"$set": map[string]any{"title": "B"}, "$inc": map[string]any{"views": 1}},
			want:   store.Filter{"title": "B", "count": map[string]any{"$gt": 1}},
		},
		{
			name:   "plain update merges as is",
			filter: store.Filter{"group": "g"},
			update: store.Update{"title": "B"},
			want:   store.Filter{"group": "g", "title": "B"},
		},
		{
			name:   "operator keys are dropped",
			filter: store.Filter{"$or": []any{map[string]any{"a": 1}}, "b": 2},
			update: store.Update{"$unset": map[string]any{"c": ""}},
			want:   store.Filter{"b": 2},
		},
		{
			name:   "nested objects are deep merged",
			filter: store.Filter{"meta": map[string]any{"a": 1}},
			update: store.Update{"$set": map[string]any{"meta": map[string]any{"b": 2}}},
			want:   store.Filter{"meta": map[string]any{"a": 1, "b": 2}},
		},
		{
			name: "empty inputs",
			want: store.Filter{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeConditions(tt.filter, tt.update)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mergeConditions() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeConditionsLeavesInputsIntact(t *testing.T) {
	filter := store.Filter{"meta": map[string]any{"a": 1}}
	update := store.Update{"$set": map[string]any{"meta": map[string]any{"b": 2}}}

	mergeConditions(filter, update)

	if diff := cmp.Diff(store.Filter{"meta": map[string]any{"a": 1}}, filter); diff != "" {
		t.Errorf("filter was mutated:\n%s", diff)
	}
}

func TestUpdateStateMatchesIdentityForms(t *testing.T) {
	id := uuid.New()
	state := &updateState{baselines: map[string]domain.Snapshot{}}
	state.add(id, domain.Snapshot{"title": "A"})

	if diff := cmp.Diff(domain.Snapshot{"title": "A"}, state.baseline(id.String())); diff != "" {
		t.Errorf("baseline by string identity (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(domain.EmptySnapshot(), state.baseline(uuid.New())); diff != "" {
		t.Errorf("baseline of unknown identity (-want +got):\n%s", diff)
	}
	if len(state.ids) != 1 || state.ids[0] != id {
		t.Errorf("ids = %v, want [%v]", state.ids, id)
	}
}
