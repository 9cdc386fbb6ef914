// Package patchloader batches patch history lookups for many documents of
// one tracked collection into a single store query.
package patchloader

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/repository"
)

// DefaultWait is how long the loader collects keys before dispatching a batch.
const DefaultWait = 5 * time.Millisecond

type PatchLoader struct {
	Loader *dataloader.Loader
}

// refKey keeps the native identity next to its string form so the batch
// function can query with the store's own identity type.
type refKey struct {
	ref any
}

func (k refKey) String() string {
	return domain.IdentityKey(k.ref)
}

func (k refKey) Raw() interface{} {
	return k.ref
}

// Key wraps a document identity as a loader key.
func Key(ref any) dataloader.Key {
	return refKey{ref: ref}
}

func NewPatchLoader(repo repository.PatchRepository, wait time.Duration) *PatchLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		refs := make([]any, len(keys))
		for i, k := range keys {
			refs[i] = k.Raw()
		}

		// Fetch patches in batch
		grouped, err := repo.ListByRefs(ctx, refs)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}
		if len(grouped) != len(keys) {
			err := fmt.Errorf("patch batch returned %d groups for %d keys", len(grouped), len(keys))
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// ListByRefs keeps key order
		results := make([]*dataloader.Result, len(keys))
		for i, patches := range grouped {
			results[i] = &dataloader.Result{Data: patches}
		}
		return results
	}

	if wait <= 0 {
		wait = DefaultWait
	}
	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))

	return &PatchLoader{Loader: loader}
}

// Load returns the patches of one document, oldest first.
func (l *PatchLoader) Load(ctx context.Context, ref any) ([]domain.Patch, error) {
	data, err := l.Loader.Load(ctx, Key(ref))()
	if err != nil {
		return nil, err
	}
	patches, ok := data.([]domain.Patch)
	if !ok {
		return nil, fmt.Errorf("unexpected patch loader result %T", data)
	}
	return patches, nil
}

// LoadMany returns the patches of several documents, in ref order.
func (l *PatchLoader) LoadMany(ctx context.Context, refs []any) ([][]domain.Patch, error) {
	keys := make(dataloader.Keys, len(refs))
	for i, ref := range refs {
		keys[i] = Key(ref)
	}
	data, errs := l.Loader.LoadMany(ctx, keys)()
	out := make([][]domain.Patch, len(refs))
	for i := range refs {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		patches, ok := data[i].([]domain.Patch)
		if !ok {
			return nil, fmt.Errorf("unexpected patch loader result %T", data[i])
		}
		out[i] = patches
	}
	return out, nil
}
