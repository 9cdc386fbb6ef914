package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rpattn/patchhistory/internal/patchloader"
	"github.com/rpattn/patchhistory/internal/repository"
)

type ctxKey string

const patchLoadersKey ctxKey = "patchLoaders"

// PatchSources resolves the patch repository of a tracked collection.
type PatchSources interface {
	Patches(collection string) (repository.PatchRepository, bool)
}

// Loaders holds the patch loaders of one request, created on first use per
// collection.
type Loaders struct {
	sources PatchSources
	wait    time.Duration

	mu      sync.Mutex
	loaders map[string]*patchloader.PatchLoader
}

func NewLoaders(sources PatchSources, wait time.Duration) *Loaders {
	return &Loaders{sources: sources, wait: wait, loaders: map[string]*patchloader.PatchLoader{}}
}

// For returns the loader of a collection, or false when it is not tracked.
func (l *Loaders) For(collection string) (*patchloader.PatchLoader, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if loader, ok := l.loaders[collection]; ok {
		return loader, true
	}
	repo, ok := l.sources.Patches(collection)
	if !ok {
		return nil, false
	}
	loader := patchloader.NewPatchLoader(repo, l.wait)
	l.loaders[collection] = loader
	return loader, true
}

// DataLoaderMiddleware attaches fresh patch loaders to the request context
// so lookups within one request are batched and cached.
func DataLoaderMiddleware(sources PatchSources, wait time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLoaders(r.Context(), NewLoaders(sources, wait))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithLoaders stores loaders in ctx.
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, patchLoadersKey, loaders)
}

// LoadersFromContext retrieves the request's patch loaders
func LoadersFromContext(ctx context.Context) *Loaders {
	if l, ok := ctx.Value(patchLoadersKey).(*Loaders); ok {
		return l
	}
	return nil
}
