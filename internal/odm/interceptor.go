package odm

import (
	"context"

	"github.com/rpattn/patchhistory/internal/store"
)

// MutationKind names a write pathway dispatched through the interceptor chain.
type MutationKind string

const (
	MutationSave             MutationKind = "save"
	MutationRemove           MutationKind = "remove"
	MutationUpdateOne        MutationKind = "updateOne"
	MutationUpdateMany       MutationKind = "updateMany"
	MutationFindOneAndUpdate MutationKind = "findOneAndUpdate"
	MutationDeleteOne        MutationKind = "deleteOne"
	MutationDeleteMany       MutationKind = "deleteMany"
	MutationFindOneAndDelete MutationKind = "findOneAndDelete"
)

// IsUpdate reports whether the kind is a query-based update.
func (k MutationKind) IsUpdate() bool {
	return k == MutationUpdateOne || k == MutationUpdateMany || k == MutationFindOneAndUpdate
}

// Mutation describes one write as it travels through the interceptor chain.
// Inputs are set by the model before dispatch; outputs are filled in by the
// store write at the end of the chain.
type Mutation struct {
	Kind  MutationKind
	Model *Model

	// Document is the instance for save and remove. For FindOneAndUpdate and
	// FindOneAndDelete it holds the returned document after the write, or nil.
	Document *Document

	Filter  store.Filter
	Update  store.Update
	Options QueryOptions

	Result  store.UpdateResult
	Deleted int64
}

// Handler performs the rest of a mutation.
type Handler func(ctx context.Context, m *Mutation) error

// Interceptor wraps every mutation of a schema's models. Intercept must call
// next to let the write happen; whatever it returns is what the caller of the
// mutation sees. AfterLoad runs for every document read from the store.
type Interceptor interface {
	Intercept(ctx context.Context, m *Mutation, next Handler) error
	AfterLoad(ctx context.Context, doc *Document) error
}

func chain(interceptors []Interceptor, final Handler) Handler {
	h := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor, next := interceptors[i], h
		h = func(ctx context.Context, m *Mutation) error {
			return interceptor.Intercept(ctx, m, next)
		}
	}
	return h
}

// QueryOptions tune query-based writes.
type QueryOptions struct {
	Upsert      bool
	ReturnAfter bool
	// Values are caller-supplied values visible to interceptors, e.g. the
	// author of a change that is not stored on the document itself.
	Values map[string]any
}

// Value returns a caller-supplied value.
func (o QueryOptions) Value(key string) (any, bool) {
	v, ok := o.Values[key]
	return v, ok
}

// QueryOption sets a QueryOptions field.
type QueryOption func(*QueryOptions)

// Upsert inserts a document when the filter matches nothing.
func Upsert() QueryOption {
	return func(o *QueryOptions) { o.Upsert = true }
}

// ReturnAfter makes FindOneAndUpdate return the updated document.
func ReturnAfter() QueryOption {
	return func(o *QueryOptions) { o.ReturnAfter = true }
}

// WithValue attaches a caller-supplied value to the write.
func WithValue(key string, value any) QueryOption {
	return func(o *QueryOptions) {
		if o.Values == nil {
			o.Values = map[string]any{}
		}
		o.Values[key] = value
	}
}

func buildQueryOptions(opts []QueryOption) QueryOptions {
	var out QueryOptions
	for _, opt := range opts {
		opt(&out)
	}
	return out
}
