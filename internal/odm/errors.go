package odm

import (
	"errors"

	"github.com/rpattn/patchhistory/internal/store"
)

var (
	// ErrNotFound is returned when a single-document lookup matches nothing.
	// It is the store sentinel, so errors.Is works against either.
	ErrNotFound = store.ErrNotFound

	ErrMethodExists  = errors.New("method already defined on schema")
	ErrStaticExists  = errors.New("static already defined on schema")
	ErrVirtualExists = errors.New("virtual already defined on schema")
	ErrUnknownMethod = errors.New("method not defined on schema")
	ErrModelExists   = errors.New("model already registered")
	ErrUnknownModel  = errors.New("model not registered")
	ErrNoIdentity    = errors.New("schema has no identity field")
)
