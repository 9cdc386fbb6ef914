package history

import "errors"

// Setup errors returned by Attach.
var (
	ErrMissingConnection    = errors.New("patch history: connection is required")
	ErrMissingName          = errors.New("patch history: name is required")
	ErrMissingSchemaFactory = errors.New("patch history: schema factory is required")
	ErrConflictingMethod    = errors.New("patch history: schema already defines a snapshot method")
	ErrNoIdentityType       = errors.New("patch history: schema has no identity field type")
	ErrInvalidInclude       = errors.New("patch history: invalid include definition")
)

// ErrVersionOutOfRange is returned by Reconstruct for a version beyond the
// recorded history.
var ErrVersionOutOfRange = errors.New("patch history: version out of range")
