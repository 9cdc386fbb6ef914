package repository

import (
	"context"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
)

// PatchRepository defines the interface for patch history operations
type PatchRepository interface {
	Create(ctx context.Context, patch domain.Patch) (domain.Patch, error)
	// ListByRef returns the patches of one document, oldest first.
	ListByRef(ctx context.Context, ref any) ([]domain.Patch, error)
	// ListByRefs returns the patches of several documents in one query,
	// parallel to refs.
	ListByRefs(ctx context.Context, refs []any) ([][]domain.Patch, error)
	CountByRef(ctx context.Context, ref any) (int64, error)
	// DeleteByRef deletes every patch of a document and reports how many.
	DeleteByRef(ctx context.Context, ref any) (int64, error)
	Model() *odm.Model
}
