package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/store/memstore"
)

func newTestRepository(t *testing.T, includes ...domain.FieldDefinition) (PatchRepository, *odm.Connection) {
	t.Helper()
	conn := odm.NewConnection(memstore.New())
	model, err := NewPatchModel(conn, PatchModelConfig{
		Name:          "postPatches",
		SchemaFactory: odm.NewSchema,
		RefType:       domain.FieldTypeMixed,
		Includes:      includes,
	})
	require.NoError(t, err)
	return NewPatchRepository(model), conn
}

func addOp(path string, value any) []domain.Operation {
	return []domain.Operation{{Op: domain.OpAdd, Path: path, Value: value}}
}

func TestNewPatchModelNaming(t *testing.T) {
	repo, conn := newTestRepository(t)

	assert.Equal(t, "PostPatches", repo.Model().Name())
	assert.Equal(t, "postPatches", repo.Model().Collection().Name())

	_, err := NewPatchModel(conn, PatchModelConfig{Name: "PostPatches", SchemaFactory: odm.NewSchema, RefType: domain.FieldTypeMixed})
	assert.ErrorIs(t, err, odm.ErrModelExists)
}

func TestPatchFieldsIndexRef(t *testing.T) {
	fields := PatchFields(domain.FieldTypeUUID, []domain.FieldDefinition{{Name: "user", Type: domain.FieldTypeString}})
	require.Len(t, fields, 4)

	ref := fields[2]
	assert.Equal(t, domain.PatchFieldRef, ref.Name)
	assert.Equal(t, domain.FieldTypeUUID, ref.Type)
	assert.True(t, ref.Index)
	assert.True(t, ref.Required)
	assert.Equal(t, "user", fields[3].Name)
}

func TestCreateAndListByRef(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, domain.FieldDefinition{Name: "user", Type: domain.FieldTypeString})

	first, err := repo.Create(ctx, domain.Patch{Ops: addOp("/title", "A"), Ref: "doc-1", Included: map[string]any{"user": "ada"}})
	require.NoError(t, err)
	assert.NotNil(t, first.ID)
	assert.False(t, first.Date.IsZero())

	_, err = repo.Create(ctx, domain.Patch{Ops: addOp("/title", "B"), Ref: "doc-2"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.Patch{Ops: addOp("/tags", []any{"x"}), Ref: "doc-1", Date: first.Date})
	require.NoError(t, err)

	patches, err := repo.ListByRef(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "/title", patches[0].Ops[0].Path)
	assert.Equal(t, "/tags", patches[1].Ops[0].Path, "ties keep insertion order")
	assert.Equal(t, map[string]any{"user": "ada"}, patches[0].Included)
	assert.Nil(t, patches[1].Included)

	n, err := repo.CountByRef(ctx, "doc-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestListByRefsIsParallel(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	for _, ref := range []string{"a", "b", "a"} {
		_, err := repo.Create(ctx, domain.Patch{Ops: addOp("/n", ref), Ref: ref})
		require.NoError(t, err)
	}

	got, err := repo.ListByRefs(ctx, []any{"b", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 1)
	assert.Empty(t, got[1])
	assert.NotNil(t, got[1])
	assert.Len(t, got[2], 2)
}

func TestListByRefOrdersByDate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	later := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	_, err := repo.Create(ctx, domain.Patch{Ops: addOp("/v", "later"), Ref: "x", Date: later})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.Patch{Ops: addOp("/v", "earlier"), Ref: "x", Date: earlier})
	require.NoError(t, err)

	patches, err := repo.ListByRef(ctx, "x")
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "earlier", patches[0].Ops[0].Value)
	assert.Equal(t, earlier, patches[0].Date)
}

func TestDeleteByRef(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	for _, ref := range []string{"a", "a", "b"} {
		_, err := repo.Create(ctx, domain.Patch{Ops: addOp("/n", 1), Ref: ref})
		require.NoError(t, err)
	}

	deleted, err := repo.DeleteByRef(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	n, err := repo.CountByRef(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = repo.CountByRef(ctx, "b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestToTime(t *testing.T) {
	want := time.Date(2024, 3, 4, 5, 6, 7, 8000000, time.UTC)

	got, err := toTime(want.Format(time.RFC3339Nano))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = toTime(42)
	assert.Error(t, err)
}
