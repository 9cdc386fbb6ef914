package history

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
	"github.com/rpattn/patchhistory/internal/store"
	"github.com/rpattn/patchhistory/internal/store/memstore"
)

var sortOps = cmpopts.SortSlices(func(a, b domain.Operation) bool { return a.Path < b.Path })

type fixture struct {
	conn    *odm.Connection
	schema  *odm.Schema
	posts   *odm.Model
	tracker *Tracker
}

func postFields() []domain.FieldDefinition {
	return []domain.FieldDefinition{
		{Name: "title", Type: domain.FieldTypeString},
		{Name: "tags", Type: domain.FieldTypeArray},
		{Name: "group", Type: domain.FieldTypeString},
		{Name: "author", Type: domain.FieldTypeString},
		{Name: "meta", Type: domain.FieldTypeObject},
	}
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	return newFixtureWith(t, memstore.New(), nil, opts...)
}

func newFixtureWith(t *testing.T, s store.Store, schemaOpts []odm.SchemaOption, opts ...Option) fixture {
	t.Helper()
	conn := odm.NewConnection(s)
	schema, err := odm.NewSchema(postFields(), schemaOpts...)
	require.NoError(t, err)

	tracker, err := Attach(schema, Config{Connection: conn, Name: "postPatches", SchemaFactory: odm.NewSchema}, opts...)
	require.NoError(t, err)

	posts, err := conn.Model("Post", schema)
	require.NoError(t, err)
	return fixture{conn: conn, schema: schema, posts: posts, tracker: tracker}
}

func (f fixture) patches(t *testing.T, ref any) []domain.Patch {
	t.Helper()
	patches, err := f.tracker.Patches().ListByRef(context.Background(), ref)
	require.NoError(t, err)
	return patches
}

func (f fixture) create(t *testing.T, data map[string]any) *odm.Document {
	t.Helper()
	doc, err := f.posts.Create(context.Background(), data)
	require.NoError(t, err)
	return doc
}

func assertOps(t *testing.T, want, got []domain.Operation) {
	t.Helper()
	if diff := cmp.Diff(want, got, sortOps); diff != "" {
		t.Fatalf("unexpected ops (-want +got):\n%s", diff)
	}
}

func TestCreateRecordsAddPatch(t *testing.T) {
	f := newFixture(t)
	doc := f.create(t, map[string]any{"title": "A"})

	patches := f.patches(t, doc.ID())
	require.Len(t, patches, 1)
	assert.Equal(t, doc.ID(), patches[0].Ref)
	assertOps(t, []domain.Operation{{Op: domain.OpAdd, Path: "/title", Value: "A"}}, patches[0].Ops)
	assert.False(t, patches[0].Date.IsZero())
}

func TestSaveRecordsIncrementalPatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.create(t, map[string]any{"title": "A"})

	doc.Set("title", "B")
	doc.Set("tags", []any{"x"})
	require.NoError(t, doc.Save(ctx))

	patches := f.patches(t, doc.ID())
	require.Len(t, patches, 2)
	assertOps(t, []domain.Operation{
		{Op: domain.OpReplace, Path: "/title", Value: "B"},
		{Op: domain.OpAdd, Path: "/tags", Value: []any{"x"}},
	}, patches[1].Ops)

	doc.Set("title", "C")
	require.NoError(t, doc.Save(ctx))
	patches = f.patches(t, doc.ID())
	require.Len(t, patches, 3)
	assertOps(t, []domain.Operation{{Op: domain.OpReplace, Path: "/title", Value: "C"}}, patches[2].Ops)
}

func TestSaveWithoutChangesRecordsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.create(t, map[string]any{"title": "A"})

	require.NoError(t, doc.Save(ctx))
	require.NoError(t, doc.Save(ctx))

	loaded, err := f.posts.FindByID(ctx, doc.ID())
	require.NoError(t, err)
	require.NoError(t, loaded.Save(ctx))

	assert.Len(t, f.patches(t, doc.ID()), 1)
}

func TestTimestampsAreNotTracked(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, memstore.New(), []odm.SchemaOption{odm.WithTimestamps()})
	doc := f.create(t, map[string]any{"title": "A"})

	patches := f.patches(t, doc.ID())
	require.Len(t, patches, 1)
	assertOps(t, []domain.Operation{{Op: domain.OpAdd, Path: "/title", Value: "A"}}, patches[0].Ops)

	// at most updatedAt changes, which leaves the tracked diff empty
	_, err := f.posts.UpdateOne(ctx, store.Filter{"_id": doc.ID()}, store.Update{"title": "A"})
	require.NoError(t, err)
	assert.Len(t, f.patches(t, doc.ID()), 1)
}

func TestUpdateOneResolvesByIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.create(t, map[string]any{"title": "A"})

	// the filter no longer matches after the write
	_, err := f.posts.UpdateOne(ctx, store.Filter{"title": "A"}, store.Update{"$set": map[string]any{"title": "B", "tags": []any{"x"}}})
	require.NoError(t, err)

	patches := f.patches(t, doc.ID())
	require.Len(t, patches, 2)
	assertOps(t, []domain.Operation{
		{Op: domain.OpReplace, Path: "/title", Value: "B"},
		{Op: domain.OpAdd, Path: "/tags", Value: []any{"x"}},
	}, patches[1].Ops)
}

func TestUpdateOneUpsertUsesEmptyBaseline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.posts.UpdateOne(ctx, store.Filter{"title": "U"}, store.Update{"$set": map[string]any{"tags": []any{"y"}}}, odm.Upsert())
	require.NoError(t, err)
	require.True(t, res.Upserted())

	patches := f.patches(t, res.UpsertedID)
	require.Len(t, patches, 1)
	assertOps(t, []domain.Operation{
		{Op: domain.OpAdd, Path: "/tags", Value: []any{"y"}},
		{Op: domain.OpAdd, Path: "/title", Value: "U"},
	}, patches[0].Ops)
}

func TestUpdateWithoutModificationRecordsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.create(t, map[string]any{"title": "A"})

	res, err := f.posts.UpdateOne(ctx, store.Filter{"title": "missing"}, store.Update{"$set": map[string]any{"title": "B"}})
	require.NoError(t, err)
	assert.Zero(t, res.MatchedCount)

	res, err = f.posts.UpdateOne(ctx, store.Filter{"_id": doc.ID()}, store.Update{"$set": map[string]any{"title": "A"}})
	require.NoError(t, err)
	assert.Zero(t, res.ModifiedCount)

	assert.Len(t, f.patches(t, doc.ID()), 1)
	n, err := f.tracker.Patches().Model().Count(ctx, store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestFindOneAndUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.create(t, map[string]any{"title": "A"})

	before, err := f.posts.FindOneAndUpdate(ctx, store.Filter{"title": "A"}, store.Update{"title": "B"})
	require.NoError(t, err)
	assert.Equal(t, "A", before.Get("title"))

	patches := f.patches(t, doc.ID())
	require.Len(t, patches, 2)
	assertOps(t, []domain.Operation{{Op: domain.OpReplace, Path: "/title", Value: "B"}}, patches[1].Ops)

	_, err = f.posts.FindOneAndUpdate(ctx, store.Filter{"title": "missing"}, store.Update{"title": "B"})
	assert.ErrorIs(t, err, odm.ErrNotFound)
	assert.Len(t, f.patches(t, doc.ID()), 2)
}

func TestFindOneAndUpdateUpsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.posts.FindOneAndUpdate(ctx, store.Filter{"title": "N"}, store.Update{"$set": map[string]any{"group": "g"}}, odm.Upsert(), odm.ReturnAfter())
	require.NoError(t, err)

	patches := f.patches(t, created.ID())
	require.Len(t, patches, 1)
	assertOps(t, []domain.Operation{
		{Op: domain.OpAdd, Path: "/group", Value: "g"},
		{Op: domain.OpAdd, Path: "/title", Value: "N"},
	}, patches[0].Ops)
}

func TestUpdateManyFansOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.create(t, map[string]any{"title": "A", "group": "g"})
	second := f.create(t, map[string]any{"title": "B", "group": "g"})
	unchanged := f.create(t, map[string]any{"title": "Z", "group": "g"})
	other := f.create(t, map[string]any{"title": "C", "group": "other"})

	res, err := f.posts.UpdateMany(ctx, store.Filter{"group": "g"}, store.Update{"$set": map[string]any{"title": "Z"}})
	require.NoError(t, err)
	require.EqualValues(t, 3, res.MatchedCount)
	require.EqualValues(t, 2, res.ModifiedCount)

	for _, doc := range []*odm.Document{first, second} {
		patches := f.patches(t, doc.ID())
		require.Len(t, patches, 2)
		assert.Equal(t, doc.ID(), patches[1].Ref)
		assertOps(t, []domain.Operation{{Op: domain.OpReplace, Path: "/title", Value: "Z"}}, patches[1].Ops)
	}
	assert.Len(t, f.patches(t, unchanged.ID()), 1)
	assert.Len(t, f.patches(t, other.ID()), 1)
}

func TestUpdateManyTracksDocumentsThatStopMatching(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	docs := []*odm.Document{
		f.create(t, map[string]any{"title": "A", "group": "g"}),
		f.create(t, map[string]any{"title": "B", "group": "g"}),
	}

	_, err := f.posts.UpdateMany(ctx, store.Filter{"group": "g"}, store.Update{"$set": map[string]any{"group": "h"}})
	require.NoError(t, err)

	for _, doc := range docs {
		patches := f.patches(t, doc.ID())
		require.Len(t, patches, 2)
		assertOps(t, []domain.Operation{{Op: domain.OpReplace, Path: "/group", Value: "h"}}, patches[1].Ops)
	}
}

func TestRemoveCascadesPatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.create(t, map[string]any{"title": "A"})
	doc.Set("title", "B")
	require.NoError(t, doc.Save(ctx))
	require.Len(t, f.patches(t, doc.ID()), 2)

	before := testutil.ToFloat64(patchesDeleted.WithLabelValues(f.tracker.Name()))
	require.NoError(t, doc.Remove(ctx))

	assert.Empty(t, f.patches(t, doc.ID()))
	assert.Equal(t, before+2, testutil.ToFloat64(patchesDeleted.WithLabelValues(f.tracker.Name())))
}

func TestRemoveKeepsPatchesWhenDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithRemovePatches(false))
	doc := f.create(t, map[string]any{"title": "A"})

	require.NoError(t, doc.Remove(ctx))
	_, err := f.posts.DeleteOne(ctx, store.Filter{"title": "A"})
	require.NoError(t, err)

	assert.Len(t, f.patches(t, doc.ID()), 1)
}

func TestQueryRemovalsCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	one := f.create(t, map[string]any{"title": "one"})
	two := f.create(t, map[string]any{"title": "two"})
	g1 := f.create(t, map[string]any{"title": "g1", "group": "g"})
	g2 := f.create(t, map[string]any{"title": "g2", "group": "g"})
	kept := f.create(t, map[string]any{"title": "kept"})

	n, err := f.posts.DeleteOne(ctx, store.Filter{"title": "one"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Empty(t, f.patches(t, one.ID()))

	deleted, err := f.posts.FindOneAndDelete(ctx, store.Filter{"title": "two"})
	require.NoError(t, err)
	assert.Equal(t, two.ID(), deleted.ID())
	assert.Empty(t, f.patches(t, two.ID()))

	n, err = f.posts.DeleteMany(ctx, store.Filter{"group": "g"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Empty(t, f.patches(t, g1.ID()))
	assert.Empty(t, f.patches(t, g2.ID()))

	// no target is a no-op
	n, err = f.posts.DeleteOne(ctx, store.Filter{"title": "missing"})
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Len(t, f.patches(t, kept.ID()), 1)
}

func TestTrackOriginalValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithTrackOriginalValue(true))
	doc := f.create(t, map[string]any{"title": "A", "meta": map[string]any{"level": "low"}})

	doc.Set("title", "B")
	doc.Set("meta.level", "high")
	require.NoError(t, doc.Save(ctx))

	patches := f.patches(t, doc.ID())
	require.Len(t, patches, 2)
	assert.Nil(t, patches[0].Ops[0].OriginalValue)
	assertOps(t, []domain.Operation{
		{Op: domain.OpReplace, Path: "/meta/level", Value: "high", OriginalValue: "low"},
		{Op: domain.OpReplace, Path: "/title", Value: "B", OriginalValue: "A"},
	}, patches[1].Ops)
}

func TestIncludesReadAliasWithQueryFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithIncludes(
		Include{Field: domain.FieldDefinition{Name: "user", Type: domain.FieldTypeString}, From: "author"},
		Include{Field: domain.FieldDefinition{Name: "reason", Type: domain.FieldTypeString}},
	))

	withAuthor, err := f.posts.Create(ctx, map[string]any{"title": "A", "author": "ada"}, odm.WithValue("author", "ignored"))
	require.NoError(t, err)
	patches := f.patches(t, withAuthor.ID())
	require.Len(t, patches, 1)
	assert.Equal(t, map[string]any{"user": "ada"}, patches[0].Included)

	anonymous, err := f.posts.Create(ctx, map[string]any{"title": "B"}, odm.WithValue("author", "bob"), odm.WithValue("reason", "import"))
	require.NoError(t, err)
	patches = f.patches(t, anonymous.ID())
	require.Len(t, patches, 1)
	assert.Equal(t, map[string]any{"user": "bob", "reason": "import"}, patches[0].Included)

	_, err = f.posts.UpdateOne(ctx, store.Filter{"_id": anonymous.ID()}, store.Update{"title": "C"}, odm.WithValue("author", "cy"))
	require.NoError(t, err)
	patches = f.patches(t, anonymous.ID())
	require.Len(t, patches, 2)
	assert.Equal(t, map[string]any{"user": "cy"}, patches[1].Included)
}

func TestIncludesReadVirtuals(t *testing.T) {
	conn := odm.NewConnection(memstore.New())
	schema, err := odm.NewSchema(postFields())
	require.NoError(t, err)
	require.NoError(t, schema.AddVirtual("headline", func(doc *odm.Document) any {
		return "# " + doc.Get("title").(string)
	}))

	tracker, err := Attach(schema, Config{Connection: conn, Name: "postPatches", SchemaFactory: odm.NewSchema},
		WithIncludes(Include{Field: domain.FieldDefinition{Name: "summary", Type: domain.FieldTypeString}, From: "headline"}))
	require.NoError(t, err)
	posts, err := conn.Model("Post", schema)
	require.NoError(t, err)

	doc, err := posts.Create(context.Background(), map[string]any{"title": "A"})
	require.NoError(t, err)

	patches, err := tracker.Patches().ListByRef(context.Background(), doc.ID())
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, "# A", patches[0].Included["summary"])
}

func TestSchemaAccessors(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, memstore.New(), []odm.SchemaOption{odm.WithTimestamps()})
	doc := f.create(t, map[string]any{"title": "A"})

	out, err := doc.Call(ctx, SnapshotMethod)
	require.NoError(t, err)
	assert.Equal(t, domain.Snapshot{"title": "A"}, out)

	repo, ok := PatchesOf(f.posts)
	require.True(t, ok)
	assert.Same(t, f.tracker.Patches(), repo)

	virtual, ok := doc.Get(PatchesVirtual).(*DocumentPatches)
	require.True(t, ok)
	patches, err := virtual.List(ctx)
	require.NoError(t, err)
	assert.Len(t, patches, 1)
	n, err := virtual.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCaptureIsSideEffectFree(t *testing.T) {
	f := newFixture(t)
	doc := f.posts.New(map[string]any{"title": "A", "meta": map[string]any{"n": 1}})

	first, err := Capture(doc)
	require.NoError(t, err)
	first["title"] = "changed"
	first["meta"].(map[string]any)["n"] = 2

	second, err := Capture(doc)
	require.NoError(t, err)
	assert.Equal(t, domain.Snapshot{"title": "A", "meta": map[string]any{"n": float64(1)}}, second)
	assert.NotNil(t, doc.ID())
	assert.Equal(t, 1, doc.Get("meta.n"))
}

func TestAttachSetupErrors(t *testing.T) {
	conn := odm.NewConnection(memstore.New())
	newSchema := func(opts ...odm.SchemaOption) *odm.Schema {
		schema, err := odm.NewSchema(postFields(), opts...)
		require.NoError(t, err)
		return schema
	}
	valid := Config{Connection: conn, Name: "postPatches", SchemaFactory: odm.NewSchema}

	_, err := Attach(newSchema(), Config{Name: "x", SchemaFactory: odm.NewSchema})
	assert.ErrorIs(t, err, ErrMissingConnection)

	_, err = Attach(newSchema(), Config{Connection: conn, Name: "  ", SchemaFactory: odm.NewSchema})
	assert.ErrorIs(t, err, ErrMissingName)

	_, err = Attach(newSchema(), Config{Connection: conn, Name: "x"})
	assert.ErrorIs(t, err, ErrMissingSchemaFactory)

	_, err = Attach(newSchema(odm.WithoutID()), valid)
	assert.ErrorIs(t, err, ErrNoIdentityType)

	conflicting := newSchema()
	require.NoError(t, conflicting.AddMethod(SnapshotMethod, func(context.Context, *odm.Document, ...any) (any, error) { return nil, nil }))
	_, err = Attach(conflicting, valid)
	assert.ErrorIs(t, err, ErrConflictingMethod)

	_, err = Attach(newSchema(), valid, WithIncludes(Include{Field: domain.FieldDefinition{Name: "ops", Type: domain.FieldTypeString}}))
	assert.ErrorIs(t, err, ErrInvalidInclude)

	_, err = Attach(newSchema(), valid, WithIncludes(Include{Field: domain.FieldDefinition{Name: "user", Type: "bogus"}}))
	assert.ErrorIs(t, err, ErrInvalidInclude)

	_, err = Attach(newSchema(), valid)
	require.NoError(t, err)
	_, err = Attach(newSchema(), valid)
	assert.ErrorIs(t, err, odm.ErrModelExists)
}

func TestAttachTwiceOnOneSchemaFails(t *testing.T) {
	conn := odm.NewConnection(memstore.New())
	schema, err := odm.NewSchema(postFields())
	require.NoError(t, err)

	_, err = Attach(schema, Config{Connection: conn, Name: "a", SchemaFactory: odm.NewSchema})
	require.NoError(t, err)
	_, err = Attach(schema, Config{Connection: conn, Name: "b", SchemaFactory: odm.NewSchema})
	assert.ErrorIs(t, err, ErrConflictingMethod)
}

func TestPatchRefUsesIdentityType(t *testing.T) {
	conn := odm.NewConnection(memstore.New())
	schema, err := odm.NewSchema(postFields(), odm.WithIDType(domain.FieldTypeUUID))
	require.NoError(t, err)

	tracker, err := Attach(schema, Config{Connection: conn, Name: "postPatches", SchemaFactory: odm.NewSchema})
	require.NoError(t, err)

	ref, ok := tracker.Patches().Model().Schema().Field(domain.PatchFieldRef)
	require.True(t, ok)
	assert.Equal(t, domain.FieldTypeUUID, ref.Type)
	assert.True(t, ref.Index)
	assert.Equal(t, "postPatches", tracker.Patches().Model().Collection().Name())
}

type failingStore struct {
	*memstore.Store
	collection string
	failInsert error
	failFind   error
}

func (s *failingStore) Collection(name string) store.Collection {
	c := s.Store.Collection(name)
	if name != s.collection {
		return c
	}
	return &failingCollection{Collection: c, store: s}
}

type failingCollection struct {
	store.Collection
	store *failingStore
}

func (c *failingCollection) InsertOne(ctx context.Context, doc store.Document) error {
	if c.store.failInsert != nil {
		return c.store.failInsert
	}
	return c.Collection.InsertOne(ctx, doc)
}

func (c *failingCollection) FindOne(ctx context.Context, filter store.Filter) (store.Document, error) {
	if c.store.failFind != nil {
		return nil, c.store.failFind
	}
	return c.Collection.FindOne(ctx, filter)
}

func (c *failingCollection) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]store.Document, error) {
	if c.store.failFind != nil {
		return nil, c.store.failFind
	}
	return c.Collection.Find(ctx, filter, opts)
}

func TestPatchPersistFailureFailsTheWrite(t *testing.T) {
	sentinel := errors.New("patch store unavailable")
	s := &failingStore{Store: memstore.New(), collection: "postPatches", failInsert: sentinel}
	f := newFixtureWith(t, s, nil)

	before := testutil.ToFloat64(pipelineErrors.WithLabelValues(f.tracker.Name(), string(odm.MutationSave), stagePersist))
	_, err := f.posts.Create(context.Background(), map[string]any{"title": "A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, before+1, testutil.ToFloat64(pipelineErrors.WithLabelValues(f.tracker.Name(), string(odm.MutationSave), stagePersist)))
}

func TestBaselineFailureAbortsUpdate(t *testing.T) {
	ctx := context.Background()
	sentinel := errors.New("read failed")
	s := &failingStore{Store: memstore.New(), collection: "post"}
	f := newFixtureWith(t, s, nil)
	doc := f.create(t, map[string]any{"title": "A"})

	s.failFind = sentinel
	_, err := f.posts.UpdateOne(ctx, store.Filter{"_id": doc.ID()}, store.Update{"title": "B"})
	assert.ErrorIs(t, err, sentinel)

	_, err = f.posts.UpdateMany(ctx, store.Filter{}, store.Update{"title": "B"})
	assert.ErrorIs(t, err, sentinel)

	_, err = f.posts.DeleteOne(ctx, store.Filter{"_id": doc.ID()})
	assert.ErrorIs(t, err, sentinel)

	s.failFind = nil
	loaded, err := f.posts.FindByID(ctx, doc.ID())
	require.NoError(t, err)
	assert.Equal(t, "A", loaded.Get("title"), "aborted writes never reach the store")
}

func TestCascadeFailureAbortsRemove(t *testing.T) {
	ctx := context.Background()
	sentinel := errors.New("patch lookup failed")
	s := &failingStore{Store: memstore.New(), collection: "postPatches"}
	f := newFixtureWith(t, s, nil)
	doc := f.create(t, map[string]any{"title": "A"})

	s.failFind = sentinel
	assert.ErrorIs(t, doc.Remove(ctx), sentinel)

	s.failFind = nil
	_, err := f.posts.FindByID(ctx, doc.ID())
	assert.NoError(t, err)
}

func TestDiffFailureFailsTheWrite(t *testing.T) {
	sentinel := errors.New("diff failed")
	f := newFixture(t, WithDiffEngine(engineFunc(func(domain.Snapshot, domain.Snapshot) ([]domain.Operation, error) {
		return nil, sentinel
	})))

	_, err := f.posts.Create(context.Background(), map[string]any{"title": "A"})
	assert.ErrorIs(t, err, sentinel)
}

type engineFunc func(before, after domain.Snapshot) ([]domain.Operation, error)

func (f engineFunc) Compare(before, after domain.Snapshot) ([]domain.Operation, error) {
	return f(before, after)
}

func TestReconstruct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.create(t, map[string]any{"title": "A", "tags": []any{"x"}})

	doc.Set("title", "B")
	doc.Set("tags", []any{"x", "y"})
	require.NoError(t, doc.Save(ctx))
	doc.Unset("tags")
	require.NoError(t, doc.Save(ctx))

	state, err := f.tracker.Reconstruct(ctx, doc.ID(), 0)
	require.NoError(t, err)
	current, err := Capture(doc)
	require.NoError(t, err)
	assert.Equal(t, current.Map(), state)

	state, err = f.tracker.Reconstruct(ctx, doc.ID(), 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "A", "tags": []any{"x"}}, state)

	state, err = f.tracker.Reconstruct(ctx, doc.ID(), 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "B", "tags": []any{"x", "y"}}, state)

	_, err = f.tracker.Reconstruct(ctx, doc.ID(), 4)
	assert.ErrorIs(t, err, ErrVersionOutOfRange)
}
