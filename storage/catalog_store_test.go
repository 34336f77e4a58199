package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/facet-io/facet/model"
	"github.com/facet-io/facet/storage/testutil"
)

func newTestStore(t *testing.T) (*CatalogStore, *sql.DB) {
	t.Helper()
	testDB := testutil.SetupTestDB(t)
	t.Cleanup(func() { testDB.Close() })
	return NewCatalogStore(testDB, SQLiteDialect{}, nil, nil), testDB
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSaveCatalog_NilFailsBeforeIO(t *testing.T) {
	store, testDB := newTestStore(t)

	err := store.SaveCatalog(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, 0, countRows(t, testDB, "catalog"))
}

func TestLoadCatalog_AbsentIsNotAnError(t *testing.T) {
	store, _ := newTestStore(t)

	cat, err := store.LoadCatalog(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, cat)
}

func TestCatalogExists(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSource)
	require.NoError(t, store.SaveCatalog(ctx, cat))

	exists, err := store.CatalogExists(ctx, cat.ID())
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.CatalogExists(ctx, uuid.New())
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCatalogRecordRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	upstream := uuid.New()
	cat := model.NewCatalog(model.SpeciesMirror)
	cat.SetURI("facet://prod/main")
	cat.SetUpstream(upstream)
	cat.SetVersion(7)
	require.NoError(t, store.SaveCatalog(ctx, cat))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, cat.ID(), loaded.ID())
	require.Equal(t, model.SpeciesMirror, loaded.Species())
	require.Equal(t, "facet://prod/main", loaded.URI())
	require.NotNil(t, loaded.Upstream())
	require.Equal(t, upstream, *loaded.Upstream())
	require.Equal(t, int64(7), loaded.Version())
}

func TestEntityListRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSink)
	list := model.NewEntityList("queue")
	first := model.NewEntity()
	second := model.NewEntity()
	list.Append(first)
	list.Append(second)
	list.Append(first) // duplicates are allowed and ordered
	require.NoError(t, cat.AddHierarchy(list))
	require.NoError(t, store.SaveCatalog(ctx, cat))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	got := loaded.Hierarchy("queue").(*model.EntityList)
	require.Equal(t, 3, got.Len())
	require.Equal(t, first.ID(), got.At(0).ID())
	require.Equal(t, second.ID(), got.At(1).ID())
	require.Equal(t, first.ID(), got.At(2).ID())
	// One shared instance per identity after reload.
	require.Same(t, got.At(0), got.At(2))
}

func TestEntitySetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSink)
	set := model.NewEntitySet("members")
	a, b := model.NewEntity(), model.NewEntity()
	set.Add(a)
	set.Add(b)
	require.NoError(t, cat.AddHierarchy(set))
	require.NoError(t, store.SaveCatalog(ctx, cat))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	got := loaded.Hierarchy("members").(*model.EntitySet)
	require.Equal(t, 2, got.Len())
	require.True(t, got.Contains(model.EntityWithID(a.ID())))
	require.True(t, got.Contains(model.EntityWithID(b.ID())))
}

func TestEntityDirectoryRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSink)
	dir := model.NewEntityDirectory("index")
	alpha, beta := model.NewEntity(), model.NewEntity()
	dir.Put("alpha", alpha)
	dir.Put("beta", beta)
	require.NoError(t, cat.AddHierarchy(dir))
	require.NoError(t, store.SaveCatalog(ctx, cat))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	got := loaded.Hierarchy("index").(*model.EntityDirectory)
	require.Equal(t, []string{"alpha", "beta"}, got.Keys())
	e, ok := got.Get("alpha")
	require.True(t, ok)
	require.Equal(t, alpha.ID(), e.ID())
}

func TestEntityTreeRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSink)
	tree := model.NewEntityTree("layout")
	rootEntity := model.NewEntity()
	tree.Root().SetEntity(rootEntity)

	a, err := tree.Root().AddChild("a")
	require.NoError(t, err)
	_, err = tree.Root().AddChild("b")
	require.NoError(t, err)
	x, err := a.AddChild("x")
	require.NoError(t, err)
	_, err = a.AddChild("y")
	require.NoError(t, err)
	leafEntity := model.NewEntity()
	x.SetEntity(leafEntity)

	require.NoError(t, cat.AddHierarchy(tree))
	require.NoError(t, store.SaveCatalog(ctx, cat))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	got := loaded.Hierarchy("layout").(*model.EntityTree)

	require.Equal(t, 5, got.Len())
	require.Equal(t, []string{"a", "b"}, got.Root().ChildKeys())
	require.Equal(t, []string{"x", "y"}, got.Root().Child("a").ChildKeys())

	gx, ok := got.NodeAt("a/x")
	require.True(t, ok)
	require.Equal(t, "a/x", gx.Path())
	require.Equal(t, leafEntity.ID(), gx.Entity().ID())
	require.Same(t, got.Root().Child("a"), gx.Parent())
	require.Equal(t, rootEntity.ID(), got.Root().Entity().ID())
}

func profileDef(t *testing.T) *model.AspectDef {
	t.Helper()
	def := model.NewAspectDef("profile")
	require.NoError(t, def.AddProperty(model.NewPropertyDef("nickname", model.TypeString)))
	scores := model.NewPropertyDef("scores", model.TypeInteger)
	scores.Multivalued = true
	require.NoError(t, def.AddProperty(scores))
	require.NoError(t, def.AddProperty(model.NewPropertyDef("bio", model.TypeText)))
	return def
}

func TestAspectMapRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSource)
	def := profileDef(t)
	m, err := cat.Extend(def)
	require.NoError(t, err)

	e := model.NewEntity()
	a := def.NewAspect(e)
	require.NoError(t, a.Set("nickname", "ada"))
	require.NoError(t, a.SetList("scores", []interface{}{int64(3), int64(1), int64(2)}))
	require.NoError(t, a.Set("bio", nil)) // declared null, not absent
	require.NoError(t, m.Put(a))

	require.NoError(t, store.SaveCatalog(ctx, cat))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	gotMap := loaded.Hierarchy("profile").(*model.AspectMap)
	require.Equal(t, 1, gotMap.Len())

	got, ok := gotMap.Get(e.ID())
	require.True(t, ok)
	require.Equal(t, "ada", got.Property("nickname").Value())
	require.Equal(t, []interface{}{int64(3), int64(1), int64(2)}, got.Property("scores").Values())
	require.NotNil(t, got.Property("bio"))
	require.True(t, got.Property("bio").IsNull())
}

// A multivalued property saved as null and one saved as an empty sequence
// both persist as zero rows and both reload as an empty ordered sequence.
func TestMultivaluedNullAndEmptyAreIndistinguishable(t *testing.T) {
	store, testDB := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSource)
	def := profileDef(t)
	m, err := cat.Extend(def)
	require.NoError(t, err)

	asNull := def.NewAspect(model.NewEntity())
	require.NoError(t, asNull.SetList("scores", nil))
	asEmpty := def.NewAspect(model.NewEntity())
	require.NoError(t, asEmpty.SetList("scores", []interface{}{}))
	require.NoError(t, m.Put(asNull))
	require.NoError(t, m.Put(asEmpty))

	require.NoError(t, store.SaveCatalog(ctx, cat))

	var n int
	require.NoError(t, testDB.QueryRow(
		"SELECT COUNT(*) FROM property_value WHERE property_name = 'scores'").Scan(&n))
	require.Equal(t, 0, n)

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	for _, a := range loaded.Hierarchy("profile").(*model.AspectMap).Aspects() {
		scores := a.Property("scores")
		require.NotNil(t, scores)
		require.Empty(t, scores.Values())
		require.NotNil(t, scores.Values())
	}
}

// Updating a multivalued property from 3 to 5 elements fully replaces the
// old index rows.
func TestMultivaluedUpdateReplacesIndexRows(t *testing.T) {
	store, testDB := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSource)
	def := profileDef(t)
	m, err := cat.Extend(def)
	require.NoError(t, err)

	e := model.NewEntity()
	a := def.NewAspect(e)
	require.NoError(t, a.SetList("scores", []interface{}{int64(1), int64(2), int64(3)}))
	require.NoError(t, m.Put(a))
	require.NoError(t, store.SaveCatalog(ctx, cat))

	require.NoError(t, a.SetList("scores", []interface{}{int64(9), int64(8), int64(7), int64(6), int64(5)}))
	require.NoError(t, store.SaveCatalog(ctx, cat))

	var n int
	require.NoError(t, testDB.QueryRow(
		"SELECT COUNT(*) FROM property_value WHERE property_name = 'scores'").Scan(&n))
	require.Equal(t, 5, n)

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	got, _ := loaded.Hierarchy("profile").(*model.AspectMap).Get(e.ID())
	require.Equal(t,
		[]interface{}{int64(9), int64(8), int64(7), int64(6), int64(5)},
		got.Property("scores").Values())
}

// Saving an unchanged catalog twice produces no duplicate rows anywhere.
func TestDoubleSaveIsIdempotent(t *testing.T) {
	store, testDB := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSource)
	def := profileDef(t)
	m, err := cat.Extend(def)
	require.NoError(t, err)
	a := def.NewAspect(model.NewEntity())
	require.NoError(t, a.Set("nickname", "grace"))
	require.NoError(t, a.SetList("scores", []interface{}{int64(1)}))
	require.NoError(t, m.Put(a))

	list := model.NewEntityList("queue")
	list.Append(model.NewEntity())
	require.NoError(t, cat.AddHierarchy(list))

	tree := model.NewEntityTree("layout")
	_, err = tree.Root().AddChild("a")
	require.NoError(t, err)
	require.NoError(t, cat.AddHierarchy(tree))

	require.NoError(t, store.SaveCatalog(ctx, cat))

	tables := []string{
		"entity", "aspect_def", "property_def", "catalog", "catalog_aspect_def",
		"hierarchy", "aspect", "property_value", "hierarchy_entity_list",
		"hierarchy_entity_tree_node", "hierarchy_aspect_map",
	}
	before := make(map[string]int)
	for _, table := range tables {
		before[table] = countRows(t, testDB, table)
	}

	require.NoError(t, store.SaveCatalog(ctx, cat))

	for _, table := range tables {
		require.Equal(t, before[table], countRows(t, testDB, table), "table %s", table)
	}
}

func TestDeleteCatalog(t *testing.T) {
	store, testDB := newTestStore(t)
	ctx := context.Background()

	// Nonexistent id: no writes, returns false.
	removed, err := store.DeleteCatalog(ctx, uuid.New())
	require.NoError(t, err)
	require.False(t, removed)

	cat := model.NewCatalog(model.SpeciesSource)
	def := profileDef(t)
	m, err := cat.Extend(def)
	require.NoError(t, err)
	a := def.NewAspect(model.NewEntity())
	require.NoError(t, a.Set("nickname", "lin"))
	require.NoError(t, m.Put(a))
	list := model.NewEntityList("queue")
	list.Append(model.NewEntity())
	require.NoError(t, cat.AddHierarchy(list))
	require.NoError(t, store.SaveCatalog(ctx, cat))

	removed, err = store.DeleteCatalog(ctx, cat.ID())
	require.NoError(t, err)
	require.True(t, removed)

	// The catalog row cascade cleared every generic content table.
	for _, table := range []string{
		"catalog", "catalog_aspect_def", "hierarchy", "aspect",
		"property_value", "hierarchy_entity_list", "hierarchy_aspect_map",
	} {
		require.Equal(t, 0, countRows(t, testDB, table), "table %s", table)
	}

	exists, err := store.CatalogExists(ctx, cat.ID())
	require.NoError(t, err)
	require.False(t, exists)
}

// Content loads into an existing same-name hierarchy instance rather than
// creating a duplicate: the aspect map auto-created while definitions
// resolve is the instance the codec fills.
func TestLoadIntoExistingAspectMap(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cat := model.NewCatalog(model.SpeciesSource)
	def := profileDef(t)
	m, err := cat.Extend(def)
	require.NoError(t, err)
	a := def.NewAspect(model.NewEntity())
	require.NoError(t, a.Set("nickname", "kay"))
	require.NoError(t, m.Put(a))
	require.NoError(t, store.SaveCatalog(ctx, cat))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)

	maps := 0
	for _, h := range loaded.Hierarchies() {
		if h.Type() == model.HierarchyAspectMap {
			maps++
		}
	}
	require.Equal(t, 1, maps)
	require.Equal(t, 1, loaded.Hierarchy("profile").(*model.AspectMap).Len())
}
