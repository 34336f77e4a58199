package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/facet-io/facet/model"
)

func deviceDef(t *testing.T) *model.AspectDef {
	t.Helper()
	def := model.NewAspectDef("device")
	require.NoError(t, def.AddProperty(model.NewPropertyDef("label", model.TypeString)))
	require.NoError(t, def.AddProperty(model.NewPropertyDef("reading", model.TypeFloat)))
	return def
}

// mappedStore builds a store whose "device" definition routes into a
// custom table under the requested key pattern.
func mappedStore(t *testing.T, def *model.AspectDef, hasCatalogID, hasEntityID bool) (*CatalogStore, *sql.DB, *model.AspectTableMapping) {
	t.Helper()
	store, testDB := newTestStore(t)

	mapping, err := model.NewAspectTableMapping(def, "devices", hasCatalogID, hasEntityID)
	require.NoError(t, err)
	require.NoError(t, store.Mappings().Register(mapping))
	require.NoError(t, store.CreateMappedTables(context.Background()))
	return store, testDB, mapping
}

func deviceCatalog(t *testing.T, def *model.AspectDef, entities ...*model.Entity) *model.Catalog {
	t.Helper()
	cat := model.NewCatalog(model.SpeciesSource)
	m, err := cat.Extend(def)
	require.NoError(t, err)
	for i, e := range entities {
		a := def.NewAspect(e)
		require.NoError(t, a.Set("label", "sensor"))
		require.NoError(t, a.Set("reading", float64(i)+0.5))
		require.NoError(t, m.Put(a))
	}
	return cat
}

func TestMappingRegistry_Register(t *testing.T) {
	def := deviceDef(t)
	reg := NewMappingRegistry()

	m1, err := model.NewAspectTableMapping(def, "devices", true, true)
	require.NoError(t, err)
	require.NoError(t, reg.Register(m1))
	// Same mapping again is a no-op.
	require.NoError(t, reg.Register(m1))

	m2, err := model.NewAspectTableMapping(def, "other_devices", true, true)
	require.NoError(t, err)
	require.Error(t, reg.Register(m2), "a second mapping for one definition must be rejected")

	got, ok := reg.Lookup("device")
	require.True(t, ok)
	require.Same(t, m1, got)
}

func TestCreateMappedTables_Idempotent(t *testing.T) {
	store, _, _ := mappedStore(t, deviceDef(t), true, true)
	require.NoError(t, store.CreateMappedTables(context.Background()))
}

func TestCreateTable_ShapeConflict(t *testing.T) {
	store, testDB := newTestStore(t)
	_, err := testDB.Exec("CREATE TABLE devices (something_else TEXT)")
	require.NoError(t, err)

	mapping, err := model.NewAspectTableMapping(deviceDef(t), "devices", true, true)
	require.NoError(t, err)
	require.NoError(t, store.Mappings().Register(mapping))
	require.Error(t, store.CreateMappedTables(context.Background()),
		"a pre-existing table with a different shape must fail loudly")
}

func TestKeyCatalogEntity_RoundTripAndScopedDelete(t *testing.T) {
	def := deviceDef(t)
	store, testDB := newTestStore(t)
	ctx := context.Background()

	mapping, err := model.NewAspectTableMapping(def, "devices", true, true)
	require.NoError(t, err)
	require.NoError(t, mapping.MapColumn("reading", "reading_value"))
	require.NoError(t, store.Mappings().Register(mapping))
	require.NoError(t, store.CreateMappedTables(ctx))

	e1, e2 := model.NewEntity(), model.NewEntity()
	cat := deviceCatalog(t, def, e1, e2)
	require.NoError(t, store.SaveCatalog(ctx, cat))
	require.Equal(t, 2, countRows(t, testDB, "devices"))

	// Values live in the custom table under the remapped column, not in the
	// generic value rows.
	var reading float64
	require.NoError(t, testDB.QueryRow(
		"SELECT reading_value FROM devices WHERE entity_id = ?", e1.ID().String()).Scan(&reading))
	require.Equal(t, 0.5, reading)
	require.Equal(t, 0, countRows(t, testDB, "property_value"))

	// Catalog-tagged tables are rewritten per save: no duplicates.
	require.NoError(t, store.SaveCatalog(ctx, cat))
	require.Equal(t, 2, countRows(t, testDB, "devices"))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	gotMap := loaded.Hierarchy("device").(*model.AspectMap)
	require.Equal(t, 2, gotMap.Len())
	a, ok := gotMap.Get(e1.ID())
	require.True(t, ok, "entity identity must round-trip under a composite key")
	require.Equal(t, "sensor", a.Property("label").Value())
	require.Equal(t, 0.5, a.Property("reading").Value())

	// A second catalog shares the table; deleting the first filters by
	// catalog id and leaves the second untouched.
	other := deviceCatalog(t, def, model.NewEntity())
	require.NoError(t, store.SaveCatalog(ctx, other))
	require.Equal(t, 3, countRows(t, testDB, "devices"))

	removed, err := store.DeleteCatalog(ctx, cat.ID())
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 1, countRows(t, testDB, "devices"))
}

func TestKeyEntity_UpsertByEntity(t *testing.T) {
	def := deviceDef(t)
	store, testDB, _ := mappedStore(t, def, false, true)
	ctx := context.Background()

	e := model.NewEntity()
	cat := deviceCatalog(t, def, e)
	require.NoError(t, store.SaveCatalog(ctx, cat))
	require.Equal(t, 1, countRows(t, testDB, "devices"))

	// Re-saving upserts on the entity key rather than appending.
	a, _ := cat.Hierarchy("device").(*model.AspectMap).Get(e.ID())
	require.NoError(t, a.Set("reading", 9.75))
	require.NoError(t, store.SaveCatalog(ctx, cat))
	require.Equal(t, 1, countRows(t, testDB, "devices"))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	got, ok := loaded.Hierarchy("device").(*model.AspectMap).Get(e.ID())
	require.True(t, ok, "entity identity must round-trip under an entity key")
	require.Equal(t, 9.75, got.Property("reading").Value())

	// No catalog column to filter on: deletion truncates the whole table.
	removed, err := store.DeleteCatalog(ctx, cat.ID())
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 0, countRows(t, testDB, "devices"))
}

func TestKeyCatalog_FreshEntitiesOnLoad(t *testing.T) {
	def := deviceDef(t)
	store, testDB, _ := mappedStore(t, def, true, false)
	ctx := context.Background()

	e := model.NewEntity()
	cat := deviceCatalog(t, def, e)
	require.NoError(t, store.SaveCatalog(ctx, cat))
	require.NoError(t, store.SaveCatalog(ctx, cat))
	require.Equal(t, 1, countRows(t, testDB, "devices"), "catalog-tagged rows are rewritten per save")

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	aspects := loaded.Hierarchy("device").(*model.AspectMap).Aspects()
	require.Len(t, aspects, 1)
	require.Equal(t, "sensor", aspects[0].Property("label").Value())
	// Without an entity column the original identity is unrecoverable.
	require.NotEqual(t, e.ID(), aspects[0].Entity().ID())

	// Rows of an unrelated catalog survive deletion.
	_, err = testDB.Exec(
		"INSERT INTO devices (catalog_id, label, reading) VALUES (?, 'other', 1.0)",
		uuid.New().String())
	require.NoError(t, err)

	removed, err := store.DeleteCatalog(ctx, cat.ID())
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 1, countRows(t, testDB, "devices"))
}

func TestKeyNone_AppendOnly(t *testing.T) {
	def := deviceDef(t)
	store, testDB, _ := mappedStore(t, def, false, false)
	ctx := context.Background()

	// No identity columns exist at all under this pattern.
	rows, err := testDB.Query("SELECT * FROM devices LIMIT 0")
	require.NoError(t, err)
	cols, err := rows.Columns()
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	require.Equal(t, []string{"label", "reading"}, cols)

	cat := deviceCatalog(t, def, model.NewEntity())
	require.NoError(t, store.SaveCatalog(ctx, cat))
	require.Equal(t, 1, countRows(t, testDB, "devices"))

	// No identifying column at all: every save appends.
	require.NoError(t, store.SaveCatalog(ctx, cat))
	require.Equal(t, 2, countRows(t, testDB, "devices"))

	loaded, err := store.LoadCatalog(ctx, cat.ID())
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Hierarchy("device").(*model.AspectMap).Len())

	// Deletion truncates: the table cannot distinguish owners.
	removed, err := store.DeleteCatalog(ctx, cat.ID())
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 0, countRows(t, testDB, "devices"))
}
