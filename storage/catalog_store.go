package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facet-io/facet/errors"
	"github.com/facet-io/facet/model"
)

// Catalog and definition queries.
const (
	catalogUpsertQuery = `
		INSERT INTO catalog (id, species, uri, upstream_id, version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			species = excluded.species,
			uri = excluded.uri,
			upstream_id = excluded.upstream_id,
			version = excluded.version`

	catalogSelectQuery = `
		SELECT species, uri, upstream_id, version FROM catalog WHERE id = ?`

	catalogExistsQuery = `
		SELECT EXISTS(SELECT 1 FROM catalog WHERE id = ?)`

	catalogDeleteQuery = `
		DELETE FROM catalog WHERE id = ?`

	aspectDefExistsQuery = `
		SELECT EXISTS(SELECT 1 FROM aspect_def WHERE name = ?)`
	aspectDefInsertQuery = `
		INSERT INTO aspect_def (name, immutable, allow_add, allow_remove)
		VALUES (?, ?, ?, ?)`
	aspectDefSelectQuery = `
		SELECT ad.name, ad.immutable, ad.allow_add, ad.allow_remove
		FROM catalog_aspect_def cad
		JOIN aspect_def ad ON ad.name = cad.aspect_def_name
		WHERE cad.catalog_id = ?
		ORDER BY ad.name`

	propertyDefInsertQuery = `
		INSERT INTO property_def
			(aspect_def_name, name, seq, property_type, multivalued, nullable,
			 default_value, readable, writable, removable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	propertyDefSelectQuery = `
		SELECT name, property_type, multivalued, nullable, default_value,
		       readable, writable, removable
		FROM property_def WHERE aspect_def_name = ? ORDER BY seq`

	catalogAspectDefLinkQuery = `
		INSERT INTO catalog_aspect_def (catalog_id, aspect_def_name)
		VALUES (?, ?) ON CONFLICT (catalog_id, aspect_def_name) DO NOTHING`

	hierarchyUpsertQuery = `
		INSERT INTO hierarchy (catalog_id, name, hierarchy_type, version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (catalog_id, name) DO UPDATE SET
			hierarchy_type = excluded.hierarchy_type,
			version = excluded.version`
	hierarchySelectQuery = `
		SELECT name, hierarchy_type, version FROM hierarchy
		WHERE catalog_id = ? ORDER BY name`
)

// CatalogStore coordinates atomic save, load, and delete of whole catalogs
// across the generic schema and all registered custom-mapped tables. Each
// operation runs inside exactly one transaction; conflict resolution
// between concurrent operations is delegated to the database's isolation
// level, and callers serialize operations against the same catalog id.
type CatalogStore struct {
	db       *sql.DB
	dialect  Dialect
	mappings *MappingRegistry
	tables   *TableMapper
	logger   *zap.SugaredLogger
}

// NewCatalogStore creates a store over db for the given dialect. mappings
// may be nil when no custom tables are registered; logger may be nil for
// silent operation.
func NewCatalogStore(db *sql.DB, dialect Dialect, mappings *MappingRegistry, logger *zap.SugaredLogger) *CatalogStore {
	if mappings == nil {
		mappings = NewMappingRegistry()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CatalogStore{
		db:       db,
		dialect:  dialect,
		mappings: mappings,
		tables:   NewTableMapper(dialect),
		logger:   logger,
	}
}

// Mappings returns the store's mapping registry.
func (s *CatalogStore) Mappings() *MappingRegistry { return s.mappings }

func (s *CatalogStore) q(query string) string { return s.dialect.Rebind(query) }

// CreateMappedTables issues idempotent table creation for every registered
// mapping. Expected to run once at setup time, outside the per-request
// transaction boundary.
func (s *CatalogStore) CreateMappedTables(ctx context.Context) error {
	for _, m := range s.mappings.All() {
		if err := s.tables.CreateTable(ctx, s.db, m); err != nil {
			return err
		}
		s.logger.Debugw("Custom table ready",
			"table", m.TableName(),
			"aspect_def", m.Def().Name(),
		)
	}
	return nil
}

// SaveCatalog persists the whole catalog atomically: its entity, aspect
// definitions, the catalog record, and every hierarchy's content. Any
// failure rolls back the entire transaction, leaving no partial state.
func (s *CatalogStore) SaveCatalog(ctx context.Context, cat *model.Catalog) error {
	if cat == nil {
		return errors.NewValidationError("catalog is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin save transaction")
	}
	defer tx.Rollback() // Rollback if not committed

	if err := s.ensureEntity(ctx, tx, cat.ID()); err != nil {
		return err
	}

	for _, def := range cat.AspectDefs() {
		if err := s.saveAspectDef(ctx, tx, def); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(catalogAspectDefLinkQuery), cat.ID().String(), def.Name()); err != nil {
			return errors.Wrapf(err, "link definition %q", def.Name())
		}
	}

	var upstream interface{}
	if u := cat.Upstream(); u != nil {
		upstream = u.String()
	}
	_, err = tx.ExecContext(ctx, s.q(catalogUpsertQuery),
		cat.ID().String(), cat.Species().Tag(), cat.URI(), upstream, cat.Version())
	if err != nil {
		return errors.Wrap(err, "save catalog record")
	}

	for _, h := range cat.Hierarchies() {
		_, err := tx.ExecContext(ctx, s.q(hierarchyUpsertQuery),
			cat.ID().String(), h.Name(), h.Type().Tag(), h.Version())
		if err != nil {
			return errors.Wrapf(err, "save hierarchy record %q", h.Name())
		}
		if err := s.saveHierarchyContent(ctx, tx, cat.ID(), h); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit save transaction")
	}
	s.logger.Debugw("Catalog saved",
		"catalog_id", cat.ID(),
		"aspect_defs", len(cat.AspectDefs()),
		"hierarchies", len(cat.Hierarchies()),
	)
	return nil
}

// saveAspectDef persists a definition and its properties, insert-if-absent
// by name. A name collision with an already-stored definition is a no-op:
// the stored shape wins and is never merged.
func (s *CatalogStore) saveAspectDef(ctx context.Context, tx *sql.Tx, def *model.AspectDef) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, s.q(aspectDefExistsQuery), def.Name()).Scan(&exists); err != nil {
		return errors.Wrapf(err, "probe definition %q", def.Name())
	}
	if exists {
		return nil
	}

	_, err := tx.ExecContext(ctx, s.q(aspectDefInsertQuery),
		def.Name(), def.Immutable(), def.AllowsAdd(), def.AllowsRemove())
	if err != nil {
		return errors.Wrapf(err, "save definition %q", def.Name())
	}

	for i, p := range def.Properties() {
		var defaultValue interface{}
		if p.DefaultValue != nil {
			text, err := FormatScalar(p.Type, p.DefaultValue)
			if err != nil {
				return errors.Wrapf(err, "definition %q property %q", def.Name(), p.Name)
			}
			defaultValue = text
		}
		_, err := tx.ExecContext(ctx, s.q(propertyDefInsertQuery),
			def.Name(), p.Name, i, p.Type.Tag(), p.Multivalued, p.Nullable,
			defaultValue, p.Readable, p.Writable, p.Removable)
		if err != nil {
			return errors.Wrapf(err, "save property definition %q.%q", def.Name(), p.Name)
		}
	}
	return nil
}

// LoadCatalog reconstructs the catalog object graph for an id. An absent
// catalog is not an error: the result is (nil, nil). Aspect definitions
// resolve before hierarchies, since aspect maps need their definition; if
// a hierarchy with the target name already exists on the catalog (the
// aspect maps auto-created by Extend), content loads into that instance.
func (s *CatalogStore) LoadCatalog(ctx context.Context, id uuid.UUID) (*model.Catalog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin load transaction")
	}
	defer tx.Rollback()

	var (
		speciesTag string
		uri        sql.NullString
		upstream   sql.NullString
		version    int64
	)
	err = tx.QueryRowContext(ctx, s.q(catalogSelectQuery), id.String()).
		Scan(&speciesTag, &uri, &upstream, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load catalog %s", id)
	}

	species, err := model.ParseSpecies(speciesTag)
	if err != nil {
		return nil, err
	}
	cat := model.NewCatalogWithID(id, species)
	if uri.Valid {
		cat.SetURI(uri.String)
	}
	if upstream.Valid {
		up, err := uuid.Parse(upstream.String)
		if err != nil {
			return nil, errors.NewCorruptionError("catalog %s: bad upstream id %q", id, upstream.String)
		}
		cat.SetUpstream(up)
	}
	cat.SetVersion(version)

	reg := model.NewEntityRegistry()
	reg.Register(cat.Entity())

	if err := s.loadAspectDefs(ctx, tx, cat); err != nil {
		return nil, err
	}
	if err := s.loadHierarchies(ctx, tx, cat, reg); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit load transaction")
	}
	return cat, nil
}

// loadAspectDefs resolves the catalog's definitions and extends the
// catalog with each, auto-creating their aspect-map hierarchies.
func (s *CatalogStore) loadAspectDefs(ctx context.Context, tx *sql.Tx, cat *model.Catalog) error {
	rows, err := tx.QueryContext(ctx, s.q(aspectDefSelectQuery), cat.ID().String())
	if err != nil {
		return errors.Wrap(err, "load definitions")
	}

	type defRow struct {
		name                           string
		immutable, allowAdd, allowRemove bool
	}
	var defRows []defRow
	for rows.Next() {
		var r defRow
		if err := rows.Scan(&r.name, &r.immutable, &r.allowAdd, &r.allowRemove); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan definition")
		}
		defRows = append(defRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range defRows {
		def := model.RestoreAspectDef(r.name, r.immutable, r.allowAdd, r.allowRemove)
		if err := s.loadPropertyDefs(ctx, tx, def); err != nil {
			return err
		}
		if _, err := cat.Extend(def); err != nil {
			return err
		}
	}
	return nil
}

func (s *CatalogStore) loadPropertyDefs(ctx context.Context, tx *sql.Tx, def *model.AspectDef) error {
	rows, err := tx.QueryContext(ctx, s.q(propertyDefSelectQuery), def.Name())
	if err != nil {
		return errors.Wrapf(err, "load properties of %q", def.Name())
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p          model.PropertyDef
			typeTag    string
			defaultVal sql.NullString
		)
		if err := rows.Scan(&p.Name, &typeTag, &p.Multivalued, &p.Nullable,
			&defaultVal, &p.Readable, &p.Writable, &p.Removable); err != nil {
			return errors.Wrapf(err, "scan property of %q", def.Name())
		}
		t, err := model.ParsePropertyType(typeTag)
		if err != nil {
			return err
		}
		p.Type = t
		if defaultVal.Valid {
			v, err := ParseScalar(t, defaultVal.String)
			if err != nil {
				return errors.Wrapf(err, "default of %q.%q", def.Name(), p.Name)
			}
			p.DefaultValue = v
		}
		if err := def.AddProperty(&p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// loadHierarchies resolves the catalog's hierarchy records and loads each
// one's content through the matching codec.
func (s *CatalogStore) loadHierarchies(ctx context.Context, tx *sql.Tx, cat *model.Catalog, reg *model.EntityRegistry) error {
	rows, err := tx.QueryContext(ctx, s.q(hierarchySelectQuery), cat.ID().String())
	if err != nil {
		return errors.Wrap(err, "load hierarchy records")
	}

	type hierRow struct {
		name, typeTag string
		version       int64
	}
	var hierRows []hierRow
	for rows.Next() {
		var r hierRow
		if err := rows.Scan(&r.name, &r.typeTag, &r.version); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan hierarchy record")
		}
		hierRows = append(hierRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range hierRows {
		htype, err := model.ParseHierarchyType(r.typeTag)
		if err != nil {
			return err
		}

		h := cat.Hierarchy(r.name)
		if h != nil && h.Type() != htype {
			return errors.NewCorruptionError(
				"hierarchy %q is stored as %q but exists in memory as %q", r.name, htype, h.Type())
		}
		if h == nil {
			switch htype {
			case model.HierarchyList:
				h = model.NewEntityList(r.name)
			case model.HierarchySet:
				h = model.NewEntitySet(r.name)
			case model.HierarchyDirectory:
				h = model.NewEntityDirectory(r.name)
			case model.HierarchyTree:
				h = model.NewEntityTree(r.name)
			case model.HierarchyAspectMap:
				// Extend auto-creates aspect maps while definitions load;
				// a stored map without its definition is corrupt.
				return errors.NewCorruptionError("aspect map %q has no attached definition", r.name)
			}
			if err := cat.AddHierarchy(h); err != nil {
				return err
			}
		}
		h.SetVersion(r.version)

		switch v := h.(type) {
		case *model.EntityList:
			err = s.loadEntityList(ctx, tx, cat.ID(), v, reg)
		case *model.EntitySet:
			err = s.loadEntitySet(ctx, tx, cat.ID(), v, reg)
		case *model.EntityDirectory:
			err = s.loadEntityDirectory(ctx, tx, cat.ID(), v, reg)
		case *model.EntityTree:
			err = s.loadEntityTree(ctx, tx, cat.ID(), v, reg)
		case *model.AspectMap:
			err = s.loadAspectMap(ctx, tx, cat.ID(), v, reg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteCatalog removes a catalog and everything it owns in one
// transaction: registered custom tables are cleared first (per their key
// pattern's truncate-vs-filter rule), then the catalog row is deleted and
// the schema's foreign keys cascade to all generic content. Returns
// whether a catalog row was actually removed; a nonexistent id performs
// no writes.
func (s *CatalogStore) DeleteCatalog(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin delete transaction")
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, s.q(catalogExistsQuery), id.String()).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "probe catalog %s", id)
	}
	if !exists {
		return false, nil
	}

	// Custom tables clear before generic rows so referential constraints
	// from custom tables back to shared tables hold during the cascade.
	for _, m := range s.mappings.All() {
		if err := s.tables.ClearForCatalog(ctx, tx, m, id); err != nil {
			return false, err
		}
	}

	res, err := tx.ExecContext(ctx, s.q(catalogDeleteQuery), id.String())
	if err != nil {
		return false, errors.Wrapf(err, "delete catalog %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "delete catalog rows affected")
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "commit delete transaction")
	}
	s.logger.Debugw("Catalog deleted", "catalog_id", id)
	return affected > 0, nil
}

// CatalogExists is a cheap existence probe that never materializes the
// object graph.
func (s *CatalogStore) CatalogExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, s.q(catalogExistsQuery), id.String()).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "probe catalog %s", id)
	}
	return exists, nil
}
