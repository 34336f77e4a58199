package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/facet-io/facet/errors"
	"github.com/facet-io/facet/model"
)

// Hierarchy content queries. Every save deletes the hierarchy's previous
// rows before rewriting, so saving an unchanged catalog twice leaves an
// identical row set.
const (
	entityInsertQuery = `
		INSERT INTO entity (id) VALUES (?) ON CONFLICT (id) DO NOTHING`

	listDeleteQuery = `
		DELETE FROM hierarchy_entity_list WHERE catalog_id = ? AND hierarchy_name = ?`
	listInsertQuery = `
		INSERT INTO hierarchy_entity_list (catalog_id, hierarchy_name, position, entity_id)
		VALUES (?, ?, ?, ?)`
	listSelectQuery = `
		SELECT entity_id FROM hierarchy_entity_list
		WHERE catalog_id = ? AND hierarchy_name = ? ORDER BY position`

	setDeleteQuery = `
		DELETE FROM hierarchy_entity_set WHERE catalog_id = ? AND hierarchy_name = ?`
	setInsertQuery = `
		INSERT INTO hierarchy_entity_set (catalog_id, hierarchy_name, entity_id, position)
		VALUES (?, ?, ?, ?)`
	setSelectQuery = `
		SELECT entity_id FROM hierarchy_entity_set
		WHERE catalog_id = ? AND hierarchy_name = ? ORDER BY position`

	directoryDeleteQuery = `
		DELETE FROM hierarchy_entity_directory WHERE catalog_id = ? AND hierarchy_name = ?`
	directoryInsertQuery = `
		INSERT INTO hierarchy_entity_directory (catalog_id, hierarchy_name, entry_key, entity_id)
		VALUES (?, ?, ?, ?)`
	directorySelectQuery = `
		SELECT entry_key, entity_id FROM hierarchy_entity_directory
		WHERE catalog_id = ? AND hierarchy_name = ? ORDER BY entry_key`

	treeDeleteQuery = `
		DELETE FROM hierarchy_entity_tree_node WHERE catalog_id = ? AND hierarchy_name = ?`
	treeInsertQuery = `
		INSERT INTO hierarchy_entity_tree_node
			(node_id, catalog_id, hierarchy_name, parent_node_id, node_key, entity_id, path, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	treeSelectQuery = `
		SELECT node_id, parent_node_id, node_key, entity_id, path
		FROM hierarchy_entity_tree_node
		WHERE catalog_id = ? AND hierarchy_name = ? ORDER BY position`

	aspectMapDeleteQuery = `
		DELETE FROM hierarchy_aspect_map WHERE catalog_id = ? AND hierarchy_name = ?`
	aspectMapInsertQuery = `
		INSERT INTO hierarchy_aspect_map (catalog_id, hierarchy_name, entity_id, aspect_def_name, position)
		VALUES (?, ?, ?, ?, ?)`
	aspectMapSelectQuery = `
		SELECT entity_id FROM hierarchy_aspect_map
		WHERE catalog_id = ? AND hierarchy_name = ? ORDER BY position`

	aspectDeleteQuery = `
		DELETE FROM aspect WHERE catalog_id = ? AND aspect_def_name = ?`
	aspectInsertQuery = `
		INSERT INTO aspect (catalog_id, entity_id, aspect_def_name) VALUES (?, ?, ?)`

	propertyDeleteQuery = `
		DELETE FROM property_value WHERE catalog_id = ? AND aspect_def_name = ?`
	propertyInsertQuery = `
		INSERT INTO property_value
			(catalog_id, entity_id, aspect_def_name, property_name, value_index,
			 value_type, is_null, value_text, value_integer, value_real,
			 value_boolean, value_datetime, value_blob)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	propertySelectQuery = `
		SELECT property_name, value_index, value_type, is_null, value_text,
		       value_integer, value_real, value_boolean, value_datetime, value_blob
		FROM property_value
		WHERE catalog_id = ? AND entity_id = ? AND aspect_def_name = ?
		ORDER BY property_name, value_index`
)

// ensureEntity records an entity identity in the shared entity table.
func (s *CatalogStore) ensureEntity(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, s.q(entityInsertQuery), id.String()); err != nil {
		return errors.Wrapf(err, "ensure entity %s", id)
	}
	return nil
}

// saveHierarchyContent dispatches to the codec for the hierarchy's
// variant. The switch is exhaustive over HierarchyType.
func (s *CatalogStore) saveHierarchyContent(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, h model.Hierarchy) error {
	switch v := h.(type) {
	case *model.EntityList:
		return s.saveEntityList(ctx, tx, catalogID, v)
	case *model.EntitySet:
		return s.saveEntitySet(ctx, tx, catalogID, v)
	case *model.EntityDirectory:
		return s.saveEntityDirectory(ctx, tx, catalogID, v)
	case *model.EntityTree:
		return s.saveEntityTree(ctx, tx, catalogID, v)
	case *model.AspectMap:
		return s.saveAspectMap(ctx, tx, catalogID, v)
	default:
		return errors.NewValidationError("unknown hierarchy variant %T", h)
	}
}

func (s *CatalogStore) saveEntityList(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, l *model.EntityList) error {
	cid := catalogID.String()
	if _, err := tx.ExecContext(ctx, s.q(listDeleteQuery), cid, l.Name()); err != nil {
		return errors.Wrapf(err, "clear list %q", l.Name())
	}
	for i, e := range l.Entities() {
		if err := s.ensureEntity(ctx, tx, e.ID()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(listInsertQuery), cid, l.Name(), i, e.ID().String()); err != nil {
			return errors.Wrapf(err, "save list %q entry %d", l.Name(), i)
		}
	}
	return nil
}

func (s *CatalogStore) loadEntityList(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, l *model.EntityList, reg *model.EntityRegistry) error {
	rows, err := tx.QueryContext(ctx, s.q(listSelectQuery), catalogID.String(), l.Name())
	if err != nil {
		return errors.Wrapf(err, "load list %q", l.Name())
	}
	defer rows.Close()

	l.Clear()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return errors.Wrapf(err, "scan list %q", l.Name())
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return errors.NewCorruptionError("list %q: bad entity id %q", l.Name(), raw)
		}
		l.Append(reg.Obtain(id))
	}
	return rows.Err()
}

func (s *CatalogStore) saveEntitySet(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, set *model.EntitySet) error {
	cid := catalogID.String()
	if _, err := tx.ExecContext(ctx, s.q(setDeleteQuery), cid, set.Name()); err != nil {
		return errors.Wrapf(err, "clear set %q", set.Name())
	}
	// The position column carries no meaning for sets; it only makes
	// iteration deterministic on reload.
	for i, e := range set.Entities() {
		if err := s.ensureEntity(ctx, tx, e.ID()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(setInsertQuery), cid, set.Name(), e.ID().String(), i); err != nil {
			return errors.Wrapf(err, "save set %q member %s", set.Name(), e.ID())
		}
	}
	return nil
}

func (s *CatalogStore) loadEntitySet(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, set *model.EntitySet, reg *model.EntityRegistry) error {
	rows, err := tx.QueryContext(ctx, s.q(setSelectQuery), catalogID.String(), set.Name())
	if err != nil {
		return errors.Wrapf(err, "load set %q", set.Name())
	}
	defer rows.Close()

	set.Clear()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return errors.Wrapf(err, "scan set %q", set.Name())
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return errors.NewCorruptionError("set %q: bad entity id %q", set.Name(), raw)
		}
		set.Add(reg.Obtain(id))
	}
	return rows.Err()
}

func (s *CatalogStore) saveEntityDirectory(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, dir *model.EntityDirectory) error {
	cid := catalogID.String()
	if _, err := tx.ExecContext(ctx, s.q(directoryDeleteQuery), cid, dir.Name()); err != nil {
		return errors.Wrapf(err, "clear directory %q", dir.Name())
	}
	for _, key := range dir.Keys() {
		e, _ := dir.Get(key)
		if err := s.ensureEntity(ctx, tx, e.ID()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(directoryInsertQuery), cid, dir.Name(), key, e.ID().String()); err != nil {
			return errors.Wrapf(err, "save directory %q key %q", dir.Name(), key)
		}
	}
	return nil
}

func (s *CatalogStore) loadEntityDirectory(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, dir *model.EntityDirectory, reg *model.EntityRegistry) error {
	rows, err := tx.QueryContext(ctx, s.q(directorySelectQuery), catalogID.String(), dir.Name())
	if err != nil {
		return errors.Wrapf(err, "load directory %q", dir.Name())
	}
	defer rows.Close()

	dir.Clear()
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return errors.Wrapf(err, "scan directory %q", dir.Name())
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return errors.NewCorruptionError("directory %q: bad entity id %q", dir.Name(), raw)
		}
		dir.Put(key, reg.Obtain(id))
	}
	return rows.Err()
}

// saveEntityTree flattens the tree in pre-order into parent-pointer rows
// with synthetic node ids and "/"-joined paths.
func (s *CatalogStore) saveEntityTree(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, tree *model.EntityTree) error {
	cid := catalogID.String()
	if _, err := tx.ExecContext(ctx, s.q(treeDeleteQuery), cid, tree.Name()); err != nil {
		return errors.Wrapf(err, "clear tree %q", tree.Name())
	}

	nodeIDs := make(map[*model.TreeNode]string)
	position := 0
	return tree.Walk(func(path string, n *model.TreeNode) error {
		nodeID := uuid.New().String()
		nodeIDs[n] = nodeID

		var parentID interface{}
		if p := n.Parent(); p != nil {
			parentID = nodeIDs[p]
		}
		var entityID interface{}
		if e := n.Entity(); e != nil {
			if err := s.ensureEntity(ctx, tx, e.ID()); err != nil {
				return err
			}
			entityID = e.ID().String()
		}

		_, err := tx.ExecContext(ctx, s.q(treeInsertQuery),
			nodeID, cid, tree.Name(), parentID, n.Key(), entityID, path, position)
		if err != nil {
			return errors.Wrapf(err, "save tree %q node %q", tree.Name(), path)
		}
		position++
		return nil
	})
}

// loadEntityTree reads the flattened rows in two passes: one query
// materializes node data keyed by node id, then each non-root node is
// attached to its parent via the parent pointer. Pre-order row positions
// guarantee parents are materialized before their children, so the attach
// pass is a single O(1)-lookup sweep instead of one query per subtree.
func (s *CatalogStore) loadEntityTree(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, tree *model.EntityTree, reg *model.EntityRegistry) error {
	rows, err := tx.QueryContext(ctx, s.q(treeSelectQuery), catalogID.String(), tree.Name())
	if err != nil {
		return errors.Wrapf(err, "load tree %q", tree.Name())
	}
	defer rows.Close()

	type nodeRow struct {
		id       string
		parentID sql.NullString
		key      string
		entityID sql.NullString
		path     string
	}
	var nodeRows []nodeRow
	for rows.Next() {
		var r nodeRow
		if err := rows.Scan(&r.id, &r.parentID, &r.key, &r.entityID, &r.path); err != nil {
			return errors.Wrapf(err, "scan tree %q", tree.Name())
		}
		nodeRows = append(nodeRows, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(nodeRows) == 0 {
		return nil
	}

	nodes := make(map[string]*model.TreeNode, len(nodeRows))
	for _, r := range nodeRows {
		var node *model.TreeNode
		if !r.parentID.Valid {
			// Content is grafted onto the hierarchy's pre-existing root.
			node = tree.Root()
		} else {
			parent, ok := nodes[r.parentID.String]
			if !ok {
				return errors.NewCorruptionError("tree %q: node %q references missing parent %q", tree.Name(), r.id, r.parentID.String)
			}
			node, err = parent.AddChild(r.key)
			if err != nil {
				return errors.Wrapf(err, "tree %q: attach node %q", tree.Name(), r.path)
			}
		}
		if r.entityID.Valid {
			id, err := uuid.Parse(r.entityID.String)
			if err != nil {
				return errors.NewCorruptionError("tree %q: bad entity id %q", tree.Name(), r.entityID.String)
			}
			node.SetEntity(reg.Obtain(id))
		}
		nodes[r.id] = node
	}
	return nil
}

// saveAspectMap writes one linking row per (entity, aspect) pair plus the
// aspect's property content: generic value rows, or a custom-table row
// when a mapping is registered for the definition.
func (s *CatalogStore) saveAspectMap(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, m *model.AspectMap) error {
	cid := catalogID.String()
	defName := m.Def().Name()

	if _, err := tx.ExecContext(ctx, s.q(aspectMapDeleteQuery), cid, m.Name()); err != nil {
		return errors.Wrapf(err, "clear aspect map %q", m.Name())
	}
	mapping, mapped := s.mappings.Lookup(defName)
	if mapped && mapping.HasCatalogID() {
		// Catalog-tagged custom tables are rewritten per save so removed
		// aspects leave no stale rows. Tables without a catalog column
		// append (pattern 1) or upsert by entity key (pattern 3).
		if err := s.tables.ClearForCatalog(ctx, tx, mapping, catalogID); err != nil {
			return err
		}
	}
	if !mapped {
		if _, err := tx.ExecContext(ctx, s.q(propertyDeleteQuery), cid, defName); err != nil {
			return errors.Wrapf(err, "clear property rows for %q", defName)
		}
		if _, err := tx.ExecContext(ctx, s.q(aspectDeleteQuery), cid, defName); err != nil {
			return errors.Wrapf(err, "clear aspect rows for %q", defName)
		}
	}

	for i, a := range m.Aspects() {
		e := a.Entity()
		if err := s.ensureEntity(ctx, tx, e.ID()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(aspectMapInsertQuery), cid, m.Name(), e.ID().String(), defName, i); err != nil {
			return errors.Wrapf(err, "save aspect map %q entry %s", m.Name(), e.ID())
		}
		if mapped {
			if err := s.tables.Upsert(ctx, tx, mapping, catalogID, a); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, s.q(aspectInsertQuery), cid, e.ID().String(), defName); err != nil {
			return errors.Wrapf(err, "save aspect row for %s", e.ID())
		}
		if err := s.savePropertyRows(ctx, tx, cid, e.ID().String(), a); err != nil {
			return err
		}
	}
	return nil
}

// savePropertyRows writes the generic value rows for one aspect: one row
// per scalar property, one row per element (0-based value_index) for
// multivalued properties. A multivalued null and an empty sequence both
// write zero rows and are indistinguishable on reload.
func (s *CatalogStore) savePropertyRows(ctx context.Context, tx *sql.Tx, catalogID, entityID string, a *model.Aspect) error {
	defName := a.Def().Name()
	insert := func(name string, idx int, row ValueRow) error {
		_, err := tx.ExecContext(ctx, s.q(propertyInsertQuery),
			catalogID, entityID, defName, name, idx,
			row.Type, row.IsNull, row.Text, row.Integer, row.Real,
			row.Boolean, row.DateTime, row.Blob)
		if err != nil {
			return errors.Wrapf(err, "save property %q[%d]", name, idx)
		}
		return nil
	}

	for _, p := range a.Properties() {
		if p.Def.Multivalued {
			for idx, v := range p.Values() {
				row, err := EncodeValue(p.Def, v)
				if err != nil {
					return err
				}
				if err := insert(p.Def.Name, idx, row); err != nil {
					return err
				}
			}
			continue
		}
		row, err := EncodeValue(p.Def, p.Value())
		if err != nil {
			return err
		}
		if err := insert(p.Def.Name, 0, row); err != nil {
			return err
		}
	}
	return nil
}

// loadAspectMap mirrors saveAspectMap: membership from the linking rows,
// content from either the custom table or the generic value rows.
func (s *CatalogStore) loadAspectMap(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, m *model.AspectMap, reg *model.EntityRegistry) error {
	m.Clear()

	if mapping, mapped := s.mappings.Lookup(m.Def().Name()); mapped {
		aspects, err := s.tables.Load(ctx, tx, mapping, catalogID, reg)
		if err != nil {
			return err
		}
		for _, a := range aspects {
			if err := m.Put(a); err != nil {
				return err
			}
		}
		return nil
	}

	rows, err := tx.QueryContext(ctx, s.q(aspectMapSelectQuery), catalogID.String(), m.Name())
	if err != nil {
		return errors.Wrapf(err, "load aspect map %q", m.Name())
	}
	defer rows.Close()

	var entityIDs []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return errors.Wrapf(err, "scan aspect map %q", m.Name())
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return errors.NewCorruptionError("aspect map %q: bad entity id %q", m.Name(), raw)
		}
		entityIDs = append(entityIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, id := range entityIDs {
		a, err := s.loadAspect(ctx, tx, catalogID, m.Def(), reg.Obtain(id))
		if err != nil {
			return err
		}
		if err := m.Put(a); err != nil {
			return err
		}
	}
	return nil
}

// loadAspect reconstructs one aspect from its generic value rows.
func (s *CatalogStore) loadAspect(ctx context.Context, tx *sql.Tx, catalogID uuid.UUID, def *model.AspectDef, e *model.Entity) (*model.Aspect, error) {
	a := def.EmptyAspect(e)
	// A multivalued property persisted as null or as an empty sequence
	// left zero rows; both reload as an empty ordered sequence.
	for _, p := range def.Properties() {
		if p.Multivalued {
			if err := a.SetList(p.Name, nil); err != nil {
				return nil, err
			}
		}
	}

	rows, err := tx.QueryContext(ctx, s.q(propertySelectQuery),
		catalogID.String(), e.ID().String(), def.Name())
	if err != nil {
		return nil, errors.Wrapf(err, "load properties of %q for %s", def.Name(), e.ID())
	}
	defer rows.Close()

	values := make(map[string][]interface{})
	for rows.Next() {
		var (
			name string
			idx  int
			row  ValueRow
		)
		if err := rows.Scan(&name, &idx, &row.Type, &row.IsNull, &row.Text,
			&row.Integer, &row.Real, &row.Boolean, &row.DateTime, &row.Blob); err != nil {
			return nil, errors.Wrapf(err, "scan property row for %q", def.Name())
		}
		p := def.Property(name)
		if p == nil {
			return nil, errors.NewCorruptionError("definition %q has no property %q but value rows exist", def.Name(), name)
		}
		v, err := DecodeValue(p, row)
		if err != nil {
			return nil, err
		}
		values[name] = append(values[name], v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for name, vs := range values {
		p := def.Property(name)
		if p.Multivalued {
			if err := a.SetList(name, vs); err != nil {
				return nil, err
			}
			continue
		}
		if err := a.Set(name, vs[0]); err != nil {
			return nil, err
		}
	}
	return a, nil
}
