package storage

import (
	"context"
	"database/sql"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facet-io/facet/errors"
	"github.com/facet-io/facet/model"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so engine operations can
// run standalone (table creation at setup time) or inside the DAO's
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// MappingRegistry is the explicit, injectable mapping of AspectDef names to
// their custom-table declarations. One registry is owned by each DAO
// instance; there is no process-wide state.
type MappingRegistry struct {
	mappings map[string]*model.AspectTableMapping
}

// NewMappingRegistry creates an empty registry.
func NewMappingRegistry() *MappingRegistry {
	return &MappingRegistry{mappings: make(map[string]*model.AspectTableMapping)}
}

// Register records a mapping for its definition's name. Re-registering the
// same mapping is a no-op; a different mapping under an already-registered
// name is a validation failure.
func (r *MappingRegistry) Register(m *model.AspectTableMapping) error {
	if m == nil {
		return errors.NewValidationError("mapping is nil")
	}
	name := m.Def().Name()
	if existing, ok := r.mappings[name]; ok {
		if existing == m {
			return nil
		}
		return errors.NewValidationError("definition %q already mapped to table %q", name, existing.TableName())
	}
	r.mappings[name] = m
	return nil
}

// Lookup returns the mapping registered for an AspectDef name.
func (r *MappingRegistry) Lookup(defName string) (*model.AspectTableMapping, bool) {
	m, ok := r.mappings[defName]
	return m, ok
}

// All returns every registered mapping, sorted by definition name.
func (r *MappingRegistry) All() []*model.AspectTableMapping {
	names := make([]string, 0, len(r.mappings))
	for n := range r.mappings {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*model.AspectTableMapping, len(names))
	for i, n := range names {
		out[i] = r.mappings[n]
	}
	return out
}

// TableMapper persists aspects into custom-mapped tables under the four
// key patterns.
type TableMapper struct {
	dialect Dialect
}

// NewTableMapper creates a mapper for one backend dialect.
func NewTableMapper(d Dialect) *TableMapper {
	return &TableMapper{dialect: d}
}

// columnNames returns the table's full column list in declaration order:
// identity columns first, then one column per property.
func (tm *TableMapper) columnNames(m *model.AspectTableMapping) []string {
	var cols []string
	if m.HasCatalogID() {
		cols = append(cols, model.DefaultCatalogIDColumn)
	}
	if m.HasEntityID() {
		cols = append(cols, model.DefaultEntityIDColumn)
	}
	for _, p := range m.Def().Properties() {
		cols = append(cols, m.ColumnFor(p.Name))
	}
	return cols
}

// CreateTable issues idempotent table creation from the mapping's declared
// columns. Expected to run once at setup time, outside per-request
// transactions. Fails loudly if a pre-existing table has a different
// column shape.
func (tm *TableMapper) CreateTable(ctx context.Context, db DBTX, m *model.AspectTableMapping) error {
	var defs []string
	if m.HasCatalogID() {
		defs = append(defs, model.DefaultCatalogIDColumn+" TEXT NOT NULL")
	}
	if m.HasEntityID() {
		defs = append(defs, model.DefaultEntityIDColumn+" TEXT NOT NULL")
	}
	for _, p := range m.Def().Properties() {
		col := m.ColumnFor(p.Name) + " " + tm.dialect.ColumnType(p.Type)
		if !p.Nullable {
			col += " NOT NULL"
		}
		defs = append(defs, col)
	}
	switch m.KeyPattern() {
	case model.KeyEntity:
		defs = append(defs, "PRIMARY KEY ("+model.DefaultEntityIDColumn+")")
	case model.KeyCatalogEntity:
		defs = append(defs, "PRIMARY KEY ("+model.DefaultCatalogIDColumn+", "+model.DefaultEntityIDColumn+")")
	}

	stmt := "CREATE TABLE IF NOT EXISTS " + m.TableName() + " (" + strings.Join(defs, ", ") + ")"
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "create table %s", m.TableName())
	}
	return tm.checkShape(ctx, db, m)
}

// checkShape compares the live table's columns against the mapping's
// declared columns.
func (tm *TableMapper) checkShape(ctx context.Context, db DBTX, m *model.AspectTableMapping) error {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+m.TableName()+" LIMIT 0")
	if err != nil {
		return errors.Wrapf(err, "inspect table %s", m.TableName())
	}
	defer rows.Close()

	actual, err := rows.Columns()
	if err != nil {
		return errors.Wrapf(err, "inspect table %s", m.TableName())
	}
	expected := tm.columnNames(m)
	if len(actual) != len(expected) {
		return errors.NewValidationError(
			"table %s exists with %d columns, mapping declares %d", m.TableName(), len(actual), len(expected))
	}
	have := make(map[string]bool, len(actual))
	for _, c := range actual {
		have[c] = true
	}
	for _, c := range expected {
		if !have[c] {
			return errors.NewValidationError("table %s exists without declared column %q", m.TableName(), c)
		}
	}
	return rows.Err()
}

// Upsert writes one aspect row, insert-or-replace keyed per the mapping's
// active pattern. Patterns without a key column always append.
func (tm *TableMapper) Upsert(ctx context.Context, db DBTX, m *model.AspectTableMapping, catalogID uuid.UUID, a *model.Aspect) error {
	cols := tm.columnNames(m)
	args := make([]interface{}, 0, len(cols))
	if m.HasCatalogID() {
		args = append(args, catalogID.String())
	}
	if m.HasEntityID() {
		args = append(args, a.Entity().ID().String())
	}
	var propCols []string
	for _, p := range m.Def().Properties() {
		propCols = append(propCols, m.ColumnFor(p.Name))
		var v interface{}
		if prop := a.Property(p.Name); prop != nil {
			v = prop.Value()
		}
		bound, err := encodeColumnValue(p, v)
		if err != nil {
			return err
		}
		args = append(args, bound)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := "INSERT INTO " + m.TableName() + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"

	switch m.KeyPattern() {
	case model.KeyEntity:
		query += conflictClause(model.DefaultEntityIDColumn, propCols)
	case model.KeyCatalogEntity:
		query += conflictClause(model.DefaultCatalogIDColumn+", "+model.DefaultEntityIDColumn, propCols)
	}

	if _, err := db.ExecContext(ctx, tm.dialect.Rebind(query), args...); err != nil {
		return errors.Wrapf(err, "upsert into %s", m.TableName())
	}
	return nil
}

func conflictClause(key string, propCols []string) string {
	if len(propCols) == 0 {
		return " ON CONFLICT (" + key + ") DO NOTHING"
	}
	sets := make([]string, len(propCols))
	for i, c := range propCols {
		sets[i] = c + " = excluded." + c
	}
	return " ON CONFLICT (" + key + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// Load reads every aspect belonging to catalogID from the mapped table.
// Patterns carrying an entity id preserve identity through the registry;
// the others synthesize a fresh entity per row.
func (tm *TableMapper) Load(ctx context.Context, db DBTX, m *model.AspectTableMapping, catalogID uuid.UUID, reg *model.EntityRegistry) ([]*model.Aspect, error) {
	props := m.Def().Properties()
	var cols []string
	if m.HasEntityID() {
		cols = append(cols, model.DefaultEntityIDColumn)
	}
	for _, p := range props {
		cols = append(cols, m.ColumnFor(p.Name))
	}

	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + m.TableName()
	var args []interface{}
	if m.HasCatalogID() {
		query += " WHERE " + model.DefaultCatalogIDColumn + " = ?"
		args = append(args, catalogID.String())
	}
	if m.HasEntityID() {
		query += " ORDER BY " + model.DefaultEntityIDColumn
	}

	rows, err := db.QueryContext(ctx, tm.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "load from %s", m.TableName())
	}
	defer rows.Close()

	var aspects []*model.Aspect
	for rows.Next() {
		dest := make([]interface{}, len(cols))
		for i := range dest {
			dest[i] = new(interface{})
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrapf(err, "scan row from %s", m.TableName())
		}

		var entity *model.Entity
		values := dest
		if m.HasEntityID() {
			raw := *(dest[0].(*interface{}))
			id, err := scanUUID(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "entity id in %s", m.TableName())
			}
			entity = reg.Obtain(id)
			values = dest[1:]
		} else {
			entity = model.NewEntity()
			reg.Register(entity)
		}

		a := m.Def().EmptyAspect(entity)
		for i, p := range props {
			raw := *(values[i].(*interface{}))
			v, err := decodeColumnValue(p, raw)
			if err != nil {
				return nil, errors.Wrapf(err, "column %q in %s", m.ColumnFor(p.Name), m.TableName())
			}
			if err := setAspectValue(a, p, v); err != nil {
				return nil, err
			}
		}
		aspects = append(aspects, a)
	}
	return aspects, rows.Err()
}

// ClearForCatalog removes a catalog's rows from the mapped table per its
// key pattern. Patterns without a catalog column truncate the entire
// table, affecting any other catalog sharing it (documented limitation).
// Invoked before generic rows are removed so referential constraints from
// custom tables back to shared tables hold.
func (tm *TableMapper) ClearForCatalog(ctx context.Context, db DBTX, m *model.AspectTableMapping, catalogID uuid.UUID) error {
	if m.KeyPattern().Truncates() {
		if _, err := db.ExecContext(ctx, tm.dialect.TruncateTable(m.TableName())); err != nil {
			return errors.Wrapf(err, "truncate %s", m.TableName())
		}
		return nil
	}
	query := tm.dialect.Rebind("DELETE FROM " + m.TableName() + " WHERE " + model.DefaultCatalogIDColumn + " = ?")
	if _, err := db.ExecContext(ctx, query, catalogID.String()); err != nil {
		return errors.Wrapf(err, "clear %s for catalog", m.TableName())
	}
	return nil
}

func setAspectValue(a *model.Aspect, p *model.PropertyDef, v interface{}) error {
	if p.Multivalued {
		// Mappings reject multivalued definitions at declaration time.
		return errors.AssertionFailedf("multivalued property %q in custom table", p.Name)
	}
	return a.Set(p.Name, v)
}

// encodeColumnValue converts a property value into its driver-bindable
// form for a custom-table column.
func encodeColumnValue(def *model.PropertyDef, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if err := def.Type.ValidateValue(v); err != nil {
		return nil, err
	}
	switch def.Type {
	case model.TypeInteger, model.TypeFloat, model.TypeBoolean, model.TypeBLOB:
		return v, nil
	case model.TypeString, model.TypeText, model.TypeURI, model.TypeCLOB:
		return v, nil
	case model.TypeBigInteger:
		return v.(*big.Int).String(), nil
	case model.TypeBigDecimal:
		return v.(decimal.Decimal).String(), nil
	case model.TypeDateTime:
		return v.(time.Time).Format(time.RFC3339Nano), nil
	case model.TypeUUID:
		return v.(uuid.UUID).String(), nil
	default:
		return nil, errors.NewValidationError("invalid property type %d", int(def.Type))
	}
}

// decodeColumnValue converts a scanned custom-table cell back into the
// property's declared Go representation.
func decodeColumnValue(def *model.PropertyDef, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	switch def.Type {
	case model.TypeInteger:
		n, ok := raw.(int64)
		if !ok {
			return nil, corruptCell(def, raw)
		}
		return n, nil
	case model.TypeFloat:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			// Numeric affinity may hand back integral floats as ints.
			return float64(n), nil
		}
		return nil, corruptCell(def, raw)
	case model.TypeBoolean:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
		return nil, corruptCell(def, raw)
	case model.TypeString, model.TypeText, model.TypeURI, model.TypeCLOB:
		s, err := scanString(raw)
		if err != nil {
			return nil, corruptCell(def, raw)
		}
		return s, nil
	case model.TypeBigInteger:
		s, err := scanString(raw)
		if err != nil {
			return nil, corruptCell(def, raw)
		}
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, corruptCell(def, raw)
		}
		return i, nil
	case model.TypeBigDecimal:
		s, err := scanString(raw)
		if err != nil {
			return nil, corruptCell(def, raw)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, corruptCell(def, raw)
		}
		return d, nil
	case model.TypeDateTime:
		if ts, ok := raw.(time.Time); ok {
			return ts, nil
		}
		s, err := scanString(raw)
		if err != nil {
			return nil, corruptCell(def, raw)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, corruptCell(def, raw)
		}
		return ts, nil
	case model.TypeUUID:
		s, err := scanString(raw)
		if err != nil {
			return nil, corruptCell(def, raw)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, corruptCell(def, raw)
		}
		return id, nil
	case model.TypeBLOB:
		b, ok := raw.([]byte)
		if !ok {
			return nil, corruptCell(def, raw)
		}
		return b, nil
	default:
		return nil, errors.NewValidationError("invalid property type %d", int(def.Type))
	}
}

func corruptCell(def *model.PropertyDef, raw interface{}) error {
	return errors.NewCorruptionError(
		"property %q: stored cell %T does not match declared type %q", def.Name, raw, def.Type.Tag())
}

func scanString(raw interface{}) (string, error) {
	switch s := raw.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return "", errors.Newf("cell %T is not textual", raw)
}

func scanUUID(raw interface{}) (uuid.UUID, error) {
	s, err := scanString(raw)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}
