package model

import (
	"github.com/facet-io/facet/errors"
)

// Default identity column names for custom-mapped tables.
const (
	DefaultCatalogIDColumn = "catalog_id"
	DefaultEntityIDColumn  = "entity_id"
)

// KeyPattern is the physical key convention of a custom-mapped table,
// selected by which identity columns the table carries.
type KeyPattern int

const (
	// KeyNone: no identifying column. Save appends, load synthesizes
	// fresh entities, delete truncates the whole table — affecting every
	// catalog sharing it. Documented limitation.
	KeyNone KeyPattern = iota
	// KeyCatalog: rows tagged with the owning catalog id. Entity
	// identity is not preserved on load; delete filters by catalog id.
	KeyCatalog
	// KeyEntity: entity id is the primary key; identity round-trips.
	// Delete truncates the whole table — acceptable only for tables that
	// are catalog-exclusive by convention.
	KeyEntity
	// KeyCatalogEntity: composite (catalog id, entity id) key; identity
	// round-trips and delete filters by catalog id.
	KeyCatalogEntity
)

// Truncates reports whether catalog deletion must clear the entire table
// because no catalog column exists to filter on.
func (p KeyPattern) Truncates() bool {
	return p == KeyNone || p == KeyEntity
}

// AspectTableMapping routes an AspectDef into a user-named table instead of
// the generic schema, with an explicit property-to-column remap and
// optional catalog/entity identity columns.
type AspectTableMapping struct {
	def          *AspectDef
	tableName    string
	columns      map[string]string
	hasCatalogID bool
	hasEntityID  bool
}

// NewAspectTableMapping declares a mapping of def into tableName. Custom
// tables hold one row per aspect, so multivalued properties cannot be
// mapped.
func NewAspectTableMapping(def *AspectDef, tableName string, hasCatalogID, hasEntityID bool) (*AspectTableMapping, error) {
	if def == nil {
		return nil, errors.NewValidationError("aspect definition is nil")
	}
	if tableName == "" {
		return nil, errors.NewValidationError("mapping for %q has no table name", def.Name())
	}
	for _, p := range def.Properties() {
		if p.Multivalued {
			return nil, errors.NewValidationError(
				"cannot map %q to table %q: property %q is multivalued", def.Name(), tableName, p.Name)
		}
	}
	return &AspectTableMapping{
		def:          def,
		tableName:    tableName,
		columns:      make(map[string]string),
		hasCatalogID: hasCatalogID,
		hasEntityID:  hasEntityID,
	}, nil
}

// Def returns the mapped definition.
func (m *AspectTableMapping) Def() *AspectDef { return m.def }

// TableName returns the custom table's name.
func (m *AspectTableMapping) TableName() string { return m.tableName }

// HasCatalogID reports whether rows carry the owning catalog id.
func (m *AspectTableMapping) HasCatalogID() bool { return m.hasCatalogID }

// HasEntityID reports whether rows carry the entity id.
func (m *AspectTableMapping) HasEntityID() bool { return m.hasEntityID }

// KeyPattern returns the table's physical key convention.
func (m *AspectTableMapping) KeyPattern() KeyPattern {
	switch {
	case m.hasCatalogID && m.hasEntityID:
		return KeyCatalogEntity
	case m.hasEntityID:
		return KeyEntity
	case m.hasCatalogID:
		return KeyCatalog
	default:
		return KeyNone
	}
}

// MapColumn remaps a property to a column name. Unmapped properties use
// their own name as the column name.
func (m *AspectTableMapping) MapColumn(property, column string) error {
	if m.def.Property(property) == nil {
		return errors.NewValidationError("definition %q has no property %q", m.def.Name(), property)
	}
	if column == "" {
		return errors.NewValidationError("empty column name for property %q", property)
	}
	m.columns[property] = column
	return nil
}

// ColumnFor returns the column name holding the named property.
func (m *AspectTableMapping) ColumnFor(property string) string {
	if col, ok := m.columns[property]; ok {
		return col
	}
	return property
}
