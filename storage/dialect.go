// Package storage maps the in-memory catalog object graph to relational
// rows and back. All SQL lives here; backend differences are isolated
// behind the Dialect interface.
package storage

import (
	"strconv"
	"strings"

	"github.com/facet-io/facet/errors"
	"github.com/facet-io/facet/model"
)

// Dialect owns the backend-specific parts of query construction: the
// placeholder style and the physical column type for each property type.
// Store queries are written with '?' placeholders and passed through
// Rebind before execution.
type Dialect interface {
	Name() string
	Rebind(query string) string
	ColumnType(t model.PropertyType) string
	// TruncateTable returns the statement clearing every row of a table.
	TruncateTable(table string) string
}

// DialectFor returns the dialect matching a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return SQLiteDialect{}, nil
	case "postgres":
		return PostgresDialect{}, nil
	default:
		return nil, errors.NewValidationError("no dialect for driver %q", driver)
	}
}

// SQLiteDialect targets mattn/go-sqlite3.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite3" }

// Rebind is the identity for SQLite; '?' is native.
func (SQLiteDialect) Rebind(query string) string { return query }

func (SQLiteDialect) ColumnType(t model.PropertyType) string {
	switch t {
	case model.TypeInteger:
		return "INTEGER"
	case model.TypeFloat:
		return "REAL"
	case model.TypeBoolean:
		return "INTEGER"
	case model.TypeBLOB:
		return "BLOB"
	default:
		// Strings, large objects, and every type with a canonical
		// textual encoding (big numbers, timestamps, URIs, UUIDs).
		return "TEXT"
	}
}

// TruncateTable uses DELETE: SQLite has no TRUNCATE statement.
func (SQLiteDialect) TruncateTable(table string) string {
	return "DELETE FROM " + table
}

// PostgresDialect targets lib/pq.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

// Rebind rewrites '?' placeholders to Postgres's numbered form.
func (PostgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (PostgresDialect) ColumnType(t model.PropertyType) string {
	switch t {
	case model.TypeInteger:
		return "BIGINT"
	case model.TypeFloat:
		return "DOUBLE PRECISION"
	case model.TypeBoolean:
		return "BOOLEAN"
	case model.TypeString:
		return "VARCHAR(4096)"
	case model.TypeBigInteger, model.TypeBigDecimal:
		return "NUMERIC"
	case model.TypeDateTime:
		return "TIMESTAMPTZ"
	case model.TypeUUID:
		return "UUID"
	case model.TypeBLOB:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

func (PostgresDialect) TruncateTable(table string) string {
	return "TRUNCATE TABLE " + table
}
