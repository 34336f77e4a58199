package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/facet-io/facet/model"
)

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("sqlite3")
	require.NoError(t, err)
	require.Equal(t, "sqlite3", d.Name())

	d, err = DialectFor("postgres")
	require.NoError(t, err)
	require.Equal(t, "postgres", d.Name())

	_, err = DialectFor("oracle")
	require.Error(t, err)
}

func TestPostgresRebind(t *testing.T) {
	d := PostgresDialect{}
	require.Equal(t,
		"INSERT INTO t (a, b, c) VALUES ($1, $2, $3)",
		d.Rebind("INSERT INTO t (a, b, c) VALUES (?, ?, ?)"))
	require.Equal(t, "SELECT 1", d.Rebind("SELECT 1"))
}

func TestSQLiteRebind_Identity(t *testing.T) {
	q := "SELECT x FROM t WHERE a = ? AND b = ?"
	require.Equal(t, q, SQLiteDialect{}.Rebind(q))
}

func TestTruncateTable(t *testing.T) {
	require.Equal(t, "DELETE FROM devices", SQLiteDialect{}.TruncateTable("devices"))
	require.Equal(t, "TRUNCATE TABLE devices", PostgresDialect{}.TruncateTable("devices"))
}

func TestColumnTypes(t *testing.T) {
	s, p := SQLiteDialect{}, PostgresDialect{}

	require.Equal(t, "INTEGER", s.ColumnType(model.TypeInteger))
	require.Equal(t, "BIGINT", p.ColumnType(model.TypeInteger))
	require.Equal(t, "TEXT", s.ColumnType(model.TypeDateTime))
	require.Equal(t, "TIMESTAMPTZ", p.ColumnType(model.TypeDateTime))
	require.Equal(t, "BLOB", s.ColumnType(model.TypeBLOB))
	require.Equal(t, "BYTEA", p.ColumnType(model.TypeBLOB))
	require.Equal(t, "UUID", p.ColumnType(model.TypeUUID))
}
