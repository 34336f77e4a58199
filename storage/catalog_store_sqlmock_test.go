package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/facet-io/facet/errors"
	"github.com/facet-io/facet/model"
)

// Save failures must roll the whole transaction back; nothing commits.
func TestSaveCatalog_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewCatalogStore(db, SQLiteDialect{}, nil, nil)
	cat := model.NewCatalog(model.SpeciesSource)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entity").
		WithArgs(cat.ID().String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO catalog").
		WillReturnError(errors.New("database or disk is full"))
	mock.ExpectRollback()

	err = store.SaveCatalog(context.Background(), cat)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Deleting a nonexistent catalog probes existence and performs no writes.
func TestDeleteCatalog_NoWritesForMissingID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewCatalogStore(db, SQLiteDialect{}, nil, nil)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	removed, err := store.DeleteCatalog(context.Background(), id)
	require.NoError(t, err)
	require.False(t, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
