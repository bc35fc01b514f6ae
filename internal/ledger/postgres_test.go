// File: internal/ledger/postgres_test.go
package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
)

func TestPostgresStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	usedAt := time.Now().Add(-time.Hour)
	rows := pgxmock.NewRows([]string{"number", "state", "used_at", "success"}).
		AddRow("380501111111", "consumed", usedAt, true).
		AddRow("380502222222", "reserved", usedAt, false)

	mock.ExpectQuery("SELECT number, state, used_at, success").
		WithArgs("airbnb").
		WillReturnRows(rows)

	store := NewPostgresStore(mock, schemas.PlatformAirbnb)
	recs, err := store.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, recs, 2)
	assert.Equal(t, schemas.ResourceConsumed, recs["380501111111"].State)
	assert.True(t, recs["380501111111"].Success)
	assert.Equal(t, schemas.ResourceReserved, recs["380502222222"].State)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := schemas.UsageRecord{
		Number:   "380501111111",
		Platform: schemas.PlatformAirbnb,
		State:    schemas.ResourceReserved,
		UsedAt:   time.Now(),
		Success:  false,
	}

	mock.ExpectExec("INSERT INTO resource_ledger").
		WithArgs("airbnb", rec.Number, "reserved", rec.UsedAt, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStore(mock, schemas.PlatformAirbnb)
	require.NoError(t, store.Save(context.Background(), rec))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO resource_ledger").
		WillReturnError(assert.AnError)

	store := NewPostgresStore(mock, schemas.PlatformAirbnb)
	err = store.Save(context.Background(), schemas.UsageRecord{Number: "380501111111"})
	assert.Error(t, err)
}
