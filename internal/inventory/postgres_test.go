package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotCols = []string{"slot_id", "tenant_id", "doctor_name", "start_time", "end_time", "status", "hold_id", "hold_expires_at"}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface, *testClock) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	clock := newTestClock()
	store := newPostgresStoreWithQuerier(mock, WithClock(clock.Now), WithHoldTTL(30*time.Second))
	store.opts.newID = func() string { return "hold-1" }
	return store, mock, clock
}

func TestPostgresStoreList(t *testing.T) {
	store, mock, clock := newMockStore(t)
	expired := clock.Now().Add(-time.Second)
	hold := "stale"

	mock.ExpectQuery("SELECT slot_id, tenant_id").
		WithArgs("clinic-1", day.Start, day.End, clock.Now()).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow("S1", "clinic-1", "Dr. A", at(9, 0), at(9, 30), "OPEN", nil, nil).
			AddRow("S2", "clinic-1", "Dr. B", at(9, 30), at(10, 0), "HELD", &hold, &expired))

	slots, err := store.List(context.Background(), "clinic-1", day)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, StatusOpen, slots[1].Status)
	assert.Empty(t, slots[1].HoldID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreReserve(t *testing.T) {
	store, mock, clock := newMockStore(t)
	now := clock.Now()
	expires := now.Add(30 * time.Second)
	hold := "hold-1"

	mock.ExpectQuery("UPDATE appointment_slots").
		WithArgs("clinic-1", "S1", "hold-1", expires, now).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow("S1", "clinic-1", "Dr. A", at(9, 0), at(9, 30), "HELD", &hold, &expires))

	slot, err := store.TryReserve(context.Background(), "clinic-1", "S1")
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, slot.Status)
	assert.Equal(t, "hold-1", slot.HoldID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreReserveConflictAndMissing(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("UPDATE appointment_slots").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT 1 FROM appointment_slots").
		WithArgs("clinic-1", "S1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	_, err := store.TryReserve(context.Background(), "clinic-1", "S1")
	assert.ErrorIs(t, err, ErrConflict)

	mock.ExpectQuery("UPDATE appointment_slots").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT 1 FROM appointment_slots").
		WithArgs("clinic-1", "S9").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.TryReserve(context.Background(), "clinic-1", "S9")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery("UPDATE appointment_slots").WillReturnError(errors.New("connection reset"))
	_, err = store.TryReserve(context.Background(), "clinic-1", "S1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConflict))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreFinalizeAndRelease(t *testing.T) {
	store, mock, clock := newMockStore(t)
	now := clock.Now()
	hold := "hold-1"

	mock.ExpectQuery(`SET status = 'BOOKED', hold_expires_at = NULL.*status IN \('HELD', 'BOOKED'\) AND hold_id = \$3`).
		WithArgs("clinic-1", "S1", "hold-1", now).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow("S1", "clinic-1", "Dr. A", at(9, 0), at(9, 30), "BOOKED", &hold, nil))
	slot, err := store.Finalize(context.Background(), "clinic-1", "S1", "hold-1")
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, slot.Status)
	assert.Equal(t, "hold-1", slot.HoldID)

	mock.ExpectExec("SET status = 'OPEN'").
		WithArgs("clinic-1", "S2", "hold-2", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	released, err := store.Release(context.Background(), "clinic-1", "S2", "hold-2")
	require.NoError(t, err)
	assert.True(t, released)

	mock.ExpectExec("SET status = 'OPEN'").
		WithArgs("clinic-1", "S4", "hold-4", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM appointment_slots").
		WithArgs("clinic-1", "S4").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	released, err = store.Release(context.Background(), "clinic-1", "S4", "hold-4")
	require.NoError(t, err)
	assert.False(t, released, "a hold that is already gone is not a release")

	mock.ExpectExec("SET status = 'OPEN'").
		WithArgs("clinic-1", "S3", "", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM appointment_slots").
		WithArgs("clinic-1", "S3").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.Release(context.Background(), "clinic-1", "S3", "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePutAndSweep(t *testing.T) {
	store, mock, clock := newMockStore(t)

	mock.ExpectExec("INSERT INTO appointment_slots").
		WithArgs("clinic-1", "S1", "Dr. Who", at(9, 0), at(9, 30), "OPEN").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Put(context.Background(), mkSlot("clinic-1", "S1", at(9, 0))))

	mock.ExpectExec("WHERE status = 'HELD' AND hold_expires_at").
		WithArgs(clock.Now()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	n, err := store.ReleaseExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, mock.ExpectationsWereMet())
}
