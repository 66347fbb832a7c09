package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 12, 25, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 12, 25, hour, minute, 0, 0, time.UTC)
}

func mkSlot(tenantID, slotID string, start time.Time) Slot {
	return Slot{ID: slotID, TenantID: tenantID, DoctorName: "Dr. Who", StartTime: start, EndTime: start.Add(30 * time.Minute)}
}

func seedContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, slot := range []Slot{
		mkSlot("clinic-1", "S3", at(14, 0)),
		mkSlot("clinic-1", "S1", at(9, 0)),
		mkSlot("clinic-1", "S2", at(9, 0)),
		mkSlot("clinic-1", "S0", at(7, 0)),
		mkSlot("clinic-2", "S1", at(10, 0)),
	} {
		require.NoError(t, store.Put(ctx, slot))
	}
}

func ids(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.ID)
	}
	return out
}

var day = Window{Start: at(8, 0), End: at(8, 0).Add(24 * time.Hour)}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, build func(t *testing.T, clock *testClock) Store) {
	ctx := context.Background()

	t.Run("list orders open slots inside the window", func(t *testing.T) {
		store := build(t, newTestClock())
		seedContract(t, store)

		slots, err := store.List(ctx, "clinic-1", day)
		require.NoError(t, err)
		assert.Equal(t, []string{"S1", "S2", "S3"}, ids(slots))

		morning, err := store.List(ctx, "clinic-1", Window{Start: at(9, 0), End: at(12, 0)})
		require.NoError(t, err)
		assert.Equal(t, []string{"S1", "S2"}, ids(morning))

		exclusive, err := store.List(ctx, "clinic-1", Window{Start: at(8, 0), End: at(9, 0)})
		require.NoError(t, err)
		assert.Empty(t, exclusive)
	})

	t.Run("reserve then finalize books the slot", func(t *testing.T) {
		clock := newTestClock()
		store := build(t, clock)
		seedContract(t, store)

		held, err := store.TryReserve(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		assert.Equal(t, StatusHeld, held.Status)
		require.NotEmpty(t, held.HoldID)
		require.NotNil(t, held.HoldExpiresAt)
		assert.True(t, held.HoldExpiresAt.Equal(clock.Now().Add(30*time.Second)))

		slots, err := store.List(ctx, "clinic-1", day)
		require.NoError(t, err)
		assert.Equal(t, []string{"S2", "S3"}, ids(slots))

		_, err = store.TryReserve(ctx, "clinic-1", "S1")
		assert.ErrorIs(t, err, ErrConflict)

		booked, err := store.Finalize(ctx, "clinic-1", "S1", held.HoldID)
		require.NoError(t, err)
		assert.Equal(t, StatusBooked, booked.Status)

		got, err := store.Get(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		assert.Equal(t, StatusBooked, got.Status)

		again, err := store.Finalize(ctx, "clinic-1", "S1", held.HoldID)
		require.NoError(t, err, "finalizing twice under the same hold is idempotent")
		assert.Equal(t, StatusBooked, again.Status)

		_, err = store.Finalize(ctx, "clinic-1", "S1", "someone-else")
		assert.ErrorIs(t, err, ErrConflict)
		_, err = store.Finalize(ctx, "clinic-1", "S1", "")
		assert.ErrorIs(t, err, ErrConflict)
		_, err = store.TryReserve(ctx, "clinic-1", "S1")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unknown slot", func(t *testing.T) {
		store := build(t, newTestClock())
		seedContract(t, store)

		_, err := store.TryReserve(ctx, "clinic-1", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Get(ctx, "clinic-1", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Finalize(ctx, "clinic-1", "nope", "hold")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired hold reads open and can be taken over", func(t *testing.T) {
		clock := newTestClock()
		store := build(t, clock)
		seedContract(t, store)

		first, err := store.TryReserve(ctx, "clinic-1", "S1")
		require.NoError(t, err)

		clock.Advance(31 * time.Second)
		got, err := store.Get(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		assert.Equal(t, StatusOpen, got.Status)

		slots, err := store.List(ctx, "clinic-1", day)
		require.NoError(t, err)
		assert.Contains(t, ids(slots), "S1")

		second, err := store.TryReserve(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		assert.NotEqual(t, first.HoldID, second.HoldID)

		_, err = store.Finalize(ctx, "clinic-1", "S1", first.HoldID)
		assert.ErrorIs(t, err, ErrConflict)
		_, err = store.Finalize(ctx, "clinic-1", "S1", second.HoldID)
		require.NoError(t, err)
	})

	t.Run("release returns a hold and never reverts a booking", func(t *testing.T) {
		store := build(t, newTestClock())
		seedContract(t, store)

		held, err := store.TryReserve(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		released, err := store.Release(ctx, "clinic-1", "S1", "someone-else")
		require.NoError(t, err)
		assert.False(t, released)
		got, err := store.Get(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		assert.Equal(t, StatusHeld, got.Status)

		released, err = store.Release(ctx, "clinic-1", "S1", held.HoldID)
		require.NoError(t, err)
		assert.True(t, released)
		got, err = store.Get(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		assert.Equal(t, StatusOpen, got.Status)
		released, err = store.Release(ctx, "clinic-1", "S1", held.HoldID)
		require.NoError(t, err)
		assert.False(t, released)

		held, err = store.TryReserve(ctx, "clinic-1", "S2")
		require.NoError(t, err)
		_, err = store.Finalize(ctx, "clinic-1", "S2", held.HoldID)
		require.NoError(t, err)
		released, err = store.Release(ctx, "clinic-1", "S2", "")
		require.NoError(t, err)
		assert.False(t, released)
		got, err = store.Get(ctx, "clinic-1", "S2")
		require.NoError(t, err)
		assert.Equal(t, StatusBooked, got.Status)

		_, err = store.Release(ctx, "clinic-1", "missing", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("tenants with colliding slot ids are isolated", func(t *testing.T) {
		store := build(t, newTestClock())
		seedContract(t, store)

		held, err := store.TryReserve(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		_, err = store.Finalize(ctx, "clinic-1", "S1", held.HoldID)
		require.NoError(t, err)

		other, err := store.Get(ctx, "clinic-2", "S1")
		require.NoError(t, err)
		assert.Equal(t, StatusOpen, other.Status)
		assert.True(t, other.StartTime.Equal(at(10, 0)))

		slots, err := store.List(ctx, "clinic-2", day)
		require.NoError(t, err)
		assert.Equal(t, []string{"S1"}, ids(slots))
	})

	t.Run("concurrent reserves have exactly one winner", func(t *testing.T) {
		store := build(t, newTestClock())
		seedContract(t, store)

		const callers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.TryReserve(ctx, "clinic-1", "S3")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, callers-1, conflicts)
	})

	t.Run("put leaves existing slots alone", func(t *testing.T) {
		store := build(t, newTestClock())
		seedContract(t, store)

		held, err := store.TryReserve(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		_, err = store.Finalize(ctx, "clinic-1", "S1", held.HoldID)
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, mkSlot("clinic-1", "S1", at(9, 0))))
		got, err := store.Get(ctx, "clinic-1", "S1")
		require.NoError(t, err)
		assert.Equal(t, StatusBooked, got.Status)

		err = store.Put(ctx, Slot{ID: "bad", TenantID: "clinic-1", StartTime: at(9, 0), EndTime: at(8, 0)})
		assert.ErrorIs(t, err, ErrInvalidSlot)
	})
}
