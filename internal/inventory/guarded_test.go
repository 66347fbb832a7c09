package inventory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/appointment-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// scriptedStore embeds a MemoryStore and lets tests inject failures.
type scriptedStore struct {
	*MemoryStore
	reserveErrs  []error
	finalizeErrs []error
	// lostAcks finalizes that commit but report a transport error.
	lostAcks     int
	reserveDelay time.Duration
	reserveCalls atomic.Int32
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *scriptedStore) TryReserve(ctx context.Context, tenantID, slotID string) (Slot, error) {
	s.reserveCalls.Add(1)
	if s.reserveDelay > 0 {
		select {
		case <-time.After(s.reserveDelay):
		case <-ctx.Done():
			return Slot{}, ctx.Err()
		}
	}
	if err := pop(&s.reserveErrs); err != nil {
		return Slot{}, err
	}
	return s.MemoryStore.TryReserve(ctx, tenantID, slotID)
}

func (s *scriptedStore) Finalize(ctx context.Context, tenantID, slotID, holdID string) (Slot, error) {
	if err := pop(&s.finalizeErrs); err != nil {
		return Slot{}, err
	}
	slot, err := s.MemoryStore.Finalize(ctx, tenantID, slotID, holdID)
	if err == nil && s.lostAcks > 0 {
		s.lostAcks--
		return Slot{}, errors.New("connection reset by peer")
	}
	return slot, err
}

func releasedCount(t *testing.T, reg *prometheus.Registry, reason string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "appointments_inventory_holds_released_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "reason") == reason {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func newScripted(t *testing.T) *scriptedStore {
	t.Helper()
	mem := NewMemoryStore(WithClock(newTestClock().Now))
	seedContract(t, mem)
	return &scriptedStore{MemoryStore: mem}
}

func TestGuardedRetriesTransientFailureOnce(t *testing.T) {
	inner := newScripted(t)
	inner.reserveErrs = []error{errors.New("connection reset")}
	g := NewGuarded(inner, time.Second, logging.Discard(), metrics.NewBookingMetrics(prometheus.NewRegistry()))

	slot, err := g.TryReserve(context.Background(), "clinic-1", "S1")
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, slot.Status)
	assert.Equal(t, int32(2), inner.reserveCalls.Load())
}

func TestGuardedGivesUpAfterSecondFailure(t *testing.T) {
	inner := newScripted(t)
	held, err := inner.MemoryStore.TryReserve(context.Background(), "clinic-1", "S1")
	require.NoError(t, err)
	inner.finalizeErrs = []error{errors.New("io timeout"), errors.New("io timeout")}
	g := NewGuarded(inner, time.Second, logging.Discard(), nil)

	_, err = g.Finalize(context.Background(), "clinic-1", "S1", held.HoldID)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGuardedFinalizeRetryAfterLostAck(t *testing.T) {
	inner := newScripted(t)
	held, err := inner.MemoryStore.TryReserve(context.Background(), "clinic-1", "S1")
	require.NoError(t, err)
	inner.lostAcks = 1
	g := NewGuarded(inner, time.Second, logging.Discard(), nil)

	slot, err := g.Finalize(context.Background(), "clinic-1", "S1", held.HoldID)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, slot.Status)
	assert.Equal(t, held.HoldID, slot.HoldID)

	_, err = g.Finalize(context.Background(), "clinic-1", "S1", "another-hold")
	assert.ErrorIs(t, err, ErrConflict, "a different hold never finalizes a booked slot")
}

func TestGuardedReleaseCountsOnlyRealReleases(t *testing.T) {
	inner := newScripted(t)
	reg := prometheus.NewRegistry()
	g := NewGuarded(inner, time.Second, logging.Discard(), metrics.NewBookingMetrics(reg))
	ctx := context.Background()

	held, err := g.TryReserve(ctx, "clinic-1", "S1")
	require.NoError(t, err)
	released, err := g.Release(ctx, "clinic-1", "S1", held.HoldID)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = g.Release(ctx, "clinic-1", "S1", held.HoldID)
	require.NoError(t, err)
	assert.False(t, released, "hold already gone")

	held, err = g.TryReserve(ctx, "clinic-1", "S2")
	require.NoError(t, err)
	_, err = g.Finalize(ctx, "clinic-1", "S2", held.HoldID)
	require.NoError(t, err)
	released, err = g.Release(ctx, "clinic-1", "S2", held.HoldID)
	require.NoError(t, err)
	assert.False(t, released, "booked slots are never released")

	assert.Equal(t, float64(1), releasedCount(t, reg, "rollback"))
}

func TestGuardedDoesNotRetryDomainErrors(t *testing.T) {
	inner := newScripted(t)
	inner.reserveErrs = []error{ErrConflict}
	g := NewGuarded(inner, time.Second, logging.Discard(), nil)

	_, err := g.TryReserve(context.Background(), "clinic-1", "S1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(1), inner.reserveCalls.Load())

	_, err = g.TryReserve(context.Background(), "clinic-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGuardedReserveTimeoutIsConflict(t *testing.T) {
	inner := newScripted(t)
	inner.reserveDelay = 200 * time.Millisecond
	g := NewGuarded(inner, 20*time.Millisecond, logging.Discard(), nil)

	_, err := g.TryReserve(context.Background(), "clinic-1", "S1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(1), inner.reserveCalls.Load())
}

func TestGuardedHonoursCallerCancellation(t *testing.T) {
	inner := newScripted(t)
	inner.reserveErrs = []error{errors.New("boom")}
	g := NewGuarded(inner, time.Second, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.TryReserve(ctx, "clinic-1", "S1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweeperReleasesThroughGuarded(t *testing.T) {
	clock := newTestClock()
	mem := NewMemoryStore(WithClock(clock.Now), WithHoldTTL(time.Second))
	seedContract(t, mem)
	g := NewGuarded(mem, time.Second, logging.Discard(), nil)

	_, err := g.TryReserve(context.Background(), "clinic-1", "S1")
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	sweeper := NewSweeper(g, time.Minute, logging.Discard(), nil)
	require.NotNil(t, sweeper)
	sweeper.sweep(context.Background())

	got, err := mem.Get(context.Background(), "clinic-1", "S1")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Nil(t, got.HoldExpiresAt)

	assert.Nil(t, NewSweeper(NewRedisStore(mustRedis(t)), time.Minute, nil, nil))
	assert.Nil(t, NewSweeper(mem, 0, nil, nil))
}
