package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/appointment-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// DefaultTimeout bounds a single persistence call.
const DefaultTimeout = 2 * time.Second

// Guarded wraps a Store with a per-call deadline and one retry on transient
// failures. A reserve that times out is reported as ErrConflict: the caller
// cannot know whether the hold landed, and an orphaned hold expires anyway.
type Guarded struct {
	inner   Store
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
	tracer  trace.Tracer
}

var _ Store = (*Guarded)(nil)

// NewGuarded wraps inner. A zero timeout means DefaultTimeout.
func NewGuarded(inner Store, timeout time.Duration, logger *logging.Logger, m *metrics.BookingMetrics) *Guarded {
	if inner == nil {
		panic("inventory: inner store cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Guarded{
		inner:   inner,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("appointments.internal.inventory"),
	}
}

// Unwrap returns the wrapped store.
func (g *Guarded) Unwrap() Store {
	return g.inner
}

func terminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidSlot)
}

func guard[T any](ctx context.Context, g *Guarded, op string, retry bool, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := g.tracer.Start(ctx, "inventory."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var (
		zero    T
		lastErr error
	)
	attempts := 1
	if retry {
		attempts = 2
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		v, err := fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		span.SetAttributes(attribute.Int("inventory.attempts", attempt))
		if err == nil {
			return v, nil
		}
		if terminal(err) {
			return zero, err
		}
		span.RecordError(err)
		if ctx.Err() != nil {
			return zero, fmt.Errorf("inventory: %s: %w", op, ctx.Err())
		}
		if op == "reserve" && timedOut {
			g.logger.Warn("inventory reserve timed out", "timeout", g.timeout.String())
			return zero, ErrConflict
		}
		lastErr = err
		g.logger.Warn("inventory call failed", "op", op, "attempt", attempt, "error", err)
		if attempt < attempts {
			g.metrics.ObserveStoreRetry(op)
		}
	}
	return zero, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, lastErr)
}

// List implements Store.
func (g *Guarded) List(ctx context.Context, tenantID string, window Window) ([]Slot, error) {
	return guard(ctx, g, "list", true, func(ctx context.Context) ([]Slot, error) {
		return g.inner.List(ctx, tenantID, window)
	})
}

// Get implements Store.
func (g *Guarded) Get(ctx context.Context, tenantID, slotID string) (Slot, error) {
	return guard(ctx, g, "get", true, func(ctx context.Context) (Slot, error) {
		return g.inner.Get(ctx, tenantID, slotID)
	})
}

// TryReserve implements Store.
func (g *Guarded) TryReserve(ctx context.Context, tenantID, slotID string) (Slot, error) {
	slot, err := guard(ctx, g, "reserve", true, func(ctx context.Context) (Slot, error) {
		return g.inner.TryReserve(ctx, tenantID, slotID)
	})
	if errors.Is(err, ErrConflict) {
		g.metrics.ObserveReserveConflict()
	}
	return slot, err
}

// Finalize implements Store. The retry is safe because finalizing twice under
// the same hold succeeds.
func (g *Guarded) Finalize(ctx context.Context, tenantID, slotID, holdID string) (Slot, error) {
	return guard(ctx, g, "finalize", true, func(ctx context.Context) (Slot, error) {
		return g.inner.Finalize(ctx, tenantID, slotID, holdID)
	})
}

// Release implements Store. Only a release that reopened the slot is counted.
func (g *Guarded) Release(ctx context.Context, tenantID, slotID, holdID string) (bool, error) {
	released, err := guard(ctx, g, "release", true, func(ctx context.Context) (bool, error) {
		return g.inner.Release(ctx, tenantID, slotID, holdID)
	})
	if released {
		g.metrics.ObserveHoldsReleased("rollback", 1)
	}
	return released, err
}

// Put implements Store.
func (g *Guarded) Put(ctx context.Context, slot Slot) error {
	_, err := guard(ctx, g, "put", true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.Put(ctx, slot)
	})
	return err
}
