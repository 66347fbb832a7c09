package inventory

import (
	"context"
	"time"

	"github.com/wolfman30/appointment-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// Sweeper periodically returns expired holds to OPEN for stores that support
// it. Correctness never depends on it; expired holds already read as OPEN.
type Sweeper struct {
	reaper   Reaper
	interval time.Duration
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
}

// NewSweeper returns nil when the store cannot sweep.
func NewSweeper(store Store, interval time.Duration, logger *logging.Logger, m *metrics.BookingMetrics) *Sweeper {
	if g, ok := store.(*Guarded); ok {
		store = g.Unwrap()
	}
	reaper, ok := store.(Reaper)
	if !ok || interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{reaper: reaper, interval: interval, logger: logger, metrics: m}
}

// Start sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.reaper.ReleaseExpired(ctx)
	if err != nil {
		s.logger.Error("hold sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("released expired holds", "count", n)
		s.metrics.ObserveHoldsReleased("expired", n)
	}
}
