package handoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appointment-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

var handoffTracer = otel.Tracer("appointments.internal.handoff")

const (
	// DefaultReason is recorded when the agent gives none.
	DefaultReason = "Caller requested human assistance"
	// ActionTransfer tells the media gateway to transfer the call.
	ActionTransfer = "TRANSFER_TO_HUMAN"
	// StatusEscalated is the only success status.
	StatusEscalated = "ESCALATED"

	maxReasonLen  = 500
	notifyTimeout = 10 * time.Second
)

// ErrMissingTenant is returned when Escalate is called without a resolved tenant.
var ErrMissingTenant = errors.New("handoff: tenant required")

// Ack is returned to the agent once the handoff is under way.
type Ack struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// Dispatcher records handoffs and alerts staff.
type Dispatcher struct {
	store     EventStore
	notifiers []Notifier
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
	now       func() time.Time
	newID     func() string
	pending   sync.WaitGroup
}

// NewDispatcher builds a dispatcher. store may be nil to skip persistence.
func NewDispatcher(store EventStore, logger *logging.Logger, m *metrics.BookingMetrics, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &Dispatcher{
		store:     store,
		notifiers: active,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Escalate records the handoff for t and returns immediately; notifications
// go out in the background and their failures are only logged.
func (d *Dispatcher) Escalate(ctx context.Context, t tenant.Tenant, reason string) (Ack, error) {
	ctx, span := handoffTracer.Start(ctx, "handoff.escalate")
	defer span.End()

	if strings.TrimSpace(t.ID) == "" {
		span.RecordError(ErrMissingTenant)
		return Ack{}, ErrMissingTenant
	}

	event := Event{
		ID:           d.newID(),
		TenantID:     t.ID,
		Reason:       normalizeReason(reason),
		ContactEmail: t.HandoffEmail(),
		ContactPhone: t.HandoffPhone(),
		CreatedAt:    d.now(),
	}
	span.SetAttributes(
		attribute.String("tenant.id", t.ID),
		attribute.String("handoff.event_id", event.ID),
	)
	logger := d.logger.With("tenant_id", t.ID, "event_id", event.ID)

	status := "recorded"
	if d.store != nil {
		if err := d.store.Record(ctx, event); err != nil {
			// Record failures never block the transfer.
			span.RecordError(err)
			logger.Error("handoff: failed to record event", "error", err)
			status = "record_failed"
		}
	}
	d.metrics.ObserveHandoff(status)

	d.fanOut(ctx, t, event, logger)
	logger.Info("handoff: caller escalated", "reason", event.Reason)

	return Ack{
		Status:  StatusEscalated,
		EventID: event.ID,
		Reason:  event.Reason,
		Message: Message(t.Label()),
		Action:  ActionTransfer,
	}, nil
}

// History returns recent handoffs for a tenant.
func (d *Dispatcher) History(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	if d.store == nil {
		return nil, nil
	}
	events, err := d.store.List(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("handoff: history: %w", err)
	}
	return events, nil
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

func (d *Dispatcher) fanOut(ctx context.Context, t tenant.Tenant, event Event, logger *logging.Logger) {
	if len(d.notifiers) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, n := range d.notifiers {
		d.pending.Add(1)
		go func(n Notifier) {
			defer d.pending.Done()
			nctx, cancel := context.WithTimeout(detached, notifyTimeout)
			defer cancel()
			if err := n.Notify(nctx, t, event); err != nil {
				logger.Error("handoff: notification failed", "notifier", n.Name(), "error", err)
				return
			}
			logger.Info("handoff: notification sent", "notifier", n.Name())
		}(n)
	}
}

// Message is what the agent tells the caller while the transfer happens.
func Message(clinicName string) string {
	if strings.TrimSpace(clinicName) == "" {
		clinicName = "the clinic"
	}
	return fmt.Sprintf("I'll connect you with someone at %s right away. Please hold for just a moment.", clinicName)
}

func normalizeReason(reason string) string {
	reason = strings.Join(strings.Fields(reason), " ")
	if reason == "" {
		return DefaultReason
	}
	if r := []rune(reason); len(r) > maxReasonLen {
		reason = string(r[:maxReasonLen])
	}
	return reason
}
