package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appointment-orchestrator/internal/inventory"
	"github.com/wolfman30/appointment-orchestrator/internal/notify"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

var bookingsTracer = otel.Tracer("appointments.internal.bookings")

const (
	compensateTimeout = 5 * time.Second
	notifyTimeout     = 10 * time.Second
)

// Notifier tells the patient their booking went through.
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, n notify.BookingNotice) error
}

// ConfirmRequest asks for slotID to be booked for a patient.
type ConfirmRequest struct {
	Tenant       tenant.Tenant
	SlotID       string
	PatientName  string
	PatientEmail string
}

// Result is the outcome of a successful confirm.
type Result struct {
	Status          inventory.Status `json:"status"`
	ConfirmationRef string           `json:"confirmation_ref"`
	Booking         Booking          `json:"booking"`
	// Replayed is true when an earlier identical confirm already booked the slot.
	Replayed bool `json:"-"`
}

// Service confirms appointments against the slot inventory.
type Service struct {
	store    inventory.Store
	repo     Repository
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time
	pending  sync.WaitGroup
}

// NewService wires the confirmation flow. notifier may be nil.
func NewService(store inventory.Store, repo Repository, notifier Notifier, logger *logging.Logger) *Service {
	if store == nil {
		panic("bookings: slot store required")
	}
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Confirm books the slot for the patient. Exactly one caller can win a slot;
// repeating a successful request returns the original confirmation ref.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (Result, error) {
	tenantID := req.Tenant.ID
	slotID := strings.TrimSpace(req.SlotID)

	ctx, span := bookingsTracer.Start(ctx, "bookings.confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("slot.id", slotID),
	)

	fail := func(err error) (Result, error) {
		span.RecordError(err)
		return Result{}, err
	}

	if tenantID == "" {
		return fail(errorf("tenant is required"))
	}
	if slotID == "" {
		return fail(errorf("slot_id is required"))
	}
	name, email, err := validatePatient(req.PatientName, req.PatientEmail)
	if err != nil {
		return fail(err)
	}

	ref := ConfirmationRef(tenantID, slotID)
	span.SetAttributes(attribute.String("booking.ref", ref))
	logger := s.logger.With("tenant_id", tenantID, "slot_id", slotID, "confirmation_ref", ref)

	existing, err := s.repo.Get(ctx, tenantID, ref)
	haveRecord := false
	var stale *Booking
	switch {
	case err == nil && existing.samePatient(name, email):
		if s.slotBooked(ctx, tenantID, slotID) {
			logger.Info("bookings: replaying confirmed booking")
			span.SetAttributes(attribute.Bool("booking.replayed", true))
			return Result{Status: inventory.StatusBooked, ConfirmationRef: ref, Booking: existing, Replayed: true}, nil
		}
		// A record exists but the slot never reached BOOKED; finish the job.
		haveRecord = true
	case err == nil:
		// Another patient's record. If their confirm never finalized, the
		// reserve below succeeds and the record is replaced; otherwise the
		// reserve conflicts and the caller gets SlotUnavailable.
		stale = &existing
	case errors.Is(err, ErrNotFound):
	default:
		logger.Error("bookings: lookup failed", "error", err)
		return fail(fmt.Errorf("%w: %w", ErrBookingFailed, err))
	}

	held, err := s.store.TryReserve(ctx, tenantID, slotID)
	if err != nil {
		switch {
		case errors.Is(err, inventory.ErrConflict):
			if replay, ok := s.replayWinner(ctx, tenantID, slotID, ref, name, email); ok {
				logger.Info("bookings: concurrent identical confirm already booked the slot")
				return replay, nil
			}
			return fail(ErrSlotUnavailable)
		case errors.Is(err, inventory.ErrNotFound):
			return fail(ErrUnknownSlot)
		default:
			logger.Error("bookings: reserve failed", "error", err)
			return fail(fmt.Errorf("%w: %w", ErrBookingFailed, err))
		}
	}

	booking := existing
	created := false
	if !haveRecord {
		booking = Booking{
			ConfirmationRef: ref,
			TenantID:        tenantID,
			SlotID:          slotID,
			PatientName:     name,
			PatientEmail:    email,
			CreatedAt:       s.now(),
		}
		if stale != nil {
			logger.Warn("bookings: replacing unfinalized booking of another patient")
			err = s.repo.Replace(ctx, *stale, booking)
		} else {
			err = s.repo.Create(ctx, booking)
		}
		if err != nil {
			logger.Error("bookings: persist failed, releasing hold", "error", err)
			s.release(ctx, tenantID, slotID, held.HoldID, logger)
			return fail(fmt.Errorf("%w: %w", ErrBookingFailed, err))
		}
		created = true
	}

	if _, err := s.store.Finalize(ctx, tenantID, slotID, held.HoldID); err != nil {
		if !s.bookedUnder(ctx, tenantID, slotID, held.HoldID) {
			logger.Error("bookings: finalize failed, releasing hold", "error", err)
			s.release(ctx, tenantID, slotID, held.HoldID, logger)
			if created {
				s.discard(ctx, booking, logger)
			}
			return fail(fmt.Errorf("%w: %w", ErrBookingFailed, err))
		}
		logger.Warn("bookings: finalize reported an error but the slot is booked under our hold", "error", err)
	}

	logger.Info("bookings: appointment confirmed", "doctor", held.DoctorName, "start_time", held.StartTime)
	s.notifyAsync(ctx, req.Tenant, booking, held)

	return Result{Status: inventory.StatusBooked, ConfirmationRef: ref, Booking: booking}, nil
}

// Wait blocks until outstanding confirmation emails have been attempted.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) slotBooked(ctx context.Context, tenantID, slotID string) bool {
	slot, err := s.store.Get(ctx, tenantID, slotID)
	return err == nil && slot.Status == inventory.StatusBooked
}

// bookedUnder reports whether the slot is BOOKED under holdID, which means an
// earlier Finalize committed even though its reply was lost.
func (s *Service) bookedUnder(ctx context.Context, tenantID, slotID, holdID string) bool {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	slot, err := s.store.Get(cctx, tenantID, slotID)
	return err == nil && slot.Status == inventory.StatusBooked && slot.HoldID == holdID
}

func (s *Service) replayWinner(ctx context.Context, tenantID, slotID, ref, name, email string) (Result, bool) {
	b, err := s.repo.Get(ctx, tenantID, ref)
	if err != nil || !b.samePatient(name, email) {
		return Result{}, false
	}
	if !s.slotBooked(ctx, tenantID, slotID) {
		return Result{}, false
	}
	return Result{Status: inventory.StatusBooked, ConfirmationRef: ref, Booking: b, Replayed: true}, true
}

// release and discard run on a detached context: the caller's deadline is
// usually what failed.
func (s *Service) release(ctx context.Context, tenantID, slotID, holdID string, logger *logging.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if _, err := s.store.Release(cctx, tenantID, slotID, holdID); err != nil {
		logger.Warn("bookings: release failed, hold will expire", "error", err)
	}
}

func (s *Service) discard(ctx context.Context, booking Booking, logger *logging.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := s.repo.Delete(cctx, booking); err != nil {
		logger.Warn("bookings: failed to remove unfinalized booking", "error", err)
	}
}

func (s *Service) notifyAsync(ctx context.Context, t tenant.Tenant, b Booking, slot inventory.Slot) {
	if s.notifier == nil {
		return
	}
	notice := notify.BookingNotice{
		ClinicName:      t.Label(),
		PatientName:     b.PatientName,
		PatientEmail:    b.PatientEmail,
		ConfirmationRef: b.ConfirmationRef,
		ReplyTo:         t.Contact.Email,
		DoctorName:      slot.DoctorName,
		StartTime:       slot.StartTime,
		Location:        t.Location(),
	}
	nctx := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		cctx, cancel := context.WithTimeout(nctx, notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyBookingConfirmed(cctx, notice); err != nil {
			s.logger.Warn("bookings: confirmation email failed", "error", err, "confirmation_ref", b.ConfirmationRef)
		}
	}()
}
