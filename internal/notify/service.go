package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// BookingNotice carries what the patient confirmation email needs.
type BookingNotice struct {
	ClinicName      string
	PatientName     string
	PatientEmail    string
	ConfirmationRef string
	ReplyTo         string
	DoctorName      string
	StartTime       time.Time
	Location        *time.Location
}

// HandoffNotice carries what the staff handoff email needs.
type HandoffNotice struct {
	ClinicName  string
	To          string
	Reason      string
	EventID     string
	TenantID    string
	RequestedAt time.Time
	Location    *time.Location
}

// Service renders appointment notifications and hands them to a Sender.
type Service struct {
	email  Sender
	logger *logging.Logger
}

// NewService creates a notification service.
func NewService(email Sender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:  email,
		logger: logger,
	}
}

// NotifyBookingConfirmed emails the patient their confirmation reference.
func (s *Service) NotifyBookingConfirmed(ctx context.Context, n BookingNotice) error {
	if s == nil || s.email == nil {
		return nil
	}
	if strings.TrimSpace(n.PatientEmail) == "" {
		return fmt.Errorf("notify: booking notice has no recipient")
	}

	clinic := defaultString(n.ClinicName, "the clinic")
	when := localTime(n.StartTime, n.Location).Format("Monday, January 2 at 3:04 PM")
	withDoctor := ""
	if n.DoctorName != "" {
		withDoctor = fmt.Sprintf(" with %s", n.DoctorName)
	}

	subject := fmt.Sprintf("Appointment confirmed - %s", n.ConfirmationRef)
	body := fmt.Sprintf(`Hi %s,

Your appointment at %s%s is confirmed for %s.

Confirmation reference: %s

If you need to change this appointment, call the clinic and quote the reference above.

- %s`, firstName(n.PatientName), clinic, withDoctor, when, n.ConfirmationRef, clinic)

	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #10b981;">Appointment confirmed</h2>
<p>Hi %s, your appointment at <strong>%s</strong>%s is confirmed for <strong>%s</strong>.</p>
<p style="background: #f0fdf4; padding: 12px; border-radius: 8px; border-left: 4px solid #10b981;">
  Confirmation reference: <strong>%s</strong>
</p>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">%s</p>
</div>`, firstName(n.PatientName), clinic, withDoctor, when, n.ConfirmationRef, clinic)

	msg := Email{
		To:       n.PatientEmail,
		ToName:   n.PatientName,
		ReplyTo:  n.ReplyTo,
		Subject:  subject,
		Text:     body,
		HTML:     html,
		Category: CategoryBookingConfirmation,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: failed to send booking confirmation", "error", err, "confirmation_ref", n.ConfirmationRef)
		return fmt.Errorf("notify: booking confirmation: %w", err)
	}
	s.logger.Info("notify: booking confirmation sent", "confirmation_ref", n.ConfirmationRef)
	return nil
}

// NotifyHandoff emails clinic staff that a caller asked for a person.
func (s *Service) NotifyHandoff(ctx context.Context, n HandoffNotice) error {
	if s == nil || s.email == nil {
		return nil
	}
	if strings.TrimSpace(n.To) == "" {
		s.logger.Debug("notify: no handoff recipient configured", "tenant_id", n.TenantID)
		return nil
	}

	clinic := defaultString(n.ClinicName, n.TenantID)
	when := localTime(n.RequestedAt, n.Location).Format("January 2, 2006 at 3:04 PM")

	subject := fmt.Sprintf("Caller needs a staff member - %s", clinic)
	body := fmt.Sprintf(`A caller asked to speak with a person.

Clinic: %s
Reason: %s
Requested: %s
Event ID: %s

Please pick up the transferred call or call the patient back.`, clinic, n.Reason, when, n.EventID)

	if err := s.email.Send(ctx, Email{To: n.To, Subject: subject, Text: body, Category: CategoryHandoff}); err != nil {
		return fmt.Errorf("notify: handoff email: %w", err)
	}
	s.logger.Info("notify: handoff email sent", "tenant_id", n.TenantID, "event_id", n.EventID)
	return nil
}

func localTime(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return t.In(loc)
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
