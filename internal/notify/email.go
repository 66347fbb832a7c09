package notify

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// Categories tag outbound mail so provider dashboards can split it.
const (
	CategoryBookingConfirmation = "booking_confirmation"
	CategoryHandoff             = "handoff"
)

const defaultFromName = "Clinic Scheduling"

// ErrNotConfigured is returned by provider constructors missing credentials.
var ErrNotConfigured = errors.New("notify: email provider not configured")

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// Email is a rendered message. Text is required; HTML is optional.
type Email struct {
	To       string
	ToName   string
	ReplyTo  string
	Subject  string
	Text     string
	HTML     string
	Category string
}

// From is the sending identity shared by every provider.
type From struct {
	Address string
	Name    string
}

func (f From) withDefaults() From {
	if strings.TrimSpace(f.Name) == "" {
		f.Name = defaultFromName
	}
	return f
}

// String renders the RFC 5322 mailbox, e.g. "Lakeside" <front@example.com>.
func (f From) String() string {
	return (&mail.Address{Name: f.Name, Address: f.Address}).String()
}

// LogSender only logs. It is used when no provider is configured.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, e Email) error {
	s.logger.Info("email not sent: no provider configured", "to", e.To, "subject", e.Subject, "category", e.Category)
	return nil
}

var _ Sender = (*LogSender)(nil)
