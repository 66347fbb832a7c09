package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers mail through the SendGrid v3 API.
type SendGridSender struct {
	client sendgridAPI
	from   From
	logger *logging.Logger
}

// NewSendGridSender returns ErrNotConfigured without an API key.
func NewSendGridSender(apiKey string, from From, logger *logging.Logger) (*SendGridSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}
	return newSendGridSenderWithClient(sendgrid.NewSendClient(apiKey), from, logger), nil
}

func newSendGridSenderWithClient(client sendgridAPI, from From, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{client: client, from: from.withDefaults(), logger: logger}
}

// Send implements Sender.
func (s *SendGridSender) Send(ctx context.Context, e Email) error {
	resp, err := s.client.SendWithContext(ctx, s.build(e))
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		s.logger.Error("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "category", e.Category)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Debug("email sent via sendgrid", "to", e.To, "category", e.Category, "status", resp.StatusCode)
	return nil
}

func (s *SendGridSender) build(e Email) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.from.Name, s.from.Address))
	m.Subject = e.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(e.ToName, e.To))
	m.AddPersonalizations(p)

	m.AddContent(mail.NewContent("text/plain", e.Text))
	if e.HTML != "" {
		m.AddContent(mail.NewContent("text/html", e.HTML))
	}
	if e.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", e.ReplyTo))
	}
	if e.Category != "" {
		m.AddCategories(e.Category)
	}
	return m
}

var _ Sender = (*SendGridSender)(nil)
