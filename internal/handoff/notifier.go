package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/appointment-orchestrator/internal/notify"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
)

// Notifier delivers a handoff to some staff-facing channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, t tenant.Tenant, event Event) error
}

type handoffMailer interface {
	NotifyHandoff(ctx context.Context, n notify.HandoffNotice) error
}

// EmailNotifier emails the tenant's handoff contact.
type EmailNotifier struct {
	mailer handoffMailer
}

// NewEmailNotifier wraps the notification service.
func NewEmailNotifier(mailer handoffMailer) *EmailNotifier {
	if mailer == nil {
		panic("handoff: mailer required")
	}
	return &EmailNotifier{mailer: mailer}
}

// Name implements Notifier.
func (n *EmailNotifier) Name() string { return "email" }

// Notify implements Notifier.
func (n *EmailNotifier) Notify(ctx context.Context, t tenant.Tenant, event Event) error {
	return n.mailer.NotifyHandoff(ctx, notify.HandoffNotice{
		ClinicName:  t.Label(),
		To:          event.ContactEmail,
		Reason:      event.Reason,
		EventID:     event.ID,
		TenantID:    t.ID,
		RequestedAt: event.CreatedAt,
		Location:    t.Location(),
	})
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueMessage is the JSON body published for the paging collaborator.
type QueueMessage struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	TenantID     string `json:"tenant_id"`
	ClinicName   string `json:"clinic_name"`
	Reason       string `json:"reason"`
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	RequestedAt  string `json:"requested_at"`
}

const queueMessageType = "handoff.requested"

// QueueNotifier publishes handoffs to an SQS queue.
type QueueNotifier struct {
	client   sqsAPI
	queueURL string
}

// NewQueueNotifier creates a notifier for queueURL.
func NewQueueNotifier(client sqsAPI, queueURL string) *QueueNotifier {
	if client == nil {
		panic("handoff: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("handoff: SQS queueURL cannot be empty")
	}
	return &QueueNotifier{client: client, queueURL: queueURL}
}

// Name implements Notifier.
func (q *QueueNotifier) Name() string { return "sqs" }

// Notify implements Notifier.
func (q *QueueNotifier) Notify(ctx context.Context, t tenant.Tenant, event Event) error {
	body, err := json.Marshal(QueueMessage{
		Type:         queueMessageType,
		EventID:      event.ID,
		TenantID:     t.ID,
		ClinicName:   t.Label(),
		Reason:       event.Reason,
		ContactPhone: event.ContactPhone,
		ContactEmail: event.ContactEmail,
		RequestedAt:  event.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("handoff: encode queue message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"tenant_id": {DataType: aws.String("String"), StringValue: aws.String(t.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("handoff: failed to send SQS message: %w", err)
	}
	return nil
}
