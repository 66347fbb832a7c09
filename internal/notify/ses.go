package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

const sesCategoryTag = "category"

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers mail through SES v2.
type SESSender struct {
	client sesAPI
	from   From
	logger *logging.Logger
}

// NewSESSender wraps an SES client.
func NewSESSender(client *sesv2.Client, from From, logger *logging.Logger) *SESSender {
	if client == nil {
		panic("notify: ses client cannot be nil")
	}
	return newSESSenderWithClient(client, from, logger)
}

func newSESSenderWithClient(client sesAPI, from From, logger *logging.Logger) *SESSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{client: client, from: from.withDefaults(), logger: logger}
}

// Send implements Sender.
func (s *SESSender) Send(ctx context.Context, e Email) error {
	out, err := s.client.SendEmail(ctx, s.input(e))
	if err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.logger.Debug("email sent via ses", "to", e.To, "category", e.Category, "message_id", aws.ToString(out.MessageId))
	return nil
}

func (s *SESSender) input(e Email) *sesv2.SendEmailInput {
	body := &types.Body{Text: utf8(e.Text)}
	if e.HTML != "" {
		body.Html = utf8(e.HTML)
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from.String()),
		Destination:      &types.Destination{ToAddresses: []string{e.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8(e.Subject), Body: body},
		},
	}
	if e.ReplyTo != "" {
		in.ReplyToAddresses = []string{e.ReplyTo}
	}
	if e.Category != "" {
		in.EmailTags = []types.MessageTag{{Name: aws.String(sesCategoryTag), Value: aws.String(e.Category)}}
	}
	return in
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

var _ Sender = (*SESSender)(nil)
