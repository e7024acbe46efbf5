// internal/adapters/sendgrid/email.go
package sendgrid

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"reviewsync/internal/adapters/observability"
)

type Sender struct {
	from     string
	fromName string
	client   *sendgrid.Client
}

func NewSender(apiKey, from, fromName string) *Sender {
	return &Sender{
		from:     from,
		fromName: fromName,
		client:   sendgrid.NewSendClient(apiKey),
	}
}

func (s *Sender) Send(ctx context.Context, to, subject, html string) error {
	from := mail.NewEmail(s.fromName, s.from)
	msg := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), "", html)

	start := time.Now()
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		observability.ObserveExternal("sendgrid", "mail", 0, time.Since(start))
		return fmt.Errorf("sendgrid send: %w", err)
	}
	observability.ObserveExternal("sendgrid", "mail", resp.StatusCode, time.Since(start))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
