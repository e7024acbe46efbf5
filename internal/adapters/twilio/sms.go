// internal/adapters/twilio/sms.go
package twilio

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"reviewsync/internal/adapters/observability"
)

// Sender sends alert SMS through Twilio. STOP-list suppression lives in
// Twilio itself; this sender does not duplicate the opt-out check.
type Sender struct {
	from   string
	client *twilio.RestClient
}

func NewSender(accountSID, authToken, from string) *Sender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Sender{from: from, client: client}
}

func (s *Sender) Send(ctx context.Context, to, body string) error {
	params := &api.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(to)
	params.SetBody(body)

	start := time.Now()
	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		observability.ObserveExternal("twilio", "message", 0, time.Since(start))
		return fmt.Errorf("twilio send: %w", err)
	}
	observability.ObserveExternal("twilio", "message", 201, time.Since(start))
	if resp.Sid != nil {
		log.Debug().Str("sid", *resp.Sid).Str("to", to).Msg("sms queued")
	}
	return nil
}
