package app

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
)

const smsExcerptMax = 80

var emailTmpl = template.Must(template.New("alert").Parse(`<h2>New {{.Rating}}-star review on {{.Platform}}</h2>
<p><strong>{{.Author}}</strong> &middot; urgency {{.Urgency}}/10</p>
{{if .Summary}}<p><em>{{.Summary}}</em></p>{{end}}
{{if .Content}}<blockquote>{{.Content}}</blockquote>{{end}}
<p>Respond from your dashboard to keep your response time up.</p>`))

// AlertRouter fans a classified review out to SMS and email recipients.
// Each recipient send is independent; one failure never blocks the rest.
type AlertRouter struct {
	store domain.Store
	sms   domain.SMSSender
	email domain.EmailSender
	now   func() time.Time
}

func NewAlertRouter(store domain.Store, sms domain.SMSSender, email domain.EmailSender) *AlertRouter {
	return &AlertRouter{store: store, sms: sms, email: email, now: time.Now}
}

// RouteAlert applies the urgency/rating gates, notifies every eligible
// recipient, then stamps alert_sent exactly once regardless of how many
// sends actually happened (including zero). Returns the number of
// successful channel sends.
func (a *AlertRouter) RouteAlert(ctx context.Context, rv domain.Review) (int, error) {
	urgency := 0
	if rv.UrgencyScore != nil {
		urgency = *rv.UrgencyScore
	}
	high := urgency >= 7 || rv.Rating <= 2
	medium := urgency >= 4 && urgency < 7
	if !high && !medium {
		// low urgency surfaces in the daily digest instead
		return 0, nil
	}

	prefs, err := a.store.ListPreferences(ctx, rv.BusinessID)
	if err != nil {
		return 0, fmt.Errorf("load preferences: %w", err)
	}

	notified := 0
	for _, p := range prefs {
		if p.MinUrgencyScore > 0 && urgency < p.MinUrgencyScore && rv.Rating > 2 {
			continue
		}
		// Quiet hours suppress SMS only, never email.
		if high && p.SMSEnabled && p.PhoneNumber != nil && *p.PhoneNumber != "" {
			if a.inQuietHours(p) {
				observability.ObserveAlert("sms", "suppressed")
			} else if err := a.sms.Send(ctx, *p.PhoneNumber, smsBody(rv)); err != nil {
				observability.ObserveAlert("sms", "failed")
				log.Warn().Err(err).Int64("review", rv.ID).Int64("user", p.UserID).Msg("sms alert failed")
			} else {
				observability.ObserveAlert("sms", "sent")
				notified++
			}
		}
		if (high || medium) && p.EmailOn() && p.Email != "" {
			subject := fmt.Sprintf("New %d-star review on %s", rv.Rating, rv.Platform)
			if err := a.email.Send(ctx, p.Email, subject, emailBody(rv, urgency)); err != nil {
				observability.ObserveAlert("email", "failed")
				log.Warn().Err(err).Int64("review", rv.ID).Int64("user", p.UserID).Msg("email alert failed")
			} else {
				observability.ObserveAlert("email", "sent")
				notified++
			}
		}
	}

	if err := a.store.MarkAlerted(ctx, rv.ID, a.now()); err != nil {
		return notified, fmt.Errorf("mark alert_sent: %w", err)
	}
	return notified, nil
}

// inQuietHours evaluates the user's local quiet window. start > end means
// the window wraps midnight. A missing or malformed window never suppresses.
func (a *AlertRouter) inQuietHours(p domain.NotificationPreference) bool {
	if p.QuietHoursStart == nil || p.QuietHoursEnd == nil {
		return false
	}
	start, ok1 := parseClock(*p.QuietHoursStart)
	end, ok2 := parseClock(*p.QuietHoursEnd)
	if !ok1 || !ok2 || start == end {
		return false
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := a.now().In(loc)
	cur := now.Hour()*60 + now.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func smsBody(rv domain.Review) string {
	excerpt := ""
	if rv.Content != nil {
		excerpt = truncate(strings.TrimSpace(*rv.Content), smsExcerptMax)
	}
	if excerpt == "" {
		return fmt.Sprintf("New %d-star review on %s from %s", rv.Rating, rv.Platform, rv.AuthorName)
	}
	return fmt.Sprintf("New %d-star review on %s: \"%s\"", rv.Rating, rv.Platform, excerpt)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func emailBody(rv domain.Review, urgency int) string {
	data := struct {
		Rating   int
		Platform domain.Platform
		Author   string
		Urgency  int
		Summary  string
		Content  string
	}{
		Rating:   rv.Rating,
		Platform: rv.Platform,
		Author:   rv.AuthorName,
		Urgency:  urgency,
	}
	if rv.AISummary != nil {
		data.Summary = *rv.AISummary
	}
	if rv.Content != nil {
		data.Content = *rv.Content
	}
	var b strings.Builder
	if err := emailTmpl.Execute(&b, data); err != nil {
		log.Error().Err(err).Msg("alert email template failed")
		return fmt.Sprintf("<p>New %d-star review on %s</p>", rv.Rating, rv.Platform)
	}
	return b.String()
}
