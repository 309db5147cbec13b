// Package notify sends the best-effort winner SMS. Nothing in here may
// affect the outcome of a spin: every failure is logged and swallowed.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/pkg/providers"
	"github.com/vdjjd/faninteract/wheel"
)

// defaultTimeout bounds a single delivery attempt. There are no retries;
// the notification is one-shot by contract.
const defaultTimeout = 10 * time.Second

// Notifier fills the wheel's message template and hands it to the SMS
// transport. It is safe to call with a nil provider (notifications off).
type Notifier struct {
	sms     providers.SMSProvider
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a notifier on top of an SMS provider
func New(sms providers.SMSProvider, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sms:     sms,
		timeout: defaultTimeout,
		logger:  logger.With().Str("component", "notifier").Logger(),
	}
}

// NotifyWinner sends the winner message. It never returns an error: missing
// contact info, transport failures and misconfiguration are all logged only,
// so the resolver's result stays untouched.
func (n *Notifier) NotifyWinner(ctx context.Context, w *wheel.Wheel, winner *wheel.Entry) {
	if n == nil || n.sms == nil {
		return
	}
	if winner.Phone == "" {
		n.logger.Warn().
			Str("wheel_id", w.ID).
			Str("entry_id", winner.ID).
			Msg("Winner has no phone number, skipping notification")
		return
	}

	body := FillTemplate(w.NotifyTemplate, winner, w.Title)

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.sms.Send(ctx, winner.Phone, body); err != nil {
		n.logger.Error().
			Err(err).
			Str("wheel_id", w.ID).
			Str("entry_id", winner.ID).
			Msg("Failed to deliver winner SMS")
		return
	}

	n.logger.Info().
		Str("wheel_id", w.ID).
		Str("entry_id", winner.ID).
		Msg("Winner SMS sent")
}

// FillTemplate substitutes the named placeholders into the host-configured
// template, falling back to the default template when it is empty.
// Supported placeholders: {{first_name}}, {{last_name}}, {{wheel_title}}.
func FillTemplate(template string, winner *wheel.Entry, wheelTitle string) string {
	if strings.TrimSpace(template) == "" {
		template = wheel.DefaultNotifyTemplate
	}
	r := strings.NewReplacer(
		"{{first_name}}", winner.FirstName,
		"{{last_name}}", winner.LastName,
		"{{wheel_title}}", wheelTitle,
	)
	return r.Replace(template)
}
