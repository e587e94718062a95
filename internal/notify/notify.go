// Package notify emails users when their subscription status changes.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/pkg/email"
	"github.com/dmitrymomot/aidash/pkg/logger"
)

type message struct {
	subject string
	tag     string
	body    *template.Template
}

var messages = map[entitlement.Status]message{
	entitlement.StatusActive: {
		subject: "Your Pro plan is active",
		tag:     "subscription-active",
		body: template.Must(template.New("active").Parse(
			`<p>Thanks for upgrading. All AI tools are now unlimited{{with .PeriodEnd}} until {{.}}{{end}}.</p>`)),
	},
	entitlement.StatusPastDue: {
		subject: "We could not process your payment",
		tag:     "subscription-past-due",
		body: template.Must(template.New("past_due").Parse(
			`<p>Your last {{.Provider}} payment failed. Please update your payment method to keep Pro access.</p>`)),
	},
	entitlement.StatusCancelled: {
		subject: "Your subscription was cancelled",
		tag:     "subscription-cancelled",
		body: template.Must(template.New("cancelled").Parse(
			`<p>Your Pro plan was cancelled. You are back on the free tier{{with .PeriodEnd}} after {{.}}{{end}}.</p>`)),
	},
	entitlement.StatusExpired: {
		subject: "Your Pro plan has expired",
		tag:     "subscription-expired",
		body: template.Must(template.New("expired").Parse(
			`<p>Your Pro plan has expired and free-tier limits apply again. You can resubscribe at any time.</p>`)),
	},
}

// Mailer implements billing.Notifier on top of an email.EmailSender.
type Mailer struct {
	sender email.EmailSender
	log    *slog.Logger
}

func New(sender email.EmailSender, log *slog.Logger) *Mailer {
	if sender == nil {
		panic("notify: email sender is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{sender: sender, log: log.With(logger.Component("notify"))}
}

// SubscriptionChanged sends the message for c.To. Statuses without a message
// and changes without a known address are skipped.
func (m *Mailer) SubscriptionChanged(ctx context.Context, c billing.Change) error {
	msg, ok := messages[c.To]
	if !ok {
		return nil
	}
	if c.Email == "" {
		m.log.DebugContext(ctx, "no email address for subscription change",
			logger.UserID(c.UserID), logger.Status(c.To.String()))
		return nil
	}

	data := struct {
		Provider  entitlement.Provider
		PeriodEnd string
	}{Provider: c.Provider}
	if c.PeriodEnd != nil {
		data.PeriodEnd = c.PeriodEnd.UTC().Format(time.DateOnly)
	}

	var buf bytes.Buffer
	if err := msg.body.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", msg.tag, err)
	}
	return m.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   c.Email,
		Subject:  msg.subject,
		BodyHTML: buf.String(),
		Tag:      msg.tag,
	})
}

var _ billing.Notifier = (*Mailer)(nil)
