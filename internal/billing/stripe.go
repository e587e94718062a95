package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/aidash/internal/entitlement"
)

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

func (c StripeConfig) Enabled() bool { return c.SecretKey != "" }

// StripeProvider uses Stripe Checkout in subscription mode. The user id is
// written to the subscription metadata so every customer.subscription.* event
// carries it.
type StripeProvider struct {
	secret string

	createSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	cancel        func(id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
}

func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	stripe.Key = strings.TrimSpace(cfg.SecretKey)

	return &StripeProvider{
		secret:        cfg.WebhookSecret,
		createSession: checkoutsession.New,
		cancel:        subscription.Cancel,
	}, nil
}

func (p *StripeProvider) Name() entitlement.Provider { return entitlement.ProviderStripe }

func (p *StripeProvider) CreateCheckoutLink(_ context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PlanID == "" {
		return nil, ErrMissingPlanID
	}
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}

	metadata := map[string]string{"user_id": req.UserID}
	if req.Email != "" {
		metadata["email"] = req.Email
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PlanID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := p.createSession(params)
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	link := &CheckoutLink{
		Provider:  entitlement.ProviderStripe,
		URL:       sess.URL,
		SessionID: sess.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if sess.ExpiresAt > 0 {
		link.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return link, nil
}

func (p *StripeProvider) CancelSubscription(_ context.Context, subscriptionID, reason string) error {
	if subscriptionID == "" {
		return ErrNoSubscription
	}
	params := &stripe.SubscriptionCancelParams{}
	if reason != "" {
		params.CancellationDetails = &stripe.SubscriptionCancelCancellationDetailsParams{
			Comment: stripe.String(reason),
		}
	}
	if _, err := p.cancel(subscriptionID, params); err != nil {
		return errors.Join(ErrProviderError, err)
	}
	return nil
}

// stripeSubscription is the subset of the subscription object we read.
// Newer API versions moved current_period_end onto subscription items.
type stripeSubscription struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, headers http.Header) (*WebhookEvent, error) {
	sig := headers.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrWebhookVerificationFailed)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sig, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	ev := &WebhookEvent{
		Provider:   entitlement.ProviderStripe,
		EventID:    event.ID,
		EventType:  string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Payload:    payload,
	}
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
	default:
		return ev, ErrEventIgnored
	}
	if event.Data == nil {
		return nil, ErrMalformedEvent
	}

	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if sub.ID == "" {
		return nil, ErrMalformedEvent
	}
	ev.SubscriptionID = sub.ID
	ev.UserID = sub.Metadata["user_id"]
	ev.Email = sub.Metadata["email"]
	ev.RawStatus = sub.Status

	periodEnd := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		ev.PlanID = sub.Items.Data[0].Price.ID
		if periodEnd == 0 {
			periodEnd = sub.Items.Data[0].CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		end := time.Unix(periodEnd, 0).UTC()
		ev.PeriodEnd = &end
	}

	status, err := mapStripeStatus(sub.Status)
	if err != nil {
		return ev, err
	}
	ev.Status = status
	return ev, nil
}

func mapStripeStatus(s string) (entitlement.Status, error) {
	switch s {
	case "incomplete":
		return entitlement.StatusIncomplete, nil
	case "trialing":
		return entitlement.StatusTrialing, nil
	case "active":
		return entitlement.StatusActive, nil
	case "past_due", "unpaid", "paused":
		return entitlement.StatusPastDue, nil
	case "canceled":
		return entitlement.StatusCancelled, nil
	case "incomplete_expired":
		return entitlement.StatusExpired, nil
	}
	return entitlement.StatusNone, fmt.Errorf("%w: stripe %q", ErrUnknownProviderStatus, s)
}
