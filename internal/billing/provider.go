package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrymomot/aidash/internal/entitlement"
)

// Provider is a payment provider integration.
type Provider interface {
	Name() entitlement.Provider

	// CreateCheckoutLink starts a hosted checkout. The user id must travel back
	// in every subscription webhook (custom_id, metadata, custom_data).
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// CancelSubscription cancels the provider subscription immediately.
	CancelSubscription(ctx context.Context, subscriptionID, reason string) error

	// ParseWebhook verifies the delivery and normalises it. It returns
	// ErrWebhookVerificationFailed, ErrMalformedEvent or ErrEventIgnored.
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookEvent, error)
}

type CheckoutRequest struct {
	UserID     string
	PlanID     string // provider plan or price id
	Email      string
	SuccessURL string
	CancelURL  string
}

type CheckoutLink struct {
	Provider  entitlement.Provider `json:"provider"`
	URL       string               `json:"url"`
	SessionID string               `json:"session_id"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// WebhookEvent is a provider subscription event in local terms.
type WebhookEvent struct {
	Provider       entitlement.Provider
	EventID        string
	EventType      string
	SubscriptionID string
	UserID         string // correlation id set at checkout
	Email          string
	PlanID         string
	Status         entitlement.Status
	RawStatus      string
	PeriodEnd      *time.Time
	OccurredAt     time.Time
	Payload        []byte
}
