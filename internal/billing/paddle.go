package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/aidash/internal/entitlement"
)

type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

func (c PaddleConfig) Enabled() bool { return c.APIKey != "" }

// PaddleProvider implements Provider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) Name() entitlement.Provider { return entitlement.ProviderPaddle }

func (p *PaddleProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PlanID == "" {
		return nil, ErrMissingPlanID
	}
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PlanID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{"user_id": req.UserID},
	}
	if req.Email != "" {
		txReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}
	return &CheckoutLink{
		Provider:  entitlement.ProviderPaddle,
		URL:       *tx.Checkout.URL,
		SessionID: tx.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *PaddleProvider) CancelSubscription(ctx context.Context, subscriptionID, _ string) error {
	if subscriptionID == "" {
		return ErrNoSubscription
	}
	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromImmediately),
	})
	if err != nil {
		return errors.Join(ErrProviderError, err)
	}
	return nil
}

type paddleEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		ID                   string            `json:"id"`
		Status               string            `json:"status"`
		CustomData           map[string]string `json:"custom_data"`
		CurrentBillingPeriod *struct {
			EndsAt time.Time `json:"ends_at"`
		} `json:"current_billing_period"`
		Items []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"items"`
	} `json:"data"`
}

// ParseWebhook verifies the Paddle-Signature header with the SDK verifier.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookEvent, error) {
	sig := headers.Get("Paddle-Signature")
	if sig == "" {
		return nil, fmt.Errorf("%w: missing Paddle-Signature header", ErrWebhookVerificationFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", sig)

	valid, err := p.verifier.Verify(req)
	if err != nil || !valid {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	var raw paddleEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	ev := &WebhookEvent{
		Provider:       entitlement.ProviderPaddle,
		EventID:        raw.EventID,
		EventType:      raw.EventType,
		SubscriptionID: raw.Data.ID,
		UserID:         raw.Data.CustomData["user_id"],
		Email:          raw.Data.CustomData["email"],
		RawStatus:      raw.Data.Status,
		OccurredAt:     raw.OccurredAt,
		Payload:        payload,
	}
	if !strings.HasPrefix(raw.EventType, "subscription.") {
		return ev, ErrEventIgnored
	}
	if raw.EventID == "" || raw.Data.ID == "" || raw.OccurredAt.IsZero() {
		return nil, ErrMalformedEvent
	}
	if len(raw.Data.Items) > 0 {
		ev.PlanID = raw.Data.Items[0].Price.ID
	}
	if raw.Data.CurrentBillingPeriod != nil && !raw.Data.CurrentBillingPeriod.EndsAt.IsZero() {
		end := raw.Data.CurrentBillingPeriod.EndsAt.UTC()
		ev.PeriodEnd = &end
	}

	status, err := mapPaddleStatus(raw.Data.Status)
	if err != nil {
		return ev, err
	}
	ev.Status = status
	return ev, nil
}

func mapPaddleStatus(s string) (entitlement.Status, error) {
	switch strings.ToLower(s) {
	case "trialing":
		return entitlement.StatusTrialing, nil
	case "active":
		return entitlement.StatusActive, nil
	case "past_due", "paused":
		return entitlement.StatusPastDue, nil
	case "canceled", "cancelled":
		return entitlement.StatusCancelled, nil
	}
	return entitlement.StatusNone, fmt.Errorf("%w: paddle %q", ErrUnknownProviderStatus, s)
}
