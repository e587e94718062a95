package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/dmitrymomot/aidash/internal/entitlement"
)

const (
	paypalLiveURL    = "https://api-m.paypal.com"
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
)

type PayPalConfig struct {
	ClientID     string `env:"PAYPAL_CLIENT_ID"`
	ClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
	WebhookID    string `env:"PAYPAL_WEBHOOK_ID"`
	Environment  string `env:"PAYPAL_ENVIRONMENT" envDefault:"sandbox"`
	BrandName    string `env:"PAYPAL_BRAND_NAME" envDefault:"AI Dashboard"`
	// BaseURL overrides the API host derived from Environment.
	BaseURL string        `env:"PAYPAL_BASE_URL"`
	Timeout time.Duration `env:"PAYPAL_TIMEOUT" envDefault:"15s"`
}

func (c PayPalConfig) Enabled() bool { return c.ClientID != "" }

// PayPalProvider talks to the PayPal Subscriptions REST API with an
// OAuth2 client-credentials token.
type PayPalProvider struct {
	http    *http.Client
	baseURL string
	cfg     PayPalConfig
}

func NewPayPalProvider(cfg PayPalConfig) (*PayPalProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookID == "" {
		return nil, ErrMissingWebhookSecret
	}

	base := cfg.BaseURL
	if base == "" {
		switch strings.ToLower(cfg.Environment) {
		case "sandbox", "":
			base = paypalSandboxURL
		case "live", "production":
			base = paypalLiveURL
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
		}
	}
	base = strings.TrimRight(base, "/")

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + "/v1/oauth2/token",
	}
	client := cc.Client(context.Background())
	client.Timeout = cfg.Timeout

	return &PayPalProvider{http: client, baseURL: base, cfg: cfg}, nil
}

func (p *PayPalProvider) Name() entitlement.Provider { return entitlement.ProviderPayPal }

func (p *PayPalProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PlanID == "" {
		return nil, ErrMissingPlanID
	}
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}

	body := map[string]any{
		"plan_id":   req.PlanID,
		"custom_id": req.UserID,
		"application_context": map[string]any{
			"brand_name":          p.cfg.BrandName,
			"user_action":         "SUBSCRIBE_NOW",
			"shipping_preference": "NO_SHIPPING",
			"return_url":          req.SuccessURL,
			"cancel_url":          req.CancelURL,
		},
	}
	if req.Email != "" {
		body["subscriber"] = map[string]any{"email_address": req.Email}
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &out); err != nil {
		return nil, err
	}
	for _, l := range out.Links {
		if l.Rel == "approve" {
			return &CheckoutLink{
				Provider:  entitlement.ProviderPayPal,
				URL:       l.Href,
				SessionID: out.ID,
				ExpiresAt: time.Now().Add(3 * time.Hour),
			}, nil
		}
	}
	return nil, ErrNoCheckoutURL
}

func (p *PayPalProvider) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	if subscriptionID == "" {
		return ErrNoSubscription
	}
	if reason == "" {
		reason = "Cancelled by user"
	}
	return p.call(ctx, http.MethodPost, "/v1/billing/subscriptions/"+subscriptionID+"/cancel",
		map[string]string{"reason": reason}, nil)
}

// paypalEvent is the part of a PayPal webhook we read.
type paypalEvent struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	CreateTime time.Time `json:"create_time"`
	Resource   struct {
		ID               string     `json:"id"`
		Status           string     `json:"status"`
		PlanID           string     `json:"plan_id"`
		CustomID         string     `json:"custom_id"`
		StatusUpdateTime *time.Time `json:"status_update_time"`
		BillingInfo      struct {
			NextBillingTime *time.Time `json:"next_billing_time"`
		} `json:"billing_info"`
		Subscriber struct {
			EmailAddress string `json:"email_address"`
		} `json:"subscriber"`
	} `json:"resource"`
}

var paypalHandledEvents = map[string]bool{
	"BILLING.SUBSCRIPTION.CREATED":        true,
	"BILLING.SUBSCRIPTION.ACTIVATED":      true,
	"BILLING.SUBSCRIPTION.UPDATED":        true,
	"BILLING.SUBSCRIPTION.RE-ACTIVATED":   true,
	"BILLING.SUBSCRIPTION.SUSPENDED":      true,
	"BILLING.SUBSCRIPTION.CANCELLED":      true,
	"BILLING.SUBSCRIPTION.EXPIRED":        true,
	"BILLING.SUBSCRIPTION.PAYMENT.FAILED": true,
}

func (p *PayPalProvider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookEvent, error) {
	if err := p.verify(ctx, payload, headers); err != nil {
		return nil, err
	}

	var raw paypalEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	ev := &WebhookEvent{
		Provider:       entitlement.ProviderPayPal,
		EventID:        raw.ID,
		EventType:      raw.EventType,
		SubscriptionID: raw.Resource.ID,
		UserID:         raw.Resource.CustomID,
		Email:          raw.Resource.Subscriber.EmailAddress,
		PlanID:         raw.Resource.PlanID,
		RawStatus:      raw.Resource.Status,
		PeriodEnd:      raw.Resource.BillingInfo.NextBillingTime,
		OccurredAt:     raw.CreateTime,
		Payload:        payload,
	}
	if !paypalHandledEvents[raw.EventType] {
		return ev, ErrEventIgnored
	}
	if raw.ID == "" || raw.Resource.ID == "" || raw.CreateTime.IsZero() {
		return nil, ErrMalformedEvent
	}

	status, err := mapPayPalStatus(raw.Resource.Status)
	if err != nil {
		return ev, err
	}
	ev.Status = status
	return ev, nil
}

func mapPayPalStatus(s string) (entitlement.Status, error) {
	switch strings.ToUpper(s) {
	case "APPROVAL_PENDING", "APPROVED":
		return entitlement.StatusIncomplete, nil
	case "ACTIVE":
		return entitlement.StatusActive, nil
	case "SUSPENDED":
		return entitlement.StatusPastDue, nil
	case "CANCELLED":
		return entitlement.StatusCancelled, nil
	case "EXPIRED":
		return entitlement.StatusExpired, nil
	}
	return entitlement.StatusNone, fmt.Errorf("%w: paypal %q", ErrUnknownProviderStatus, s)
}

// verify asks PayPal to check the transmission signature.
func (p *PayPalProvider) verify(ctx context.Context, payload []byte, h http.Header) error {
	req := map[string]any{
		"auth_algo":         h.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          h.Get("PAYPAL-CERT-URL"),
		"transmission_id":   h.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  h.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": h.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	for _, k := range []string{"auth_algo", "cert_url", "transmission_id", "transmission_sig", "transmission_time"} {
		if req[k] == "" {
			return fmt.Errorf("%w: missing %s header", ErrWebhookVerificationFailed, k)
		}
	}
	if !json.Valid(payload) {
		return ErrMalformedEvent
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &out); err != nil {
		return errors.Join(ErrWebhookVerificationFailed, err)
	}
	if out.VerificationStatus != "SUCCESS" {
		return ErrWebhookVerificationFailed
	}
	return nil
}

func (p *PayPalProvider) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode paypal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build paypal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return errors.Join(ErrProviderError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: paypal %s %s: %d %s", ErrProviderError, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode paypal response: %w", err)
	}
	return nil
}
