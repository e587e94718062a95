package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
)

const stripeSecret = "whsec_test"

func stripeSign(payload []byte, secret string, ts time.Time) http.Header {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil))))
	return h
}

func stripeEvent(eventType, status string, created time.Time) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "type": %q,
  "created": %d,
  "data": {
    "object": {
      "id": "sub_123",
      "object": "subscription",
      "status": %q,
      "metadata": {"user_id": "user-9", "email": "nine@example.com"},
      "items": {"data": [{"current_period_end": 1767225600, "price": {"id": "price_pro"}}]}
    }
  }
}`, eventType, created.Unix(), status))
}

func newStripe(t *testing.T) *billing.StripeProvider {
	t.Helper()
	p, err := billing.NewStripeProvider(billing.StripeConfig{SecretKey: "sk_test_x", WebhookSecret: stripeSecret})
	require.NoError(t, err)
	return p
}

func TestStripe_ParseWebhook(t *testing.T) {
	ctx := context.Background()
	p := newStripe(t)
	now := time.Now()

	t.Run("subscription updated", func(t *testing.T) {
		payload := stripeEvent("customer.subscription.updated", "active", now)
		ev, err := p.ParseWebhook(ctx, payload, stripeSign(payload, stripeSecret, now))
		require.NoError(t, err)
		assert.Equal(t, entitlement.ProviderStripe, ev.Provider)
		assert.Equal(t, "evt_1", ev.EventID)
		assert.Equal(t, "sub_123", ev.SubscriptionID)
		assert.Equal(t, "user-9", ev.UserID)
		assert.Equal(t, "nine@example.com", ev.Email)
		assert.Equal(t, "price_pro", ev.PlanID)
		assert.Equal(t, entitlement.StatusActive, ev.Status)
		require.NotNil(t, ev.PeriodEnd)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), *ev.PeriodEnd)
		assert.Equal(t, now.Unix(), ev.OccurredAt.Unix())
	})

	t.Run("deleted maps to cancelled", func(t *testing.T) {
		payload := stripeEvent("customer.subscription.deleted", "canceled", now)
		ev, err := p.ParseWebhook(ctx, payload, stripeSign(payload, stripeSecret, now))
		require.NoError(t, err)
		assert.Equal(t, entitlement.StatusCancelled, ev.Status)
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload := stripeEvent("customer.subscription.updated", "active", now)
		_, err := p.ParseWebhook(ctx, payload, stripeSign(payload, "whsec_other", now))
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := p.ParseWebhook(ctx, []byte(`{}`), http.Header{})
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("ignored type", func(t *testing.T) {
		payload := stripeEvent("invoice.paid", "active", now)
		_, err := p.ParseWebhook(ctx, payload, stripeSign(payload, stripeSecret, now))
		assert.ErrorIs(t, err, billing.ErrEventIgnored)
	})

	t.Run("unknown status", func(t *testing.T) {
		payload := stripeEvent("customer.subscription.updated", "hibernating", now)
		_, err := p.ParseWebhook(ctx, payload, stripeSign(payload, stripeSecret, now))
		assert.ErrorIs(t, err, billing.ErrUnknownProviderStatus)
	})
}
