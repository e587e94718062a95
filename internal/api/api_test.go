package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/aidash/handler"
	"github.com/dmitrymomot/aidash/internal/ai"
	"github.com/dmitrymomot/aidash/internal/api"
	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/internal/jobs"
	"github.com/dmitrymomot/aidash/internal/metrics"
	"github.com/dmitrymomot/aidash/pkg/jwt"
)

const jwtSecret = "test-secret-test-secret-test-secret"

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeTools answers every tool with a canned result, or with err when set.
type fakeTools struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeTools) result() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeTools) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTools) text() (*ai.TextResult, error) {
	if err := f.result(); err != nil {
		return nil, err
	}
	return &ai.TextResult{Content: "ok", Model: "fake"}, nil
}

func (f *fakeTools) media() (*ai.MediaResult, error) {
	if err := f.result(); err != nil {
		return nil, err
	}
	return &ai.MediaResult{URL: "https://media.test/x.png", ContentType: "image/png"}, nil
}

func (f *fakeTools) Chat(context.Context, ai.ChatRequest) (*ai.TextResult, error) { return f.text() }
func (f *fakeTools) Code(context.Context, ai.CodeRequest) (*ai.TextResult, error) { return f.text() }
func (f *fakeTools) Content(context.Context, ai.ContentRequest) (*ai.TextResult, error) { return f.text() }
func (f *fakeTools) Translate(context.Context, ai.TranslateRequest) (*ai.TextResult, error) { return f.text() }
func (f *fakeTools) Legal(context.Context, ai.LegalRequest) (*ai.TextResult, error) { return f.text() }
func (f *fakeTools) Image(context.Context, ai.ImageRequest) (*ai.MediaResult, error) { return f.media() }
func (f *fakeTools) Video(context.Context, ai.VideoRequest) (*ai.MediaResult, error) { return f.media() }
func (f *fakeTools) Music(context.Context, ai.MusicRequest) (*ai.MediaResult, error) { return f.media() }

// fakePayPal verifies a delivery only when its transmission signature is "good".
func fakePayPal(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("POST /v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TransmissionSig string `json:"transmission_sig"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		status := "FAILURE"
		if body.TransmissionSig == "good" {
			status = "SUCCESS"
		}
		_, _ = w.Write([]byte(`{"verification_status":"` + status + `"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	h      http.Handler
	auth   *jwt.Service
	store  entitlement.Store
	tools  *fakeTools
	events int
}

type options struct {
	store entitlement.Store
}

func newEnv(t *testing.T, opts ...func(*options)) *env {
	t.Helper()
	o := options{store: entitlement.NewMemoryStore()}
	for _, fn := range opts {
		fn(&o)
	}

	paypal, err := billing.NewPayPalProvider(billing.PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-ID",
		BaseURL:      fakePayPal(t).URL,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	auth, err := jwt.New(jwt.Config{Secret: jwtSecret})
	require.NoError(t, err)

	m := metrics.New()
	ent := entitlement.NewService(o.store,
		entitlement.WithLogger(quiet()),
		entitlement.WithObserver(m),
	)
	rec := billing.NewReconciler(o.store, []billing.Provider{paypal},
		billing.WithReconcilerLogger(quiet()),
		billing.WithObserver(m),
	)
	tools := &fakeTools{}

	h := api.NewRouter(api.Config{}, api.Deps{
		Entitlements: ent,
		Billing:      billing.NewService(rec, ent, o.store, billing.Plans{entitlement.ProviderPayPal: "P-PRO"}, quiet()),
		Reconciler:   rec,
		Tools:        tools,
		Jobs:         jobs.NewService(jobs.NewMemoryStore(), jobs.Config{}, quiet()),
		Auth:         auth,
		Metrics:      m,
		Logger:       quiet(),
	})
	return &env{h: h, auth: auth, store: o.store, tools: tools}
}

func (e *env) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.auth.Generate(userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, handler.JSONResponse) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)

	var out handler.JSONResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (e *env) webhook(t *testing.T, sig, payload string) *httptest.ResponseRecorder {
	t.Helper()
	e.events++
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PAYPAL-AUTH-ALGO", "SHA256withRSA")
	req.Header.Set("PAYPAL-CERT-URL", "https://api.paypal.com/v1/notifications/certs/CERT")
	req.Header.Set("PAYPAL-TRANSMISSION-ID", fmt.Sprintf("tx-%d", e.events))
	req.Header.Set("PAYPAL-TRANSMISSION-SIG", sig)
	req.Header.Set("PAYPAL-TRANSMISSION-TIME", time.Now().UTC().Format(time.RFC3339))
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func paypalEvent(id, eventType, status, userID string, at, nextBilling time.Time) string {
	return fmt.Sprintf(`{
  "id": %q,
  "event_type": %q,
  "create_time": %q,
  "resource": {
    "id": "I-SUB1",
    "status": %q,
    "plan_id": "P-PRO",
    "custom_id": %q,
    "billing_info": {"next_billing_time": %q}
  }
}`, id, eventType, at.UTC().Format(time.RFC3339), status, userID, nextBilling.UTC().Format(time.RFC3339))
}

var codePrompt = map[string]string{"prompt": "write fizzbuzz in go"}

func TestScenario_FreeTierQuota(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	tok := e.token(t, "user-1")

	for i := 1; i <= 10; i++ {
		rec, body := e.do(t, http.MethodPost, "/api/v1/tools/code", tok, codePrompt)
		require.Equal(t, http.StatusOK, rec.Code, "call %d: %s", i, rec.Body.String())
		assert.Equal(t, float64(10-i), body.Meta["remaining"])
	}

	rec, body := e.do(t, http.MethodPost, "/api/v1/tools/code", tok, codePrompt)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "quota_exceeded", body.Error.Code)
	assert.True(t, body.Upgrade)
	assert.Equal(t, 10, e.tools.calls)
}

func TestScenario_UpgradeThenCancel(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	tok := e.token(t, "user-1")
	now := time.Now()

	for range 10 {
		rec, _ := e.do(t, http.MethodPost, "/api/v1/tools/code", tok, codePrompt)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := e.do(t, http.MethodPost, "/api/v1/tools/code", tok, codePrompt)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// upgrade
	rec = e.webhook(t, "good", paypalEvent("WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", "ACTIVE", "user-1", now, now.Add(30*24*time.Hour)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"outcome":"applied"`)

	for _, path := range []string{"/api/v1/tools/code", "/api/v1/tools/code", "/api/v1/tools/code"} {
		rec, body := e.do(t, http.MethodPost, path, tok, codePrompt)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, body.Meta["remaining"])
	}
	rec, _ = e.do(t, http.MethodPost, "/api/v1/tools/video", tok, map[string]string{"prompt": "a cat surfing"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := e.do(t, http.MethodGet, "/api/v1/billing/status", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := body.Data.(map[string]any)
	assert.Equal(t, true, status["pro"])
	assert.Equal(t, "ACTIVE", status["subscription"].(map[string]any)["status"])

	// cancel: back to free counting with the old count
	rec = e.webhook(t, "good", paypalEvent("WH-2", "BILLING.SUBSCRIPTION.CANCELLED", "CANCELLED", "user-1", now.Add(time.Minute), now.Add(30*24*time.Hour)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = e.do(t, http.MethodPost, "/api/v1/tools/code", tok, codePrompt)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, body.Upgrade)

	rec, body = e.do(t, http.MethodPost, "/api/v1/tools/video", tok, map[string]string{"prompt": "a cat surfing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body.Meta["remaining"])
}

func TestScenario_InvalidWebhookSignature(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	now := time.Now()

	rec := e.webhook(t, "forged", paypalEvent("WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", "ACTIVE", "user-1", now, now.Add(30*24*time.Hour)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := e.store.GetSubscription(context.Background(), "user-1")
	assert.ErrorIs(t, err, entitlement.ErrSubscriptionNotFound)
}

func TestWebhook(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	now := time.Now()

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/bitpay", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		e.h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("provider not configured", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		e.h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ignored event type", func(t *testing.T) {
		t.Parallel()
		rec := e.webhook(t, "good", paypalEvent("WH-9", "PAYMENT.SALE.COMPLETED", "ACTIVE", "user-2", now, now))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"outcome":"ignored"`)
	})
}

func TestTools_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unauthenticated", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		rec, body := e.do(t, http.MethodPost, "/api/v1/tools/chat", "", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", body.Error.Code)

		rec, _ = e.do(t, http.MethodPost, "/api/v1/tools/chat", "not-a-jwt", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		rec, body := e.do(t, http.MethodPost, "/api/v1/tools/chat", e.token(t, "u"), `{"messages":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", body.Error.Code)
		assert.Zero(t, e.tools.calls)
	})

	t.Run("invalid fields", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		rec, body := e.do(t, http.MethodPost, "/api/v1/tools/translate", e.token(t, "u"), map[string]string{"text": "hola"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", body.Error.Code)
		assert.Equal(t, []string{"is required"}, body.Error.Details["target"])
	})

	t.Run("vendor failure releases the reservation", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		tok := e.token(t, "u")
		e.tools.fail(fmt.Errorf("%w: upstream 500", ai.ErrVendor))

		rec, body := e.do(t, http.MethodPost, "/api/v1/tools/image", tok, map[string]string{"prompt": "sunset"})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "vendor_error", body.Error.Code)
		assert.False(t, body.Upgrade)

		e.tools.fail(nil)
		rec, body = e.do(t, http.MethodPost, "/api/v1/tools/image", tok, map[string]string{"prompt": "sunset"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(4), body.Meta["remaining"])
	})

	t.Run("unexpected failure", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.tools.fail(errors.New("boom"))
		rec, body := e.do(t, http.MethodPost, "/api/v1/tools/legal", e.token(t, "u"), map[string]string{"document_type": "nda"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal_server_error", body.Error.Code)
	})
}

// brokenStore fails every usage and subscription read.
type brokenStore struct {
	*entitlement.MemoryStore
}

var errDown = errors.New("connection refused")

func (brokenStore) GetSubscription(context.Context, string) (*entitlement.Subscription, error) {
	return nil, errDown
}

func (brokenStore) ConsumeUsage(context.Context, string, entitlement.Feature, int64, time.Time, time.Time) (int64, bool, error) {
	return 0, false, errDown
}

func TestTools_GateFailsClosed(t *testing.T) {
	t.Parallel()
	e := newEnv(t, func(o *options) { o.store = brokenStore{entitlement.NewMemoryStore()} })

	rec, body := e.do(t, http.MethodPost, "/api/v1/tools/chat", e.token(t, "u"),
		map[string]any{"messages": []map[string]string{{"role": "user", "content": "hi"}}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "entitlement_unavailable", body.Error.Code)
	assert.Zero(t, e.tools.calls)
}

func TestBilling(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	tok := e.token(t, "user-5")

	rec, body := e.do(t, http.MethodGet, "/api/v1/billing/status", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := body.Data.(map[string]any)
	assert.Equal(t, false, status["pro"])
	assert.Nil(t, status["subscription"])
	assert.Equal(t, []any{"paypal"}, status["providers"])

	rec, body = e.do(t, http.MethodPost, "/api/v1/billing/checkout", tok, map[string]string{"provider": "stripe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "provider_not_configured", body.Error.Code)

	rec, body = e.do(t, http.MethodPost, "/api/v1/billing/checkout", tok, map[string]string{"provider": "bitcoin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body.Error.Code)

	rec, body = e.do(t, http.MethodPost, "/api/v1/billing/cancel", tok, map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_subscription", body.Error.Code)

	rec, body = e.do(t, http.MethodPost, "/api/v1/billing/cancel", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	assert.Equal(t, "no_subscription", body.Error.Code)

	rec, body = e.do(t, http.MethodGet, "/api/v1/billing/events", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body.Data)
}

func TestJobs(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	owner := e.token(t, "owner")

	rec, body := e.do(t, http.MethodPost, "/api/v1/jobs/training", owner, map[string]any{"model": "gpt-mini", "epochs": 5})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := body.Data.(map[string]any)
	assert.Equal(t, "queued", job["status"])
	id := job["id"].(string)

	rec, body = e.do(t, http.MethodGet, "/api/v1/jobs/training/"+id, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body.Data.(map[string]any)["id"])

	rec, _ = e.do(t, http.MethodGet, "/api/v1/jobs/training/"+id, e.token(t, "intruder"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/api/v1/jobs/training/not-a-uuid", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = e.do(t, http.MethodPost, "/api/v1/jobs/training", owner, map[string]any{"epochs": 500})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body.Error.Details, "model")
	assert.Contains(t, body.Error.Details, "epochs")
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rec, _ := e.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, _ = e.do(t, http.MethodPost, "/api/v1/tools/code", e.token(t, "u"), codePrompt)
	rec, _ = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aidash_entitlement_reservations_total")

	rec, body := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body.Error.Code)
}
