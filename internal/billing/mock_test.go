package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
)

type mockProvider struct {
	mock.Mock
	name entitlement.Provider
}

func (m *mockProvider) Name() entitlement.Provider { return m.name }

func (m *mockProvider) CreateCheckoutLink(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutLink, error) {
	args := m.Called(ctx, req)
	link, _ := args.Get(0).(*billing.CheckoutLink)
	return link, args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	return m.Called(ctx, subscriptionID, reason).Error(0)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*billing.WebhookEvent, error) {
	args := m.Called(ctx, payload, headers)
	ev, _ := args.Get(0).(*billing.WebhookEvent)
	return ev, args.Error(1)
}

// recorder captures archive, notification and metric side effects.
type recorder struct {
	mu          sync.Mutex
	archived    []billing.Outcome
	changes     []billing.Change
	outcomes    []billing.Outcome
	transitions [][2]entitlement.Status
}

func (r *recorder) Archive(_ context.Context, _ *billing.WebhookEvent, o billing.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, o)
	return nil
}

func (r *recorder) SubscriptionChanged(_ context.Context, c billing.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recorder) WebhookOutcome(_ entitlement.Provider, o billing.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) SubscriptionTransition(_ entitlement.Provider, from, to entitlement.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]entitlement.Status{from, to})
}

var errDBDown = errors.New("connection refused")

// failingStore fails subscription writes.
type failingStore struct {
	*entitlement.MemoryStore
}

func (failingStore) SaveSubscription(context.Context, *entitlement.Subscription) error {
	return errDBDown
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }
