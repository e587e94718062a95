package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/pkg/logger"
)

// Plans maps each provider to the plan or price id sold at checkout.
type Plans map[entitlement.Provider]string

type CheckoutOptions struct {
	Email      string
	SuccessURL string
	CancelURL  string
}

// Status is the billing view of a user.
type Status struct {
	Summary      *entitlement.Summary
	Subscription *entitlement.Subscription
	Providers    []entitlement.Provider
}

// Service is the user-facing billing API.
type Service struct {
	reconciler   *Reconciler
	entitlements entitlement.Service
	store        entitlement.Store
	plans        Plans
	log          *slog.Logger
}

func NewService(reconciler *Reconciler, entitlements entitlement.Service, store entitlement.Store, plans Plans, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		reconciler:   reconciler,
		entitlements: entitlements,
		store:        store,
		plans:        plans,
		log:          log.With(logger.Component("billing")),
	}
}

// Providers lists the configured providers that have a plan to sell.
func (s *Service) Providers() []entitlement.Provider {
	var out []entitlement.Provider
	for _, name := range []entitlement.Provider{entitlement.ProviderPayPal, entitlement.ProviderStripe, entitlement.ProviderPaddle} {
		if _, ok := s.reconciler.Provider(name); ok && s.plans[name] != "" {
			out = append(out, name)
		}
	}
	return out
}

func (s *Service) Checkout(ctx context.Context, userID string, provider entitlement.Provider, opts CheckoutOptions) (*CheckoutLink, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	p, ok := s.reconciler.Provider(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	plan := s.plans[provider]
	if plan == "" {
		return nil, ErrMissingPlanID
	}

	link, err := p.CreateCheckoutLink(ctx, CheckoutRequest{
		UserID:     userID,
		PlanID:     plan,
		Email:      opts.Email,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "checkout failed", logger.UserID(userID), logger.Provider(string(provider)), logger.Error(err))
		return nil, err
	}
	s.log.InfoContext(ctx, "checkout started", logger.UserID(userID), logger.Provider(string(provider)))
	return link, nil
}

// Cancel cancels the user's subscription at the provider and records the
// CANCELLED status locally without waiting for the webhook.
func (s *Service) Cancel(ctx context.Context, userID, reason string) (*entitlement.Subscription, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub.SubscriptionID == "" {
		return nil, ErrNoSubscription
	}
	if sub.Status == entitlement.StatusCancelled || sub.Status == entitlement.StatusExpired {
		return sub, nil
	}

	p, ok := s.reconciler.Provider(sub.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, sub.Provider)
	}
	if err := p.CancelSubscription(ctx, sub.SubscriptionID, reason); err != nil {
		return nil, err
	}

	now := s.reconciler.now()
	if sub.LastEventAt != nil && sub.LastEventAt.After(now) {
		now = *sub.LastEventAt
	}
	outcome, err := s.reconciler.Apply(ctx, &WebhookEvent{
		Provider:       sub.Provider,
		EventID:        "cancel-" + sub.SubscriptionID,
		EventType:      "local.subscription.cancelled",
		SubscriptionID: sub.SubscriptionID,
		UserID:         userID,
		Status:         entitlement.StatusCancelled,
		OccurredAt:     now,
	})
	if err != nil {
		return nil, err
	}
	// Apply acknowledges failed writes under fail-open; a user cancel reports them.
	if outcome == OutcomeFailed {
		return nil, fmt.Errorf("%w: cancel %s", ErrPersistence, sub.SubscriptionID)
	}
	s.log.InfoContext(ctx, "subscription cancelled by user",
		logger.UserID(userID), logger.SubscriptionID(sub.SubscriptionID), slog.String("outcome", string(outcome)))

	return s.store.GetSubscription(ctx, userID)
}

func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	sum, err := s.entitlements.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Status{Summary: sum, Subscription: sum.Subscription, Providers: s.Providers()}, nil
}

// SubscriptionView is the JSON shape of a subscription record.
type SubscriptionView struct {
	Provider         entitlement.Provider `json:"provider"`
	PlanID           string               `json:"plan_id,omitempty"`
	Status           entitlement.Status   `json:"status"`
	CurrentPeriodEnd *time.Time           `json:"current_period_end,omitempty"`
	CancelledAt      *time.Time           `json:"cancelled_at,omitempty"`
}

func ViewOf(sub *entitlement.Subscription) *SubscriptionView {
	if sub == nil {
		return nil
	}
	return &SubscriptionView{
		Provider:         sub.Provider,
		PlanID:           sub.PlanID,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		CancelledAt:      sub.CancelledAt,
	}
}
