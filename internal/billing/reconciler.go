package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/pkg/logger"
	"github.com/dmitrymomot/aidash/pkg/statemachine"
)

// Outcome describes what a verified webhook did to local state.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeStale     Outcome = "stale"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeInvalid   Outcome = "invalid"
)

// Archiver stores verified raw events for audit and replay.
type Archiver interface {
	Archive(ctx context.Context, ev *WebhookEvent, outcome Outcome) error
}

// Notifier tells users about subscription changes.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, change Change) error
}

// Change is a committed status transition.
type Change struct {
	UserID    string
	Email     string
	Provider  entitlement.Provider
	PlanID    string
	From      entitlement.Status
	To        entitlement.Status
	PeriodEnd *time.Time
}

// Observer receives reconciliation outcomes for metrics.
type Observer interface {
	WebhookOutcome(provider entitlement.Provider, outcome Outcome)
	SubscriptionTransition(provider entitlement.Provider, from, to entitlement.Status)
}

type noopObserver struct{}

func (noopObserver) WebhookOutcome(entitlement.Provider, Outcome) {}
func (noopObserver) SubscriptionTransition(entitlement.Provider, entitlement.Status, entitlement.Status) {}

// Reconciler applies provider events to subscription records.
type Reconciler struct {
	store     entitlement.Store
	providers map[entitlement.Provider]Provider
	table     *statemachine.Table[entitlement.Status, entitlement.Status]
	policy    entitlement.Policy
	grace     time.Duration
	archiver  Archiver
	notifier  Notifier
	observer  Observer
	log       *slog.Logger
	now       func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithPolicy sets the reconcile criticality. Under FailClosed persistence
// failures surface as ErrPersistence so the provider retries.
func WithPolicy(p entitlement.Policy) ReconcilerOption {
	return func(r *Reconciler) {
		if p != nil {
			r.policy = p
		}
	}
}

func WithGracePeriod(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d >= 0 {
			r.grace = d
		}
	}
}

func WithArchiver(a Archiver) ReconcilerOption {
	return func(r *Reconciler) { r.archiver = a }
}

func WithNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) { r.notifier = n }
}

func WithObserver(o Observer) ReconcilerOption {
	return func(r *Reconciler) {
		if o != nil {
			r.observer = o
		}
	}
}

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReconciler(store entitlement.Store, providers []Provider, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("billing: entitlement store is required")
	}
	r := &Reconciler{
		store:     store,
		providers: make(map[entitlement.Provider]Provider, len(providers)),
		table:     newTransitionTable(),
		policy:    entitlement.DefaultPolicy(),
		grace:     entitlement.DefaultGracePeriod,
		observer:  noopObserver{},
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("reconciler"))
	return r
}

// Provider returns the configured integration for name.
func (r *Reconciler) Provider(name entitlement.Provider) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Reconcile verifies and applies one webhook delivery.
func (r *Reconciler) Reconcile(ctx context.Context, provider entitlement.Provider, payload []byte, headers http.Header) (Outcome, error) {
	p, ok := r.providers[provider]
	if !ok {
		return OutcomeInvalid, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	log := r.log.With(logger.Provider(string(provider)))

	ev, err := p.ParseWebhook(ctx, payload, headers)
	switch {
	case errors.Is(err, ErrEventIgnored):
		if ev != nil {
			log.DebugContext(ctx, "webhook ignored", logger.EventID(ev.EventID), logger.EventType(ev.EventType))
			r.archive(ctx, ev, OutcomeIgnored)
		}
		r.observer.WebhookOutcome(provider, OutcomeIgnored)
		return OutcomeIgnored, nil
	case errors.Is(err, ErrUnknownProviderStatus):
		// Verified but not representable: acknowledge so the provider stops retrying.
		log.WarnContext(ctx, "webhook rejected: unknown provider status", logger.Error(err))
		if ev != nil {
			r.archive(ctx, ev, OutcomeRejected)
		}
		r.observer.WebhookOutcome(provider, OutcomeRejected)
		return OutcomeRejected, nil
	case err != nil:
		log.WarnContext(ctx, "webhook refused", logger.Error(err))
		r.observer.WebhookOutcome(provider, OutcomeInvalid)
		return OutcomeInvalid, err
	}

	outcome, err := r.Apply(ctx, ev)
	r.archive(ctx, ev, outcome)
	r.observer.WebhookOutcome(provider, outcome)
	return outcome, err
}

// Apply runs a normalised event through the transition table and stores the result.
func (r *Reconciler) Apply(ctx context.Context, ev *WebhookEvent) (Outcome, error) {
	if ev == nil || ev.SubscriptionID == "" || !ev.Status.Valid() {
		return OutcomeInvalid, ErrMalformedEvent
	}
	log := r.log.With(
		logger.Provider(string(ev.Provider)),
		logger.EventID(ev.EventID),
		logger.EventType(ev.EventType),
		logger.SubscriptionID(ev.SubscriptionID),
	)

	current, err := r.lookup(ctx, ev)
	if errors.Is(err, ErrMalformedEvent) {
		log.WarnContext(ctx, "webhook has no user correlation id")
		return OutcomeInvalid, err
	}
	if err != nil {
		return r.persistFailed(ctx, log, ev, err)
	}
	log = log.With(logger.UserID(ev.UserID))

	from := entitlement.StatusNone
	if current != nil {
		from = current.Status
		if current.LastEventAt != nil && ev.OccurredAt.Before(*current.LastEventAt) {
			log.InfoContext(ctx, "stale webhook skipped",
				slog.Time("occurred_at", ev.OccurredAt),
				slog.Time("last_event_at", *current.LastEventAt))
			return OutcomeStale, nil
		}
	}

	to, err := r.table.Fire(ctx, from, ev.Status, transitionInput{current: current, event: ev})
	if err != nil {
		log.WarnContext(ctx, "subscription transition rejected",
			logger.Transition(from.String(), ev.Status.String()),
			logger.Error(err))
		return OutcomeRejected, nil
	}

	next := r.merge(current, ev, to)
	if current != nil && sameRecord(current, next) {
		return OutcomeUnchanged, nil
	}

	if err := r.store.SaveSubscription(ctx, next); err != nil {
		if errors.Is(err, entitlement.ErrStaleWrite) {
			log.InfoContext(ctx, "stale webhook lost race to newer event")
			return OutcomeStale, nil
		}
		return r.persistFailed(ctx, log, ev, err)
	}

	log.InfoContext(ctx, "subscription reconciled", logger.Transition(from.String(), to.String()))
	if from != to {
		r.observer.SubscriptionTransition(ev.Provider, from, to)
		r.notify(ctx, log, Change{
			UserID:    next.UserID,
			Email:     ev.Email,
			Provider:  next.Provider,
			PlanID:    next.PlanID,
			From:      from,
			To:        to,
			PeriodEnd: next.CurrentPeriodEnd,
		})
	}
	return OutcomeApplied, nil
}

// ExpireLapsed moves paying subscriptions whose period and grace are over to EXPIRED.
func (r *Reconciler) ExpireLapsed(ctx context.Context, batch int) (int, error) {
	now := r.now()
	lapsed, err := r.store.ListLapsed(ctx, now.Add(-r.grace), batch)
	if err != nil {
		return 0, fmt.Errorf("list lapsed subscriptions: %w", err)
	}

	expired := 0
	for _, sub := range lapsed {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		// Dated at the period end so a renewal delivered late still wins.
		at := *sub.CurrentPeriodEnd
		if sub.LastEventAt != nil && sub.LastEventAt.After(at) {
			at = *sub.LastEventAt
		}
		outcome, err := r.Apply(ctx, &WebhookEvent{
			Provider:       sub.Provider,
			EventID:        "expire-" + sub.SubscriptionID,
			EventType:      "local.subscription.expired",
			SubscriptionID: sub.SubscriptionID,
			UserID:         sub.UserID,
			PlanID:         sub.PlanID,
			Status:         entitlement.StatusExpired,
			OccurredAt:     at,
		})
		if err != nil {
			return expired, err
		}
		if outcome == OutcomeApplied {
			expired++
		}
	}
	return expired, nil
}

// lookup resolves the event's user and loads the current record, or nil.
func (r *Reconciler) lookup(ctx context.Context, ev *WebhookEvent) (*entitlement.Subscription, error) {
	if ev.UserID == "" {
		sub, err := r.store.FindSubscription(ctx, ev.Provider, ev.SubscriptionID)
		if errors.Is(err, entitlement.ErrSubscriptionNotFound) {
			return nil, ErrMalformedEvent
		}
		if err != nil {
			return nil, err
		}
		ev.UserID = sub.UserID
		return sub, nil
	}

	sub, err := r.store.GetSubscription(ctx, ev.UserID)
	if errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}

func (r *Reconciler) merge(current *entitlement.Subscription, ev *WebhookEvent, to entitlement.Status) *entitlement.Subscription {
	now := r.now()
	next := &entitlement.Subscription{UserID: ev.UserID, CreatedAt: now}
	if current != nil {
		c := *current
		next = &c
	}

	next.Provider = ev.Provider
	next.SubscriptionID = ev.SubscriptionID
	if ev.PlanID != "" {
		next.PlanID = ev.PlanID
	}
	if ev.PeriodEnd != nil {
		end := ev.PeriodEnd.UTC()
		next.CurrentPeriodEnd = &end
	}
	occurred := ev.OccurredAt.UTC()
	next.LastEventAt = &occurred
	next.Status = to
	next.UpdatedAt = now

	switch to {
	case entitlement.StatusCancelled:
		if current == nil || current.CancelledAt == nil {
			next.CancelledAt = &occurred
		}
	case entitlement.StatusActive, entitlement.StatusTrialing:
		next.CancelledAt = nil
	}
	return next
}

// sameRecord compares the fields an event can change, ignoring timestamps of
// the bookkeeping itself.
func sameRecord(a, b *entitlement.Subscription) bool {
	return a.Provider == b.Provider &&
		a.SubscriptionID == b.SubscriptionID &&
		a.PlanID == b.PlanID &&
		a.Status == b.Status &&
		equalTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd) &&
		equalTime(a.CancelledAt, b.CancelledAt) &&
		equalTime(a.LastEventAt, b.LastEventAt)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (r *Reconciler) persistFailed(ctx context.Context, log *slog.Logger, ev *WebhookEvent, err error) (Outcome, error) {
	open := r.policy.Of(entitlement.OpReconcile) == entitlement.FailOpen
	log.ErrorContext(ctx, "subscription reconciliation failed",
		logger.Operation(string(entitlement.OpReconcile)),
		logger.Status(ev.Status.String()),
		slog.String("policy", r.policy.Of(entitlement.OpReconcile).String()),
		logger.Error(err))
	if open {
		return OutcomeFailed, nil
	}
	return OutcomeFailed, errors.Join(ErrPersistence, err)
}

func (r *Reconciler) archive(ctx context.Context, ev *WebhookEvent, outcome Outcome) {
	if r.archiver == nil || ev == nil {
		return
	}
	if err := r.archiver.Archive(ctx, ev, outcome); err != nil {
		r.log.WarnContext(ctx, "failed to archive webhook event", logger.EventID(ev.EventID), logger.Error(err))
	}
}

func (r *Reconciler) notify(ctx context.Context, log *slog.Logger, c Change) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.SubscriptionChanged(ctx, c); err != nil {
		log.WarnContext(ctx, "failed to send subscription notification", logger.Error(err))
	}
}
