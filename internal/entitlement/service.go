package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/aidash/pkg/logger"
)

// DefaultGracePeriod absorbs clock skew and webhook latency around renewals.
const DefaultGracePeriod = 24 * time.Hour

// Service is the entitlement API used by request handlers and billing.
type Service interface {
	// IsEntitled reports whether userID may run feature right now. Read-only.
	IsEntitled(ctx context.Context, userID string, feature Feature) bool
	// Check is IsEntitled with the numbers behind the answer.
	Check(ctx context.Context, userID string, feature Feature) (Decision, error)
	// RecordUsage counts one successful call. Pro users are skipped.
	RecordUsage(ctx context.Context, userID string, feature Feature) error
	// Reserve atomically checks and consumes one unit of quota.
	// It returns ErrQuotaExceeded when the free quota is used up.
	Reserve(ctx context.Context, userID string, feature Feature) (*Reservation, error)
	// Summary reports plan status and per-feature usage for the dashboard.
	Summary(ctx context.Context, userID string) (*Summary, error)
	// ResetUsage zeroes counters for a user; empty feature means all features.
	ResetUsage(ctx context.Context, userID string, feature Feature) error

	Limits() Limits
	GracePeriod() time.Duration
	Policy() Policy
}

// Observer receives entitlement outcomes for metrics.
type Observer interface {
	GateDecision(feature Feature, allowed, pro bool)
	UsageRecorded(feature Feature)
	ReservationOutcome(feature Feature, outcome string)
	StoreError(op Operation)
}

type noopObserver struct{}

func (noopObserver) GateDecision(Feature, bool, bool) {}
func (noopObserver) UsageRecorded(Feature) {}
func (noopObserver) ReservationOutcome(Feature, string) {}
func (noopObserver) StoreError(Operation) {}

type service struct {
	store    Store
	limits   Limits
	grace    time.Duration
	period   ResetPeriod
	policy   Policy
	observer Observer
	log      *slog.Logger
	now      func() time.Time
}

// NewService panics on a nil store so wiring mistakes fail at startup.
func NewService(store Store, opts ...ServiceOption) Service {
	if store == nil {
		panic("entitlement: Store is required")
	}
	s := &service{
		store:    store,
		limits:   DefaultLimits(),
		grace:    DefaultGracePeriod,
		period:   ResetDaily,
		policy:   DefaultPolicy(),
		observer: noopObserver{},
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("entitlement"))
	return s
}

func (s *service) Limits() Limits             { return s.limits.clone() }
func (s *service) GracePeriod() time.Duration { return s.grace }
func (s *service) Policy() Policy             { return s.policy }

func (s *service) IsEntitled(ctx context.Context, userID string, feature Feature) bool {
	if userID == "" {
		return false
	}
	d, err := s.Check(ctx, userID, feature)
	if err != nil {
		allowed := s.policy.Of(OpGate) == FailOpen
		s.log.ErrorContext(ctx, "entitlement check failed",
			logger.Operation(string(OpGate)),
			logger.UserID(userID),
			logger.Feature(feature.String()),
			slog.Bool("allowed", allowed),
			logger.Error(err),
		)
		s.observer.StoreError(OpGate)
		s.observer.GateDecision(feature, allowed, false)
		return allowed
	}
	s.observer.GateDecision(feature, d.Allowed, d.Pro)
	return d.Allowed
}

func (s *service) Check(ctx context.Context, userID string, feature Feature) (Decision, error) {
	if userID == "" {
		return Decision{}, ErrMissingUserID
	}
	now := s.now()

	pro, err := s.isPro(ctx, userID, now)
	if err != nil {
		return Decision{}, err
	}
	limit := s.limits.Of(feature)
	if pro {
		return Decision{Allowed: true, Pro: true, Limit: limit}, nil
	}

	used, err := s.store.GetUsage(ctx, userID, feature, s.period.WindowStart(now))
	if err != nil {
		return Decision{}, fmt.Errorf("get usage: %w", err)
	}
	return Decision{Allowed: used < limit, Used: used, Limit: limit}, nil
}

func (s *service) RecordUsage(ctx context.Context, userID string, feature Feature) error {
	if userID == "" {
		return s.swallow(ctx, OpRecord, userID, feature, ErrMissingUserID)
	}
	now := s.now()

	pro, err := s.isPro(ctx, userID, now)
	if err != nil {
		// Counting a pro user is harmless; missing a free user's call is not.
		s.log.WarnContext(ctx, "subscription lookup failed, recording usage anyway",
			logger.Operation(string(OpRecord)), logger.UserID(userID), logger.Error(err))
	}
	if pro {
		return nil
	}

	if _, err := s.store.IncrementUsage(ctx, userID, feature, s.period.WindowStart(now), now); err != nil {
		return s.swallow(ctx, OpRecord, userID, feature, err)
	}
	s.observer.UsageRecorded(feature)
	return nil
}

func (s *service) Reserve(ctx context.Context, userID string, feature Feature) (*Reservation, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	now := s.now()
	limit := s.limits.Of(feature)

	pro, err := s.isPro(ctx, userID, now)
	if err != nil {
		return s.reserveFailed(ctx, userID, feature, limit, err)
	}
	if pro {
		s.observer.ReservationOutcome(feature, "unmetered")
		return &Reservation{svc: s, userID: userID, feature: feature, Limit: limit}, nil
	}

	window := s.period.WindowStart(now)
	count, ok, err := s.store.ConsumeUsage(ctx, userID, feature, limit, window, now)
	if err != nil {
		return s.reserveFailed(ctx, userID, feature, limit, err)
	}
	if !ok {
		s.observer.ReservationOutcome(feature, "denied")
		return nil, ErrQuotaExceeded
	}
	s.observer.ReservationOutcome(feature, "granted")
	return &Reservation{
		svc:     s,
		userID:  userID,
		feature: feature,
		window:  window,
		metered: true,
		Used:    count,
		Limit:   limit,
	}, nil
}

func (s *service) reserveFailed(ctx context.Context, userID string, feature Feature, limit int64, err error) (*Reservation, error) {
	s.observer.StoreError(OpReserve)
	open := s.policy.Of(OpReserve) == FailOpen
	s.log.ErrorContext(ctx, "usage reservation failed",
		logger.Operation(string(OpReserve)),
		logger.UserID(userID),
		logger.Feature(feature.String()),
		slog.Bool("allowed", open),
		logger.Error(err),
	)
	if open {
		s.observer.ReservationOutcome(feature, "unmetered")
		return &Reservation{svc: s, userID: userID, feature: feature, Limit: limit}, nil
	}
	s.observer.ReservationOutcome(feature, "error")
	return nil, errors.Join(ErrStoreUnavailable, err)
}

func (s *service) Summary(ctx context.Context, userID string) (*Summary, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	now := s.now()

	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	window := s.period.WindowStart(now)
	used, err := s.store.ListUsage(ctx, userID, window)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	out := &Summary{
		UserID:       userID,
		Pro:          sub.EntitledAt(now, s.grace),
		Subscription: sub,
		WindowStart:  window,
		WindowEnd:    s.period.WindowEnd(now),
		Features:     make([]FeatureUsage, 0, len(Features)),
	}
	for _, f := range Features {
		limit := s.limits.Of(f)
		fu := FeatureUsage{Feature: f, Used: used[f], Limit: limit, Remaining: max(limit-used[f], 0)}
		out.Features = append(out.Features, fu)
	}
	return out, nil
}

func (s *service) ResetUsage(ctx context.Context, userID string, feature Feature) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if feature != "" && !feature.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	return s.store.ResetUsage(ctx, userID, feature)
}

func (s *service) isPro(ctx context.Context, userID string, now time.Time) (bool, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get subscription: %w", err)
	}
	return sub.EntitledAt(now, s.grace), nil
}

// swallow applies the policy for a bookkeeping write that failed.
func (s *service) swallow(ctx context.Context, op Operation, userID string, feature Feature, err error) error {
	s.observer.StoreError(op)
	s.log.ErrorContext(ctx, "usage bookkeeping failed",
		logger.Operation(string(op)),
		logger.UserID(userID),
		logger.Feature(feature.String()),
		logger.Error(err),
	)
	if s.policy.Of(op) == FailOpen {
		return nil
	}
	return err
}
