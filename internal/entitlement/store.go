package entitlement

import (
	"context"
	"time"
)

// Store persists subscriptions and usage counters.
//
// Usage methods take the start of the current usage window. A stored counter
// whose window started earlier counts as zero and is restarted in place by the
// next increment, so there is one row per (user, feature).
type Store interface {
	// GetSubscription returns ErrSubscriptionNotFound when the user never subscribed.
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
	// FindSubscription looks a record up by the provider's subscription id.
	FindSubscription(ctx context.Context, provider Provider, subscriptionID string) (*Subscription, error)
	// SaveSubscription upserts by user id. It returns ErrStaleWrite when the stored
	// record has a newer LastEventAt than sub.
	SaveSubscription(ctx context.Context, sub *Subscription) error
	// ListLapsed returns paying subscriptions whose period ended before the cutoff.
	ListLapsed(ctx context.Context, before time.Time, limit int) ([]Subscription, error)

	GetUsage(ctx context.Context, userID string, feature Feature, window time.Time) (int64, error)
	ListUsage(ctx context.Context, userID string, window time.Time) (map[Feature]int64, error)
	// IncrementUsage adds one unit unconditionally and returns the new count.
	IncrementUsage(ctx context.Context, userID string, feature Feature, window, now time.Time) (int64, error)
	// ConsumeUsage adds one unit only while the count is below limit.
	// ok is false when the quota is exhausted.
	ConsumeUsage(ctx context.Context, userID string, feature Feature, limit int64, window, now time.Time) (count int64, ok bool, err error)
	// RefundUsage removes one unit from the counter of exactly window, never going
	// below zero. A counter that has since moved to another window is left alone.
	RefundUsage(ctx context.Context, userID string, feature Feature, window, now time.Time) error
	// ResetUsage zeroes the user's counters; an empty feature resets all of them.
	ResetUsage(ctx context.Context, userID string, feature Feature) error
	// PruneUsage deletes counters untouched since before and returns how many went.
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
}
