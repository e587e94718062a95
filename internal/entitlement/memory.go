package entitlement

import (
	"context"
	"sort"
	"sync"
	"time"
)

type usageKey struct {
	userID  string
	feature Feature
}

// MemoryStore keeps everything in process memory. It backs tests and the
// --in-memory development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[string]Subscription
	usage map[usageKey]Usage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:  make(map[string]Subscription),
		usage: make(map[usageKey]Usage),
	}
}

func (m *MemoryStore) GetSubscription(_ context.Context, userID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

func (m *MemoryStore) FindSubscription(_ context.Context, provider Provider, subscriptionID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if subscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}
	for _, sub := range m.subs {
		if sub.Provider == provider && sub.SubscriptionID == subscriptionID {
			return copySubscription(sub), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) SaveSubscription(_ context.Context, sub *Subscription) error {
	if sub == nil || sub.UserID == "" {
		return ErrMissingUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.subs[sub.UserID]; ok {
		if cur.LastEventAt != nil && sub.LastEventAt != nil && cur.LastEventAt.After(*sub.LastEventAt) {
			return ErrStaleWrite
		}
		sub.CreatedAt = cur.CreatedAt
	}
	m.subs[sub.UserID] = *copySubscription(*sub)
	return nil
}

func (m *MemoryStore) ListLapsed(_ context.Context, before time.Time, limit int) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Subscription
	for _, sub := range m.subs {
		if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Before(before) {
			continue
		}
		switch sub.Status {
		case StatusActive, StatusPastDue, StatusTrialing:
			out = append(out, *copySubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPeriodEnd.Before(*out[j].CurrentPeriodEnd) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetUsage(_ context.Context, userID string, feature Feature, window time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.usage[usageKey{userID, feature}]
	if !ok || u.PeriodStart.Before(window) {
		return 0, nil
	}
	return u.Count, nil
}

func (m *MemoryStore) ListUsage(_ context.Context, userID string, window time.Time) (map[Feature]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Feature]int64)
	for k, u := range m.usage {
		if k.userID != userID || u.PeriodStart.Before(window) {
			continue
		}
		out[k.feature] = u.Count
	}
	return out, nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, userID string, feature Feature, window, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.current(userID, feature, window)
	u.Count++
	u.UpdatedAt = now
	m.usage[usageKey{userID, feature}] = u
	return u.Count, nil
}

func (m *MemoryStore) ConsumeUsage(_ context.Context, userID string, feature Feature, limit int64, window, now time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.current(userID, feature, window)
	if u.Count >= limit {
		return u.Count, false, nil
	}
	u.Count++
	u.UpdatedAt = now
	m.usage[usageKey{userID, feature}] = u
	return u.Count, true, nil
}

func (m *MemoryStore) RefundUsage(_ context.Context, userID string, feature Feature, window, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := usageKey{userID, feature}
	u, ok := m.usage[k]
	if !ok || !u.PeriodStart.Equal(window) || u.Count == 0 {
		return nil
	}
	u.Count--
	u.UpdatedAt = now
	m.usage[k] = u
	return nil
}

func (m *MemoryStore) ResetUsage(_ context.Context, userID string, feature Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, u := range m.usage {
		if k.userID != userID || (feature != "" && k.feature != feature) {
			continue
		}
		u.Count = 0
		m.usage[k] = u
	}
	return nil
}

func (m *MemoryStore) PruneUsage(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, u := range m.usage {
		if u.UpdatedAt.Before(before) {
			delete(m.usage, k)
			n++
		}
	}
	return n, nil
}

// current returns the counter for the window, restarting a stale one.
// Callers hold the write lock.
func (m *MemoryStore) current(userID string, feature Feature, window time.Time) Usage {
	u, ok := m.usage[usageKey{userID, feature}]
	if !ok || u.PeriodStart.Before(window) {
		return Usage{UserID: userID, Feature: feature, PeriodStart: window}
	}
	return u
}

func copySubscription(s Subscription) *Subscription {
	out := s
	out.CurrentPeriodEnd = copyTime(s.CurrentPeriodEnd)
	out.LastEventAt = copyTime(s.LastEventAt)
	out.CancelledAt = copyTime(s.CancelledAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
