package entitlement_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/aidash/internal/entitlement"
)

var errDBDown = errors.New("connection refused")

// brokenStore fails the selected operations and delegates the rest.
type brokenStore struct {
	*entitlement.MemoryStore
	failGetSub  bool
	failUsage   bool
	failRefund  bool
	refundCalls atomic.Int32
}

func (b *brokenStore) GetSubscription(ctx context.Context, userID string) (*entitlement.Subscription, error) {
	if b.failGetSub {
		return nil, errDBDown
	}
	return b.MemoryStore.GetSubscription(ctx, userID)
}

func (b *brokenStore) GetUsage(ctx context.Context, userID string, f entitlement.Feature, w time.Time) (int64, error) {
	if b.failUsage {
		return 0, errDBDown
	}
	return b.MemoryStore.GetUsage(ctx, userID, f, w)
}

func (b *brokenStore) IncrementUsage(ctx context.Context, userID string, f entitlement.Feature, w, now time.Time) (int64, error) {
	if b.failUsage {
		return 0, errDBDown
	}
	return b.MemoryStore.IncrementUsage(ctx, userID, f, w, now)
}

func (b *brokenStore) ConsumeUsage(ctx context.Context, userID string, f entitlement.Feature, limit int64, w, now time.Time) (int64, bool, error) {
	if b.failUsage {
		return 0, false, errDBDown
	}
	return b.MemoryStore.ConsumeUsage(ctx, userID, f, limit, w, now)
}

func (b *brokenStore) RefundUsage(ctx context.Context, userID string, f entitlement.Feature, w, now time.Time) error {
	b.refundCalls.Add(1)
	if b.failRefund {
		return errDBDown
	}
	return b.MemoryStore.RefundUsage(ctx, userID, f, w, now)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func newService(store entitlement.Store, opts ...entitlement.ServiceOption) entitlement.Service {
	base := []entitlement.ServiceOption{
		entitlement.WithLogger(quietLogger()),
		entitlement.WithClock(func() time.Time { return fixedNow }),
	}
	return entitlement.NewService(store, append(base, opts...)...)
}

func activeSub(userID string, periodEnd time.Time) *entitlement.Subscription {
	return &entitlement.Subscription{
		UserID:           userID,
		Provider:         entitlement.ProviderPayPal,
		SubscriptionID:   "I-" + userID,
		Status:           entitlement.StatusActive,
		CurrentPeriodEnd: &periodEnd,
	}
}

func TestIsEntitled_FreeTierUpToLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for feature, limit := range map[entitlement.Feature]int{
		entitlement.FeatureCodeAssistant:   10,
		entitlement.FeatureImageGeneration: 5,
		entitlement.FeatureVideoGeneration: 3,
		entitlement.FeatureMusicGeneration: 3,
		entitlement.FeatureChat:            5,
		entitlement.FeatureLegalDocument:   5,
	} {
		t.Run(string(feature), func(t *testing.T) {
			t.Parallel()
			svc := newService(entitlement.NewMemoryStore())

			for i := range limit {
				require.True(t, svc.IsEntitled(ctx, "u1", feature), "call %d", i+1)
				require.NoError(t, svc.RecordUsage(ctx, "u1", feature))
			}
			assert.False(t, svc.IsEntitled(ctx, "u1", feature))
		})
	}
}

func TestIsEntitled_EmptyUser(t *testing.T) {
	t.Parallel()
	svc := newService(entitlement.NewMemoryStore())
	assert.False(t, svc.IsEntitled(context.Background(), "", entitlement.FeatureChat))
}

func TestIsEntitled_ProIgnoresCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	svc := newService(store)

	for range 20 {
		_, err := store.IncrementUsage(ctx, "pro", entitlement.FeatureVideoGeneration, time.Unix(0, 0).UTC(), fixedNow)
		require.NoError(t, err)
	}
	require.NoError(t, store.SaveSubscription(ctx, activeSub("pro", fixedNow.Add(30*24*time.Hour))))

	for _, f := range entitlement.Features {
		assert.True(t, svc.IsEntitled(ctx, "pro", f), f)
	}
}

func TestIsEntitled_GraceBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	grace := entitlement.DefaultGracePeriod

	tests := []struct {
		name      string
		periodEnd time.Time
		status    entitlement.Status
		want      bool
	}{
		{"just outside grace", fixedNow.Add(-grace - time.Millisecond), entitlement.StatusActive, false},
		{"exactly at grace edge", fixedNow.Add(-grace), entitlement.StatusActive, false},
		{"just inside grace", fixedNow.Add(-grace + time.Millisecond), entitlement.StatusActive, true},
		{"future period", fixedNow.Add(time.Hour), entitlement.StatusActive, true},
		{"past due within period", fixedNow.Add(time.Hour), entitlement.StatusPastDue, false},
		{"cancelled within period", fixedNow.Add(time.Hour), entitlement.StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := entitlement.NewMemoryStore()
			// Exhaust the free quota so only the subscription can grant access.
			for range 5 {
				_, err := store.IncrementUsage(ctx, "u", entitlement.FeatureChat, time.Unix(0, 0).UTC(), fixedNow)
				require.NoError(t, err)
			}
			sub := activeSub("u", tt.periodEnd)
			sub.Status = tt.status
			require.NoError(t, store.SaveSubscription(ctx, sub))

			svc := newService(store, entitlement.WithResetPeriod(entitlement.ResetNever))
			assert.Equal(t, tt.want, svc.IsEntitled(ctx, "u", entitlement.FeatureChat))
		})
	}
}

func TestIsEntitled_FailsClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("subscription lookup error", func(t *testing.T) {
		t.Parallel()
		svc := newService(&brokenStore{MemoryStore: entitlement.NewMemoryStore(), failGetSub: true})
		assert.False(t, svc.IsEntitled(ctx, "u", entitlement.FeatureChat))
	})

	t.Run("usage lookup error", func(t *testing.T) {
		t.Parallel()
		svc := newService(&brokenStore{MemoryStore: entitlement.NewMemoryStore(), failUsage: true})
		assert.False(t, svc.IsEntitled(ctx, "u", entitlement.FeatureChat))
	})

	t.Run("configured fail-open", func(t *testing.T) {
		t.Parallel()
		policy := entitlement.DefaultPolicy().With(entitlement.OpGate, entitlement.FailOpen)
		svc := newService(&brokenStore{MemoryStore: entitlement.NewMemoryStore(), failUsage: true}, entitlement.WithPolicy(policy))
		assert.True(t, svc.IsEntitled(ctx, "u", entitlement.FeatureChat))
	})
}

func TestRecordUsage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("monotonic", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		svc := newService(store)

		const n = 17
		for range n {
			require.NoError(t, svc.RecordUsage(ctx, "u", entitlement.FeatureTranslation))
		}
		got, err := store.GetUsage(ctx, "u", entitlement.FeatureTranslation, entitlement.ResetDaily.WindowStart(fixedNow))
		require.NoError(t, err)
		assert.EqualValues(t, n, got)
	})

	t.Run("skips pro users", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		require.NoError(t, store.SaveSubscription(ctx, activeSub("pro", fixedNow.Add(time.Hour))))
		svc := newService(store)

		require.NoError(t, svc.RecordUsage(ctx, "pro", entitlement.FeatureChat))
		got, err := store.GetUsage(ctx, "pro", entitlement.FeatureChat, time.Unix(0, 0).UTC())
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("swallows store errors", func(t *testing.T) {
		t.Parallel()
		svc := newService(&brokenStore{MemoryStore: entitlement.NewMemoryStore(), failUsage: true})
		assert.NoError(t, svc.RecordUsage(ctx, "u", entitlement.FeatureChat))
	})

	t.Run("surfaces errors under fail-closed", func(t *testing.T) {
		t.Parallel()
		policy := entitlement.DefaultPolicy().With(entitlement.OpRecord, entitlement.FailClosed)
		svc := newService(&brokenStore{MemoryStore: entitlement.NewMemoryStore(), failUsage: true}, entitlement.WithPolicy(policy))
		assert.ErrorIs(t, svc.RecordUsage(ctx, "u", entitlement.FeatureChat), errDBDown)
	})

	t.Run("records when subscription lookup fails", func(t *testing.T) {
		t.Parallel()
		store := &brokenStore{MemoryStore: entitlement.NewMemoryStore(), failGetSub: true}
		svc := newService(store)

		require.NoError(t, svc.RecordUsage(ctx, "u", entitlement.FeatureChat))
		got, err := store.MemoryStore.GetUsage(ctx, "u", entitlement.FeatureChat, time.Unix(0, 0).UTC())
		require.NoError(t, err)
		assert.EqualValues(t, 1, got)
	})
}

func TestUsageWindowReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	now := fixedNow
	svc := entitlement.NewService(store,
		entitlement.WithLogger(quietLogger()),
		entitlement.WithClock(func() time.Time { return now }),
	)

	for range 3 {
		require.NoError(t, svc.RecordUsage(ctx, "u", entitlement.FeatureVideoGeneration))
	}
	assert.False(t, svc.IsEntitled(ctx, "u", entitlement.FeatureVideoGeneration))

	now = fixedNow.AddDate(0, 0, 1)
	assert.True(t, svc.IsEntitled(ctx, "u", entitlement.FeatureVideoGeneration))
}

func TestReserve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("consumes up to limit", func(t *testing.T) {
		t.Parallel()
		svc := newService(entitlement.NewMemoryStore())

		for i := 1; i <= 3; i++ {
			r, err := svc.Reserve(ctx, "u", entitlement.FeatureMusicGeneration)
			require.NoError(t, err)
			assert.True(t, r.Metered())
			assert.EqualValues(t, i, r.Used)
			assert.EqualValues(t, 3-i, r.Remaining())
		}
		_, err := svc.Reserve(ctx, "u", entitlement.FeatureMusicGeneration)
		assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded)
	})

	t.Run("release refunds once", func(t *testing.T) {
		t.Parallel()
		store := &brokenStore{MemoryStore: entitlement.NewMemoryStore()}
		svc := newService(store)

		r, err := svc.Reserve(ctx, "u", entitlement.FeatureImageGeneration)
		require.NoError(t, err)
		require.NoError(t, r.Release(ctx))
		require.NoError(t, r.Release(ctx))
		assert.EqualValues(t, 1, store.refundCalls.Load())

		d, err := svc.Check(ctx, "u", entitlement.FeatureImageGeneration)
		require.NoError(t, err)
		assert.Zero(t, d.Used)
	})

	t.Run("release failure is swallowed", func(t *testing.T) {
		t.Parallel()
		svc := newService(&brokenStore{MemoryStore: entitlement.NewMemoryStore(), failRefund: true})

		r, err := svc.Reserve(ctx, "u", entitlement.FeatureImageGeneration)
		require.NoError(t, err)
		assert.NoError(t, r.Release(ctx))
	})

	t.Run("pro reservation is unmetered", func(t *testing.T) {
		t.Parallel()
		store := &brokenStore{MemoryStore: entitlement.NewMemoryStore()}
		require.NoError(t, store.SaveSubscription(ctx, activeSub("pro", fixedNow.Add(time.Hour))))
		svc := newService(store)

		r, err := svc.Reserve(ctx, "pro", entitlement.FeatureVideoGeneration)
		require.NoError(t, err)
		assert.False(t, r.Metered())
		assert.EqualValues(t, -1, r.Remaining())
		require.NoError(t, r.Release(ctx))
		assert.Zero(t, store.refundCalls.Load())
	})

	t.Run("store failure denies", func(t *testing.T) {
		t.Parallel()
		svc := newService(&brokenStore{MemoryStore: entitlement.NewMemoryStore(), failUsage: true})

		_, err := svc.Reserve(ctx, "u", entitlement.FeatureChat)
		assert.ErrorIs(t, err, entitlement.ErrStoreUnavailable)
		assert.ErrorIs(t, err, errDBDown)
	})

	t.Run("missing user", func(t *testing.T) {
		t.Parallel()
		svc := newService(entitlement.NewMemoryStore())
		_, err := svc.Reserve(ctx, "", entitlement.FeatureChat)
		assert.ErrorIs(t, err, entitlement.ErrMissingUserID)
	})

	t.Run("concurrent callers never exceed limit", func(t *testing.T) {
		t.Parallel()
		svc := newService(entitlement.NewMemoryStore())

		var (
			wg      sync.WaitGroup
			granted atomic.Int32
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Reserve(ctx, "racer", entitlement.FeatureCodeAssistant); err == nil {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 10, granted.Load())
	})
}

func TestReserve_ReleaseAfterWindowRollover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	now := time.Date(2025, 3, 14, 23, 59, 59, 0, time.UTC)
	svc := entitlement.NewService(store,
		entitlement.WithLogger(quietLogger()),
		entitlement.WithClock(func() time.Time { return now }),
	)

	late, err := svc.Reserve(ctx, "u", entitlement.FeatureVideoGeneration)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	for range 3 {
		_, err := svc.Reserve(ctx, "u", entitlement.FeatureVideoGeneration)
		require.NoError(t, err)
	}

	// The refund belongs to the previous day and must not touch today's counter.
	require.NoError(t, late.Release(ctx))

	d, err := svc.Check(ctx, "u", entitlement.FeatureVideoGeneration)
	require.NoError(t, err)
	assert.EqualValues(t, 3, d.Used)
	assert.False(t, d.Allowed)

	_, err = svc.Reserve(ctx, "u", entitlement.FeatureVideoGeneration)
	assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	svc := newService(store)

	for range 4 {
		require.NoError(t, svc.RecordUsage(ctx, "u", entitlement.FeatureCodeAssistant))
	}

	sum, err := svc.Summary(ctx, "u")
	require.NoError(t, err)
	assert.False(t, sum.Pro)
	assert.Nil(t, sum.Subscription)
	assert.Equal(t, entitlement.ResetDaily.WindowStart(fixedNow), sum.WindowStart)
	require.NotNil(t, sum.WindowEnd)
	require.Len(t, sum.Features, len(entitlement.Features))

	for _, fu := range sum.Features {
		if fu.Feature == entitlement.FeatureCodeAssistant {
			assert.EqualValues(t, 4, fu.Used)
			assert.EqualValues(t, 10, fu.Limit)
			assert.EqualValues(t, 6, fu.Remaining)
		}
	}

	require.NoError(t, svc.ResetUsage(ctx, "u", entitlement.FeatureCodeAssistant))
	d, err := svc.Check(ctx, "u", entitlement.FeatureCodeAssistant)
	require.NoError(t, err)
	assert.Zero(t, d.Used)

	assert.ErrorIs(t, svc.ResetUsage(ctx, "u", "BOGUS"), entitlement.ErrUnknownFeature)
}
