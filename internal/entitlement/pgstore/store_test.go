package pgstore_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/aidash/db"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/internal/entitlement/pgstore"
	"github.com/dmitrymomot/aidash/pkg/pg"
)

// newStore connects to TEST_DATABASE_URL and applies migrations.
func newStore(t *testing.T) *pgstore.Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	cfg := pg.Config{ConnectionString: dsn, MaxConns: 10, MinConns: 1, RetryAttempts: 1, MigrationsTable: "schema_migrations"}

	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, pg.Migrate(ctx, pool, cfg, db.Migrations, db.MigrationsDir, log))

	return pgstore.New(pool)
}

func ts(t time.Time) *time.Time { return &t }

func TestStore_Subscriptions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := uuid.NewString()
	subID := "I-" + uuid.NewString()

	_, err := s.GetSubscription(ctx, userID)
	require.ErrorIs(t, err, entitlement.ErrSubscriptionNotFound)

	sub := &entitlement.Subscription{
		UserID:           userID,
		Provider:         entitlement.ProviderPayPal,
		SubscriptionID:   subID,
		PlanID:           "P-PRO",
		Status:           entitlement.StatusActive,
		CurrentPeriodEnd: ts(now.Add(30 * 24 * time.Hour)),
		LastEventAt:      ts(now),
	}
	require.NoError(t, s.SaveSubscription(ctx, sub))

	got, err := s.GetSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusActive, got.Status)
	assert.Equal(t, subID, got.SubscriptionID)
	assert.WithinDuration(t, *sub.CurrentPeriodEnd, *got.CurrentPeriodEnd, time.Millisecond)

	found, err := s.FindSubscription(ctx, entitlement.ProviderPayPal, subID)
	require.NoError(t, err)
	assert.Equal(t, userID, found.UserID)

	t.Run("older event is refused", func(t *testing.T) {
		stale := *sub
		stale.Status = entitlement.StatusCancelled
		stale.LastEventAt = ts(now.Add(-time.Minute))
		require.ErrorIs(t, s.SaveSubscription(ctx, &stale), entitlement.ErrStaleWrite)

		got, err := s.GetSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, entitlement.StatusActive, got.Status)
	})

	t.Run("lapsed listing", func(t *testing.T) {
		lapsedUser := uuid.NewString()
		require.NoError(t, s.SaveSubscription(ctx, &entitlement.Subscription{
			UserID:           lapsedUser,
			Provider:         entitlement.ProviderStripe,
			SubscriptionID:   "sub_" + uuid.NewString(),
			Status:           entitlement.StatusActive,
			CurrentPeriodEnd: ts(now.Add(-72 * time.Hour)),
		}))

		lapsed, err := s.ListLapsed(ctx, now.Add(-24*time.Hour), 1000)
		require.NoError(t, err)
		var ids []string
		for _, l := range lapsed {
			ids = append(ids, l.UserID)
		}
		assert.Contains(t, ids, lapsedUser)
		assert.NotContains(t, ids, userID)
	})
}

func TestStore_Usage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	window := entitlement.ResetDaily.WindowStart(now)
	userID := uuid.NewString()
	f := entitlement.FeatureCodeAssistant

	n, err := s.GetUsage(ctx, userID, f, window)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 1; i <= 3; i++ {
		n, err = s.IncrementUsage(ctx, userID, f, window, now)
		require.NoError(t, err)
		assert.EqualValues(t, i, n)
	}

	count, ok, err := s.ConsumeUsage(ctx, userID, f, 4, window, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 4, count)

	_, ok, err = s.ConsumeUsage(ctx, userID, f, 4, window, now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RefundUsage(ctx, userID, f, window, now))
	n, err = s.GetUsage(ctx, userID, f, window)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	next := window.AddDate(0, 0, 1)
	n, err = s.GetUsage(ctx, userID, f, next)
	require.NoError(t, err)
	assert.Zero(t, n, "counter from a previous window reads as zero")

	n, err = s.IncrementUsage(ctx, userID, f, next, next)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "counter restarts in place")

	require.NoError(t, s.RefundUsage(ctx, userID, f, window, next))
	n, err = s.GetUsage(ctx, userID, f, next)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "refund for an old window leaves the new counter alone")

	all, err := s.ListUsage(ctx, userID, next)
	require.NoError(t, err)
	assert.Equal(t, map[entitlement.Feature]int64{f: 1}, all)

	require.NoError(t, s.ResetUsage(ctx, userID, ""))
	n, err = s.GetUsage(ctx, userID, f, next)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_ConsumeUsageConcurrent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	window := entitlement.ResetDaily.WindowStart(now)
	userID := uuid.NewString()

	const limit, callers = 10, 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ConsumeUsage(ctx, userID, entitlement.FeatureImageGeneration, limit, window, now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, granted)
	n, err := s.GetUsage(ctx, userID, entitlement.FeatureImageGeneration, window)
	require.NoError(t, err)
	assert.EqualValues(t, limit, n)
}
