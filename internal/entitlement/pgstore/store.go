// Package pgstore implements entitlement.Store on PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/pkg/pg"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ entitlement.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("pgstore: pool is required")
	}
	return &Store{pool: pool}
}

const subscriptionColumns = `user_id, provider, COALESCE(subscription_id, ''), plan_id, status,
	current_period_end, last_event_at, created_at, updated_at, cancelled_at`

func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitlement.Subscription, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return scanSubscription(row)
}

func (s *Store) FindSubscription(ctx context.Context, provider entitlement.Provider, subscriptionID string) (*entitlement.Subscription, error) {
	if subscriptionID == "" {
		return nil, entitlement.ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider = $1 AND subscription_id = $2`,
		string(provider), subscriptionID)
	return scanSubscription(row)
}

// SaveSubscription refuses to overwrite a row that already holds a newer event.
func (s *Store) SaveSubscription(ctx context.Context, sub *entitlement.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return entitlement.ErrMissingUserID
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}

	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, provider, subscription_id, plan_id, status,
			current_period_end, last_event_at, created_at, updated_at, cancelled_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			subscription_id = EXCLUDED.subscription_id,
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at,
			cancelled_at = EXCLUDED.cancelled_at
		WHERE subscriptions.last_event_at IS NULL
			OR EXCLUDED.last_event_at IS NULL
			OR subscriptions.last_event_at <= EXCLUDED.last_event_at
		RETURNING created_at`,
		sub.UserID, string(sub.Provider), sub.SubscriptionID, sub.PlanID, string(sub.Status),
		sub.CurrentPeriodEnd, sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt, sub.CancelledAt,
	).Scan(&createdAt)
	if pg.IsNotFoundError(err) {
		return entitlement.ErrStaleWrite
	}
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	sub.CreatedAt = createdAt
	return nil
}

func (s *Store) ListLapsed(ctx context.Context, before time.Time, limit int) ([]entitlement.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('ACTIVE', 'PAST_DUE', 'TRIALING')
			AND current_period_end < $1
		ORDER BY current_period_end
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list lapsed subscriptions: %w", err)
	}
	defer rows.Close()

	var out []entitlement.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *Store) GetUsage(ctx context.Context, userID string, feature entitlement.Feature, window time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count FROM feature_usage
		WHERE user_id = $1 AND feature = $2 AND period_start = $3`,
		userID, string(feature), window).Scan(&count)
	if pg.IsNotFoundError(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return count, nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, window time.Time) (map[entitlement.Feature]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feature, count FROM feature_usage
		WHERE user_id = $1 AND period_start >= $2`, userID, window)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	out := make(map[entitlement.Feature]int64)
	for rows.Next() {
		var (
			feature string
			count   int64
		)
		if err := rows.Scan(&feature, &count); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out[entitlement.Feature(feature)] = count
	}
	return out, rows.Err()
}

// A counter from an older window restarts at 1 in place.
const incrementSQL = `
	INSERT INTO feature_usage AS u (user_id, feature, count, period_start, updated_at)
	VALUES ($1, $2, 1, $3, $4)
	ON CONFLICT (user_id, feature) DO UPDATE SET
		count = CASE WHEN u.period_start < EXCLUDED.period_start THEN 1 ELSE u.count + 1 END,
		period_start = GREATEST(u.period_start, EXCLUDED.period_start),
		updated_at = EXCLUDED.updated_at
	RETURNING count`

func (s *Store) IncrementUsage(ctx context.Context, userID string, feature entitlement.Feature, window, now time.Time) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, incrementSQL, userID, string(feature), window, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return count, nil
}

// consumeSQL is the conditional form of incrementSQL: the insert branch needs a
// positive limit and the update branch needs headroom, so an exhausted quota
// returns no row.
const consumeSQL = `
	INSERT INTO feature_usage AS u (user_id, feature, count, period_start, updated_at)
	SELECT $1::text, $2::text, 1, $4::timestamptz, $5::timestamptz
	WHERE $3::bigint > 0
	ON CONFLICT (user_id, feature) DO UPDATE SET
		count = CASE WHEN u.period_start < EXCLUDED.period_start THEN 1 ELSE u.count + 1 END,
		period_start = GREATEST(u.period_start, EXCLUDED.period_start),
		updated_at = EXCLUDED.updated_at
	WHERE u.period_start < EXCLUDED.period_start OR u.count < $3::bigint
	RETURNING count`

func (s *Store) ConsumeUsage(ctx context.Context, userID string, feature entitlement.Feature, limit int64, window, now time.Time) (int64, bool, error) {
	var count int64
	err := s.pool.QueryRow(ctx, consumeSQL, userID, string(feature), limit, window, now).Scan(&count)
	if pg.IsNotFoundError(err) {
		return limit, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("consume usage: %w", err)
	}
	return count, true, nil
}

func (s *Store) RefundUsage(ctx context.Context, userID string, feature entitlement.Feature, window, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE feature_usage SET count = GREATEST(count - 1, 0), updated_at = $4
		WHERE user_id = $1 AND feature = $2 AND period_start = $3`,
		userID, string(feature), window, now)
	if err != nil {
		return fmt.Errorf("refund usage: %w", err)
	}
	return nil
}

func (s *Store) ResetUsage(ctx context.Context, userID string, feature entitlement.Feature) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE feature_usage SET count = 0, updated_at = now()
		WHERE user_id = $1 AND ($2 = '' OR feature = $2)`,
		userID, string(feature))
	if err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

func (s *Store) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM feature_usage WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSubscription(row pgx.Row) (*entitlement.Subscription, error) {
	var (
		sub      entitlement.Subscription
		provider string
		status   string
	)
	err := row.Scan(
		&sub.UserID, &provider, &sub.SubscriptionID, &sub.PlanID, &status,
		&sub.CurrentPeriodEnd, &sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt, &sub.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Provider = entitlement.Provider(provider)
	if sub.Status, err = entitlement.ParseStatus(status); err != nil {
		return nil, err
	}
	return &sub, nil
}
