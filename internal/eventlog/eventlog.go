// Package eventlog archives provider webhook deliveries in MongoDB.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
)

const DefaultCollection = "webhook_events"

var ErrArchiveFailed = errors.New("eventlog: archive failed")

// Entry is one provider event. Redeliveries of the same event id update the
// entry and append to Outcomes.
type Entry struct {
	ID             string               `bson:"_id" json:"-"`
	Provider       entitlement.Provider `bson:"provider" json:"provider"`
	EventID        string               `bson:"event_id" json:"event_id"`
	EventType      string               `bson:"event_type" json:"event_type"`
	SubscriptionID string               `bson:"subscription_id,omitempty" json:"subscription_id,omitempty"`
	UserID         string               `bson:"user_id,omitempty" json:"-"`
	Status         entitlement.Status   `bson:"status,omitempty" json:"status,omitempty"`
	RawStatus      string               `bson:"raw_status,omitempty" json:"raw_status,omitempty"`
	Outcome        billing.Outcome      `bson:"outcome" json:"outcome"`
	Outcomes       []billing.Outcome    `bson:"outcomes" json:"-"`
	Deliveries     int                  `bson:"deliveries" json:"deliveries"`
	OccurredAt     time.Time            `bson:"occurred_at" json:"occurred_at"`
	FirstSeenAt    time.Time            `bson:"first_seen_at" json:"first_seen_at"`
	LastSeenAt     time.Time            `bson:"last_seen_at" json:"last_seen_at"`
	Payload        any                  `bson:"payload,omitempty" json:"-"`
}

// Log implements billing.Archiver.
type Log struct {
	coll      *mongo.Collection
	retention time.Duration
	now       func() time.Time
}

type Option func(*Log)

// WithRetention expires entries this long after their last delivery.
func WithRetention(d time.Duration) Option {
	return func(l *Log) { l.retention = d }
}

func WithCollection(name string) Option {
	return func(l *Log) {
		if name != "" {
			l.coll = l.coll.Database().Collection(name)
		}
	}
}

func New(db *mongo.Database, opts ...Option) *Log {
	if db == nil {
		panic("eventlog: database is required")
	}
	l := &Log{
		coll:      db.Collection(DefaultCollection),
		retention: 90 * 24 * time.Hour,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureIndexes creates the lookup and TTL indexes.
func (l *Log) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "last_seen_at", Value: -1}}},
		{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "subscription_id", Value: 1}}},
	}
	if l.retention > 0 {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "last_seen_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(l.retention / time.Second)),
		})
	}
	if _, err := l.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (l *Log) Archive(ctx context.Context, ev *billing.WebhookEvent, outcome billing.Outcome) error {
	if ev == nil || ev.EventID == "" {
		return nil
	}
	now := l.now()
	set := bson.M{
		"provider":     ev.Provider,
		"event_id":     ev.EventID,
		"event_type":   ev.EventType,
		"outcome":      outcome,
		"occurred_at":  ev.OccurredAt,
		"last_seen_at": now,
	}
	if ev.SubscriptionID != "" {
		set["subscription_id"] = ev.SubscriptionID
	}
	if ev.UserID != "" {
		set["user_id"] = ev.UserID
	}
	if ev.Status != entitlement.StatusNone {
		set["status"] = ev.Status
	}
	if ev.RawStatus != "" {
		set["raw_status"] = ev.RawStatus
	}
	if p := decodePayload(ev.Payload); p != nil {
		set["payload"] = p
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"first_seen_at": now},
		"$inc":         bson.M{"deliveries": 1},
		"$push":        bson.M{"outcomes": outcome},
	}
	_, err := l.coll.UpdateOne(ctx, bson.M{"_id": entryID(ev.Provider, ev.EventID)}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return errors.Join(ErrArchiveFailed, err)
	}
	return nil
}

// Recent returns the newest entries for a user.
func (l *Log) Recent(ctx context.Context, userID string, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	cur, err := l.coll.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "last_seen_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	out := []Entry{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return out, nil
}

func entryID(provider entitlement.Provider, eventID string) string {
	return string(provider) + ":" + eventID
}

// decodePayload stores JSON payloads as documents and anything else as a string.
func decodePayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(payload, false, &doc); err == nil {
		return doc
	}
	return string(payload)
}

var _ billing.Archiver = (*Log)(nil)
