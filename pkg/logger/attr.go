package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error". A nil error yields an empty Attr, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Feature(name string) slog.Attr {
	return slog.String("feature", name)
}

func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

func SubscriptionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("subscription_id", id)
}

func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Transition records a status change as "from -> to".
func Transition(from, to string) slog.Attr {
	if from == "" {
		from = "none"
	}
	return slog.String("transition", from+" -> "+to)
}

// Operation records the entitlement operation name (gate, record, reconcile...).
func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

func JobID(id string) slog.Attr {
	return slog.String("job_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
