package entitlement

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithLimits replaces the built-in free-tier table.
func WithLimits(l Limits) ServiceOption {
	return func(s *service) {
		s.limits = l.clone()
	}
}

// WithGracePeriod sets how long past CurrentPeriodEnd a subscription stays entitled.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(s *service) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func WithResetPeriod(p ResetPeriod) ServiceOption {
	return func(s *service) {
		if p != "" {
			s.period = p
		}
	}
}

func WithPolicy(p Policy) ServiceOption {
	return func(s *service) {
		if p != nil {
			s.policy = p
		}
	}
}

func WithObserver(o Observer) ServiceOption {
	return func(s *service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock overrides time.Now, mostly for boundary tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}
