package cli

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/aidash/internal/ai"
	"github.com/dmitrymomot/aidash/internal/api"
	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/internal/jobs"
	"github.com/dmitrymomot/aidash/internal/media"
	"github.com/dmitrymomot/aidash/internal/worker"
	"github.com/dmitrymomot/aidash/pkg/email"
	"github.com/dmitrymomot/aidash/pkg/httpserver"
	"github.com/dmitrymomot/aidash/pkg/jwt"
	"github.com/dmitrymomot/aidash/pkg/logger"
	"github.com/dmitrymomot/aidash/pkg/mongo"
	"github.com/dmitrymomot/aidash/pkg/ratelimiter"
	"github.com/dmitrymomot/aidash/pkg/redis"
)

// appConfig is every environment-driven setting except the database, which
// is loaded only when a Postgres store is used.
type appConfig struct {
	Log         logger.Config
	HTTP        httpserver.Config
	API         api.Config
	JWT         jwt.Config
	RateLimit   ratelimiter.Config
	Entitlement entitlementConfig
	Billing     billingConfig
	AI          ai.Config
	Media       media.Config
	Jobs        jobs.Config
	Worker      worker.Config
	Redis       redis.Config
	Mongo       mongo.Config
	Email       email.Config
	EventLog    eventLogConfig
}

type entitlementConfig struct {
	LimitsFile      string        `env:"FREE_TIER_LIMITS_FILE"`
	ResetPeriod     string        `env:"USAGE_RESET_PERIOD" envDefault:"daily"`
	GracePeriod     time.Duration `env:"SUBSCRIPTION_GRACE_PERIOD" envDefault:"24h"`
	GatePolicy      string        `env:"GATE_FAILURE_POLICY" envDefault:"fail-closed"`
	ReconcilePolicy string        `env:"RECONCILE_FAILURE_POLICY" envDefault:"fail-open"`
}

type billingConfig struct {
	PayPal        billing.PayPalConfig
	Stripe        billing.StripeConfig
	Paddle        billing.PaddleConfig
	PayPalPlanID  string `env:"PAYPAL_PLAN_ID"`
	StripePriceID string `env:"STRIPE_PRICE_ID"`
	PaddlePriceID string `env:"PADDLE_PRICE_ID"`
}

type eventLogConfig struct {
	Retention time.Duration `env:"EVENTLOG_RETENTION" envDefault:"2160h"`
}

// serviceOptions turns the entitlement settings into service options.
func (c entitlementConfig) serviceOptions() ([]entitlement.ServiceOption, error) {
	limits := entitlement.DefaultLimits()
	if c.LimitsFile != "" {
		l, err := entitlement.LoadLimits(c.LimitsFile)
		if err != nil {
			return nil, err
		}
		limits = l
	}
	period, err := entitlement.ParseResetPeriod(c.ResetPeriod)
	if err != nil {
		return nil, err
	}
	policy, err := c.policy()
	if err != nil {
		return nil, err
	}
	return []entitlement.ServiceOption{
		entitlement.WithLimits(limits),
		entitlement.WithResetPeriod(period),
		entitlement.WithGracePeriod(c.GracePeriod),
		entitlement.WithPolicy(policy),
	}, nil
}

func (c entitlementConfig) policy() (entitlement.Policy, error) {
	gate, err := entitlement.ParseCriticality(c.GatePolicy)
	if err != nil {
		return nil, fmt.Errorf("GATE_FAILURE_POLICY: %w", err)
	}
	reconcile, err := entitlement.ParseCriticality(c.ReconcilePolicy)
	if err != nil {
		return nil, fmt.Errorf("RECONCILE_FAILURE_POLICY: %w", err)
	}
	return entitlement.DefaultPolicy().
		With(entitlement.OpGate, gate).
		With(entitlement.OpReserve, gate).
		With(entitlement.OpReconcile, reconcile), nil
}

// plans lists the checkout plan for every enabled provider.
func (c billingConfig) plans() billing.Plans {
	plans := billing.Plans{}
	if c.PayPal.Enabled() && c.PayPalPlanID != "" {
		plans[entitlement.ProviderPayPal] = c.PayPalPlanID
	}
	if c.Stripe.Enabled() && c.StripePriceID != "" {
		plans[entitlement.ProviderStripe] = c.StripePriceID
	}
	if c.Paddle.Enabled() && c.PaddlePriceID != "" {
		plans[entitlement.ProviderPaddle] = c.PaddlePriceID
	}
	return plans
}

func (c billingConfig) providers() ([]billing.Provider, error) {
	var out []billing.Provider
	if c.PayPal.Enabled() {
		p, err := billing.NewPayPalProvider(c.PayPal)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if c.Stripe.Enabled() {
		p, err := billing.NewStripeProvider(c.Stripe)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if c.Paddle.Enabled() {
		p, err := billing.NewPaddleProvider(c.Paddle)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
