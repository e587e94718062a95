// Package api exposes the dashboard's HTTP surface: the gated AI tools,
// billing, training jobs, provider webhooks and operational endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/aidash/handler"
	"github.com/dmitrymomot/aidash/internal/ai"
	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/internal/eventlog"
	"github.com/dmitrymomot/aidash/internal/jobs"
	"github.com/dmitrymomot/aidash/internal/metrics"
	"github.com/dmitrymomot/aidash/pkg/httpserver"
	"github.com/dmitrymomot/aidash/pkg/jwt"
	"github.com/dmitrymomot/aidash/pkg/logger"
	"github.com/dmitrymomot/aidash/pkg/ratelimiter"
	"github.com/dmitrymomot/aidash/pkg/requestid"
)

type Config struct {
	AllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	WebhookMaxBytes    int64         `env:"WEBHOOK_MAX_BYTES" envDefault:"262144"`
	ReadinessTimeout   time.Duration `env:"READINESS_TIMEOUT" envDefault:"3s"`
	CheckoutSuccessURL string        `env:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string        `env:"CHECKOUT_CANCEL_URL"`
}

// EventReader lists archived webhook events for a user.
type EventReader interface {
	Recent(ctx context.Context, userID string, limit int64) ([]eventlog.Entry, error)
}

// Deps are the services behind the router. Events, Metrics, Limiter and
// Probes are optional.
type Deps struct {
	Entitlements entitlement.Service
	Billing      *billing.Service
	Reconciler   *billing.Reconciler
	Tools        ai.Tools
	Jobs         *jobs.Service
	Auth         *jwt.Service
	Events       EventReader
	Metrics      *metrics.Metrics
	Limiter      *ratelimiter.Limiter
	TrustProxy   bool
	Probes       []httpserver.Probe
	Logger       *slog.Logger
}

type server struct {
	cfg      Config
	deps     Deps
	log      *slog.Logger
	validate *validator.Validate
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config, deps Deps) http.Handler {
	switch {
	case deps.Entitlements == nil:
		panic("api: entitlement service is required")
	case deps.Billing == nil || deps.Reconciler == nil:
		panic("api: billing service and reconciler are required")
	case deps.Tools == nil:
		panic("api: ai tools are required")
	case deps.Jobs == nil:
		panic("api: jobs service is required")
	case deps.Auth == nil:
		panic("api: jwt service is required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.WebhookMaxBytes <= 0 {
		cfg.WebhookMaxBytes = 256 << 10
	}
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = 3 * time.Second
	}
	s := &server{
		cfg:      cfg,
		deps:     deps,
		log:      log.With(logger.Component("api")),
		validate: handler.NewValidator(),
	}
	return s.routes()
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware)
	}
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestid.Header},
		ExposedHeaders:   []string{requestid.Header, "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(s.log, s.cfg.ReadinessTimeout, s.deps.Probes...))
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit(ratelimiter.ClientIP(s.deps.TrustProxy)))
		r.Post("/webhooks/{provider}", s.webhookHandler())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jwt.MiddlewareWithConfig(jwt.MiddlewareConfig{
			Service: s.deps.Auth,
			OnError: s.unauthorized,
		}))
		r.Use(s.rateLimit(ratelimiter.ByUser(jwt.UserID, ratelimiter.ClientIP(s.deps.TrustProxy))))

		r.Route("/tools", s.toolRoutes)

		r.Get("/billing/status", s.billingStatus())
		r.Post("/billing/checkout", s.billingCheckout())
		r.Post("/billing/cancel", s.billingCancel())
		r.Get("/billing/events", s.billingEvents())

		r.Post("/jobs/training", s.startJob())
		r.Get("/jobs/training/{id}", s.getJob())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = handler.JSONError(handler.ErrNotFound).Render(w, r)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = handler.JSONError(handler.NewHTTPError(http.StatusMethodNotAllowed, "method_not_allowed")).Render(w, r)
	})
	return r
}

// wrap adapts a typed handler with the shared error rendering.
func wrap[R any](s *server, h handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithBinders[handler.Context, R](binders...),
		handler.WithErrorHandler[handler.Context, R](s.renderError),
	)
}

func (s *server) rateLimit(key ratelimiter.KeyFunc) func(http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimiter.Middleware(s.deps.Limiter, key, func(w http.ResponseWriter, r *http.Request, _ ratelimiter.Result) {
		_ = handler.JSONError(handler.ErrTooManyRequests).Render(w, r)
	})
}

func (s *server) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	s.log.DebugContext(r.Context(), "request not authenticated", logger.Error(err))
	_ = handler.JSONError(handler.ErrUnauthorized).Render(w, r)
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case r.URL.Path == "/health/live" || r.URL.Path == "/health/ready" || r.URL.Path == "/metrics":
			level = slog.LevelDebug
		}
		s.log.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			logger.Duration(time.Since(start)),
			logger.RequestID(requestid.FromContext(r.Context())),
		)
	})
}
