package api

import (
	"net/http"

	"github.com/dmitrymomot/aidash/handler"
	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/internal/eventlog"
	"github.com/dmitrymomot/aidash/pkg/binder"
	"github.com/dmitrymomot/aidash/pkg/jwt"
)

type statusResponse struct {
	Pro          bool                      `json:"pro"`
	Subscription *billing.SubscriptionView `json:"subscription,omitempty"`
	Usage        *entitlement.Summary      `json:"usage"`
	Providers    []entitlement.Provider    `json:"providers"`
}

func (s *server) billingStatus() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, _ struct{}) handler.Response {
		st, err := s.deps.Billing.Status(ctx, jwt.UserID(ctx))
		if err != nil {
			return s.fail(ctx, err)
		}
		providers := st.Providers
		if providers == nil {
			providers = []entitlement.Provider{}
		}
		return handler.JSON(statusResponse{
			Pro:          st.Summary.Pro,
			Subscription: billing.ViewOf(st.Subscription),
			Usage:        st.Summary,
			Providers:    providers,
		})
	})
}

type checkoutRequest struct {
	Provider   string `json:"provider" validate:"required,oneof=paypal stripe paddle"`
	SuccessURL string `json:"success_url" validate:"omitempty,http_url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,http_url"`
}

func (s *server) billingCheckout() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req checkoutRequest) handler.Response {
		var email string
		if claims, ok := jwt.ClaimsFromContext(ctx); ok {
			email = claims.Email
		}
		opts := billing.CheckoutOptions{
			Email:      email,
			SuccessURL: firstNonEmpty(req.SuccessURL, s.cfg.CheckoutSuccessURL),
			CancelURL:  firstNonEmpty(req.CancelURL, s.cfg.CheckoutCancelURL),
		}
		link, err := s.deps.Billing.Checkout(ctx, jwt.UserID(ctx), entitlement.Provider(req.Provider), opts)
		if err != nil {
			return s.fail(ctx, err)
		}
		return handler.JSON(link, handler.WithJSONStatus(http.StatusCreated))
	}, binder.JSON(), handler.Validate(s.validate))
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

func (s *server) billingCancel() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req cancelRequest) handler.Response {
		reason := req.Reason
		if reason == "" {
			reason = "Cancelled from dashboard"
		}
		sub, err := s.deps.Billing.Cancel(ctx, jwt.UserID(ctx), reason)
		if err != nil {
			return s.fail(ctx, err)
		}
		return handler.JSON(billing.ViewOf(sub))
	}, binder.OptionalJSON(), handler.Validate(s.validate))
}

const recentEventsLimit = 20

func (s *server) billingEvents() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, _ struct{}) handler.Response {
		if s.deps.Events == nil {
			return handler.JSON([]eventlog.Entry{})
		}
		entries, err := s.deps.Events.Recent(ctx, jwt.UserID(ctx), recentEventsLimit)
		if err != nil {
			return s.fail(ctx, err)
		}
		if entries == nil {
			entries = []eventlog.Entry{}
		}
		return handler.JSON(entries)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
