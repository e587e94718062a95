package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/aidash/handler"
	"github.com/dmitrymomot/aidash/internal/ai"
	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/internal/jobs"
	"github.com/dmitrymomot/aidash/pkg/binder"
	"github.com/dmitrymomot/aidash/pkg/logger"
)

const (
	msgUpgrade     = "You have used all free requests for this tool. Upgrade to Pro for unlimited access."
	msgUnavailable = "We could not verify your plan right now. Please try again in a moment."
	msgVendor      = "Something went wrong, please try again."
)

var (
	errQuotaExceeded       = handler.NewHTTPError(http.StatusForbidden, "quota_exceeded")
	errEntitlementDown     = handler.NewHTTPError(http.StatusForbidden, "entitlement_unavailable")
	errVendor              = handler.NewHTTPError(http.StatusBadGateway, "vendor_error")
	errVendorTimeout       = handler.NewHTTPError(http.StatusGatewayTimeout, "vendor_timeout")
	errToolUnavailable     = handler.NewHTTPError(http.StatusServiceUnavailable, "tool_unavailable")
	errUnsupportedLanguage = handler.NewHTTPError(http.StatusBadRequest, "unsupported_language")
	errProviderUnknown     = handler.NewHTTPError(http.StatusBadRequest, "provider_not_configured")
	errNoSubscription      = handler.NewHTTPError(http.StatusNotFound, "no_subscription")
	errJobNotFound         = handler.NewHTTPError(http.StatusNotFound, "job_not_found")
	errMalformedWebhook    = handler.NewHTTPError(http.StatusBadRequest, "invalid_webhook")
)

// fail maps a domain error to its HTTP response. Unexpected errors are
// logged and rendered as a generic 500.
func (s *server) fail(ctx handler.Context, err error) handler.Response {
	var valErr handler.ValidationError
	var httpErr handler.HTTPError
	switch {
	case errors.As(err, &valErr), errors.As(err, &httpErr):
		return handler.JSONError(err)

	case errors.Is(err, entitlement.ErrQuotaExceeded):
		return handler.JSONError(errQuotaExceeded, handler.WithUpgrade(), handler.WithErrorMessage(msgUpgrade))
	case errors.Is(err, entitlement.ErrStoreUnavailable):
		return handler.JSONError(errEntitlementDown, handler.WithErrorMessage(msgUnavailable))
	case errors.Is(err, entitlement.ErrMissingUserID),
		errors.Is(err, billing.ErrMissingUserID),
		errors.Is(err, jobs.ErrMissingUser):
		return handler.JSONError(handler.ErrUnauthorized)
	case errors.Is(err, entitlement.ErrUnknownFeature),
		errors.Is(err, entitlement.ErrUnknownProvider):
		return handler.JSONError(handler.ErrBadRequest, handler.WithErrorMessage(err.Error()))

	case errors.Is(err, binder.ErrRequestTooLarge):
		return handler.JSONError(handler.ErrRequestTooLarge)
	case errors.Is(err, binder.ErrUnsupportedMediaType),
		errors.Is(err, binder.ErrMissingContentType):
		return handler.JSONError(handler.ErrUnsupportedMedia, handler.WithErrorMessage(err.Error()))
	case errors.Is(err, binder.ErrFailedToParseJSON),
		errors.Is(err, binder.ErrFailedToParsePath):
		return handler.JSONError(handler.ErrBadRequest, handler.WithErrorMessage(err.Error()))

	case errors.Is(err, ai.ErrUnsupportedLanguage):
		return handler.JSONError(errUnsupportedLanguage, handler.WithErrorMessage(err.Error()))
	case errors.Is(err, ai.ErrNotConfigured):
		return handler.JSONError(errToolUnavailable)
	case errors.Is(err, ai.ErrTimeout):
		return handler.JSONError(errVendorTimeout, handler.WithErrorMessage(msgVendor))
	case errors.Is(err, ai.ErrVendor), errors.Is(err, ai.ErrEmptyResponse), errors.Is(err, ai.ErrModelLoading):
		return handler.JSONError(errVendor, handler.WithErrorMessage(msgVendor))

	case errors.Is(err, billing.ErrProviderNotConfigured),
		errors.Is(err, billing.ErrMissingPlanID):
		return handler.JSONError(errProviderUnknown)
	case errors.Is(err, billing.ErrNoSubscription):
		return handler.JSONError(errNoSubscription)
	case errors.Is(err, billing.ErrProviderError), errors.Is(err, billing.ErrNoCheckoutURL):
		s.log.ErrorContext(ctx, "billing provider call failed", logger.Error(err))
		return handler.JSONError(errVendor, handler.WithErrorMessage(msgVendor))

	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrInvalidJobID):
		return handler.JSONError(errJobNotFound)
	case errors.Is(err, jobs.ErrJobConflict):
		return handler.JSONError(handler.ErrConflict)
	}

	s.log.ErrorContext(ctx, "unhandled request error", logger.Error(err))
	return handler.JSONError(handler.ErrInternalServerError)
}

func (s *server) renderError(ctx handler.Context, err error) {
	if rerr := s.fail(ctx, err).Render(ctx.ResponseWriter(), ctx.Request()); rerr != nil {
		s.log.WarnContext(ctx, "failed to render error response", logger.Error(rerr))
	}
}
