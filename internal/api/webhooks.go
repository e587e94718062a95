package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/aidash/handler"
	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/pkg/binder"
	"github.com/dmitrymomot/aidash/pkg/logger"
)

type webhookRequest struct {
	Provider string      `path:"provider"`
	Payload  []byte      `path:"-"`
	Headers  http.Header `path:"-"`
}

// rawBody captures the exact delivered bytes; signatures are computed over them.
func rawBody(limit int64) handler.Bind {
	return func(r *http.Request, v any) error {
		req, ok := v.(*webhookRequest)
		if !ok {
			return fmt.Errorf("raw body binder: unexpected target %T", v)
		}
		body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return binder.ErrRequestTooLarge
			}
			return fmt.Errorf("%w: %v", binder.ErrFailedToParseJSON, err)
		}
		req.Payload = body
		req.Headers = r.Header.Clone()
		return nil
	}
}

type webhookResponse struct {
	Outcome billing.Outcome `json:"outcome"`
}

// webhookHandler answers 200 for every verified delivery, including ignored
// and stale ones, so providers stop retrying. Verification and payload
// errors answer 400. Persistence errors answer 500 only when the reconcile
// policy is fail-closed, which makes the provider redeliver.
func (s *server) webhookHandler() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req webhookRequest) handler.Response {
		provider, err := entitlement.ParseProvider(req.Provider)
		if err != nil {
			return handler.JSONError(handler.ErrNotFound)
		}
		if _, ok := s.deps.Reconciler.Provider(provider); !ok {
			return handler.JSONError(handler.ErrNotFound)
		}

		outcome, err := s.deps.Reconciler.Reconcile(ctx, provider, req.Payload, req.Headers)
		switch {
		case err == nil:
			return handler.JSON(webhookResponse{Outcome: outcome})
		case errors.Is(err, billing.ErrPersistence):
			s.log.ErrorContext(ctx, "webhook not persisted, provider will retry",
				logger.Provider(string(provider)), logger.Error(err))
			return handler.JSONError(handler.ErrInternalServerError)
		case errors.Is(err, billing.ErrWebhookVerificationFailed),
			errors.Is(err, billing.ErrMalformedEvent):
			return handler.JSONError(errMalformedWebhook)
		}
		return s.fail(ctx, err)
	}, binder.Path(chi.URLParam), rawBody(s.cfg.WebhookMaxBytes))
}
