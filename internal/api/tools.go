package api

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/aidash/handler"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/pkg/binder"
	"github.com/dmitrymomot/aidash/pkg/jwt"
	"github.com/dmitrymomot/aidash/pkg/logger"
)

func (s *server) toolRoutes(r chi.Router) {
	t := s.deps.Tools
	body := []handler.Bind{binder.JSON(), handler.Validate(s.validate)}

	r.Post("/chat", wrap(s, gated(s, entitlement.FeatureChat, t.Chat), body...))
	r.Post("/code", wrap(s, gated(s, entitlement.FeatureCodeAssistant, t.Code), body...))
	r.Post("/image", wrap(s, gated(s, entitlement.FeatureImageGeneration, t.Image), body...))
	r.Post("/video", wrap(s, gated(s, entitlement.FeatureVideoGeneration, t.Video), body...))
	r.Post("/music", wrap(s, gated(s, entitlement.FeatureMusicGeneration, t.Music), body...))
	r.Post("/content", wrap(s, gated(s, entitlement.FeatureContentWriter, t.Content), body...))
	r.Post("/translate", wrap(s, gated(s, entitlement.FeatureTranslation, t.Translate), body...))
	r.Post("/legal", wrap(s, gated(s, entitlement.FeatureLegalDocument, t.Legal), body...))
}

// gated runs call only after a unit of feature quota has been reserved.
// A failed call gives the unit back.
func gated[R, T any](s *server, feature entitlement.Feature, call func(context.Context, R) (T, error)) handler.HandlerFunc[handler.Context, R] {
	return func(ctx handler.Context, req R) handler.Response {
		userID := jwt.UserID(ctx)

		res, err := s.deps.Entitlements.Reserve(ctx, userID, feature)
		if err != nil {
			return s.fail(ctx, err)
		}

		out, err := call(ctx, req)
		if err != nil {
			if rerr := res.Release(context.WithoutCancel(ctx)); rerr != nil {
				s.log.ErrorContext(ctx, "failed to release reservation",
					logger.UserID(userID), logger.Feature(feature.String()), logger.Error(rerr))
			}
			return s.fail(ctx, err)
		}

		meta := map[string]any{"feature": feature}
		if res.Metered() {
			meta["limit"] = res.Limit
			meta["remaining"] = res.Remaining()
		}
		return handler.JSON(out, handler.WithJSONMeta(meta))
	}
}
