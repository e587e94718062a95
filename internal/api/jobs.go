package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/aidash/handler"
	"github.com/dmitrymomot/aidash/internal/jobs"
	"github.com/dmitrymomot/aidash/pkg/binder"
	"github.com/dmitrymomot/aidash/pkg/jwt"
)

func (s *server) startJob() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req jobs.StartRequest) handler.Response {
		job, err := s.deps.Jobs.Start(ctx, jwt.UserID(ctx), req)
		if err != nil {
			return s.fail(ctx, err)
		}
		return handler.JSON(job, handler.WithJSONStatus(http.StatusAccepted))
	}, binder.JSON(), handler.Validate(s.validate))
}

type jobRequest struct {
	ID string `path:"id"`
}

func (s *server) getJob() http.HandlerFunc {
	return wrap(s, func(ctx handler.Context, req jobRequest) handler.Response {
		job, err := s.deps.Jobs.Get(ctx, jwt.UserID(ctx), req.ID)
		if err != nil {
			return s.fail(ctx, err)
		}
		return handler.JSON(job)
	}, binder.Path(chi.URLParam))
}
