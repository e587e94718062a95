// Package handler provides type-safe JSON HTTP handlers.
//
// A handler is a generic function that receives a bound request struct and
// returns a Response:
//
//	type ChatRequest struct {
//		Messages []Message `json:"messages" validate:"required,min=1,dive"`
//	}
//
//	func chat(ctx handler.Context, req ChatRequest) handler.Response {
//		res, err := tools.Chat(ctx, req)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(res)
//	}
//
//	r.Post("/chat", handler.Wrap(chat,
//		handler.WithBinders[handler.Context, ChatRequest](binder.JSON(), handler.Validate(v)),
//	))
//
// Errors are rendered as {"error":{"code","message","details"}}. HTTPError
// sets the status, ValidationError becomes 400 with per-field details and
// every other error becomes a generic 500.
package handler
