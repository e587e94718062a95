// Package binder decodes HTTP requests into typed request structs for the
// generic handlers in package handler.
//
//	type JobRequest struct {
//		ID string `path:"id"`
//	}
//
//	r.Get("/jobs/{id}", handler.Wrap(getJob,
//		handler.WithBinders[handler.Context, JobRequest](binder.Path(chi.URLParam)),
//	))
//
// JSON decoding is strict: unknown fields, trailing data and bodies over
// DefaultMaxJSONSize are rejected.
package binder
