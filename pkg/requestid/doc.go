// Package requestid attaches a correlation id to every HTTP request.
//
// Middleware reuses a well-formed X-Request-ID supplied by the caller (such as a
// load balancer or a payment provider retry) and otherwise mints a UUID. The id
// is echoed in the response header, stored in the request context, and exposed
// to pkg/logger through LoggerExtractor so every log line of a request carries it.
package requestid
