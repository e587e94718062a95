// Package logger builds *slog.Logger instances for the service.
//
// Production uses JSON output at INFO, development uses text output at DEBUG.
// Request-scoped values (request id, user id) are injected at log time by
// context extractors registered with WithContextExtractors, so handlers can
// log with the request context and get correlated records for free.
//
// The attribute helpers in attr.go keep key names consistent across packages:
//
//	log.WarnContext(ctx, "usage record failed",
//		logger.UserID(userID),
//		logger.Feature(string(feature)),
//		logger.Error(err),
//	)
package logger
