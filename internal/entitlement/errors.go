package entitlement

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrQuotaExceeded        = errors.New("free usage quota exceeded")
	ErrMissingUserID        = errors.New("user id is required")
	ErrUnknownFeature       = errors.New("unknown feature")
	ErrUnknownStatus        = errors.New("unknown subscription status")
	ErrUnknownProvider      = errors.New("unknown billing provider")
	ErrInvalidResetPeriod   = errors.New("invalid usage reset period")
	ErrInvalidLimit         = errors.New("free tier limit must not be negative")
	ErrStaleWrite           = errors.New("subscription has a newer event applied")
	ErrStoreUnavailable     = errors.New("entitlement store unavailable")
	ErrFailedToLoadLimits   = errors.New("failed to load free tier limits")
)
