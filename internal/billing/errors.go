package billing

import "errors"

var (
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrMalformedEvent            = errors.New("malformed webhook event")
	ErrEventIgnored              = errors.New("webhook event type is not handled")
	ErrUnknownProviderStatus     = errors.New("unknown provider subscription status")
	ErrProviderNotConfigured     = errors.New("billing provider is not configured")
	ErrPersistence               = errors.New("failed to persist subscription")

	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid billing provider environment")
	ErrMissingPlanID        = errors.New("plan ID is required")
	ErrMissingUserID        = errors.New("user ID is required")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from provider")
	ErrProviderError        = errors.New("billing provider error")
	ErrNoSubscription       = errors.New("user has no provider subscription to cancel")
)
