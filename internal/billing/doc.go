// Package billing connects payment providers to the entitlement store.
//
// Providers (PayPal, Stripe, Paddle) create hosted checkouts, cancel
// subscriptions and turn signed webhook deliveries into a normalised
// WebhookEvent. The Reconciler validates each event against an allow-listed
// status transition table and upserts the user's subscription record.
//
// Outcomes of Reconcile map onto webhook HTTP responses:
//
//	ErrWebhookVerificationFailed, ErrMalformedEvent  -> 400, nothing written
//	ErrPersistence (fail-closed reconcile policy)    -> 500, provider retries
//	OutcomeApplied, OutcomeUnchanged, OutcomeIgnored,
//	OutcomeStale, OutcomeRejected                    -> 200
package billing
