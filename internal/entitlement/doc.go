// Package entitlement decides whether a user may run a metered AI feature.
//
// A user is entitled when their subscription is ACTIVE and its current period,
// extended by a grace period, has not ended. Everyone else draws from a free
// quota per feature, counted in usage windows (daily by default).
//
// The Service exposes three ways to meter a call:
//
//   - IsEntitled is a read-only check. Store failures deny.
//   - RecordUsage adds one unit after a successful call. Store failures are
//     logged and swallowed.
//   - Reserve combines both in one conditional increment so concurrent calls
//     cannot overshoot the quota. Reservation.Release refunds the unit when the
//     vendor call fails.
//
// Which failures deny and which are swallowed is declared in Policy.
package entitlement
