// Package mongo connects to MongoDB with bounded retries and exposes a
// readiness probe.
package mongo
