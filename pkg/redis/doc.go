// Package redis connects to Redis with go-redis/v9 and exposes a readiness
// probe. The service keeps short-lived job state there so it survives restarts
// and is shared between instances.
package redis
