// Package pg opens the PostgreSQL pool used by the entitlement store and
// applies its schema.
//
// Connect builds a pgx/v5 pool from Config and retries until the server
// answers a ping. Migrate runs goose migrations from an fs.FS (the service
// embeds its SQL files), so the binary never depends on files next to it.
// Healthcheck adapts the pool to the readiness probe signature.
package pg
