// Package tokenstore persists one Google OAuth credential per user id.
//
// A Store is the single source of truth for credential state. Writes for a
// given user id are serialized by a per-key lock and land as one atomic
// upsert, so a refresh racing another refresh cannot lose an update.
//
// Backends:
//   - sql: GORM over pure-Go SQLite or Postgres (default, durable)
//   - badger: embedded key/value directory (durable)
//   - valkey: shared Valkey/Redis server for multi-replica deployments
//   - memory: process-local, for tests and development only
//
// Any backend can be wrapped with a Sealer to encrypt tokens at rest.
package tokenstore
