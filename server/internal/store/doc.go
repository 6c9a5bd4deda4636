// Package store holds the in-memory stock entries relayed from producers to
// viewers. It provides a thread-safe entry store with upsert, partial update,
// keep-alive, session-scoped deletion and age-based sweeping, plus a Sweeper
// that runs the sweep on a ticker. Nothing is persisted.
package store
