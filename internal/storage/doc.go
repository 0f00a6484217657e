// Package storage keeps an optional audit log of relayed alerts.
//
// Every webhook request that reaches a terminal state can be recorded as an
// AlertRecord. Two backends exist:
//   - "file":   append-only JSON Lines, dependency-free
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
//
// Dedup state is never persisted; the log is for operators only.
package storage
