// Package storage persists planner records and the pending alarm table.
//
// Two drivers are available:
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
//   - "file":   one JSON snapshot rewritten atomically on every change
//
// Record ids are assigned by the store and never exceed domain.MaxRecordID.
package storage
