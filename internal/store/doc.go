// Package store provides the SQLite-backed durable local queue.
//
// The store holds entities that the remote gateway has not confirmed yet:
//   - queued_attendance: clock-in/clock-out events, photo blob included
//   - queued_followups: evidence photos keyed by (session_id, slot)
//   - queued_locations: GPS samples
//
// plus confirmed_snapshots, the last-known-good confirmed view per
// (user_id, date) that keeps the daily view populated while offline.
//
// # Self-healing
//
// On open the store checks user_version and that every table and index in
// schema.sql exists. On mismatch or corruption the database files are
// deleted and recreated empty. Anything still queued is lost; the number
// of discarded rows is logged. The same rebuild runs if a query later hits
// a missing table. Open and rebuild are single-flight.
//
// # Ordering
//
// Timestamps are stored as fixed-width UTC text so they sort correctly.
// Lists order by timestamp, then id COLLATE BINARY, for deterministic
// results.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Every failure of the storage medium is returned as a record.Error with
// code STORAGE_UNAVAILABLE.
package store
