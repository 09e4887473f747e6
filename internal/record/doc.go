// Package record defines the attendance domain types shared by every other
// internal package.
//
// This package imports nothing internal. The store, the reconciliation
// engine, the sync scheduler and the gateways all exchange the types declared
// here, so record stays the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Every "kind of thing" is a closed enumeration (Kind, Origin, ZoneStatus,
//     SyncState, Slot) with exhaustive switches at each consumption site
//   - Ids are client generated (UUIDv7) and stable across online/offline paths
//   - Timestamps are stored in UTC; the calendar Date is the worker's local day
//   - All row keys use snake_case
package record
