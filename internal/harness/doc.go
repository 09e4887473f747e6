// Package harness runs attendance scenarios end to end against the real
// client stack.
//
// A scenario wires the attendance service, reconciliation engine and sync
// scheduler to a fresh SQLite store, an in-memory gateway, a manual network
// monitor, a fake clock and fake devices. Steps flip connectivity, move the
// clock, break devices or the gateway, and invoke the operations a field
// worker would. Every step is recorded in a trace that assertions and golden
// snapshots are evaluated against.
//
// # Scenario Format
//
//	name: offline_workday
//	description: "A full day recorded offline is delivered intact"
//	start: "2026-03-02T07:00:00-05:00"
//	zones:
//	  - { code: L7, name: Lote 7, lat: 4.61, lon: -74.08, radius_m: 300 }
//	setup:
//	  - action: network.set
//	    args: { online: false }
//	flow:
//	  - invoke: attendance.submit
//	    args: { kind: entry }
//	    expect:
//	      case: Success
//	      result: { queued: true, zone_status: unknown }
//	assertions:
//	  - type: pending
//	    count: 2
//	  - type: final_state
//	    source: remote
//	    table: attendance_records
//	    where: { kind: entry }
//	    rows: 1
//
// # Actions
//
//   - network.set {online}: change connectivity
//   - clock.advance {by}: move the clock by a Go duration
//   - device.gps {at} or {fix: false}: set or remove the GPS fix
//   - device.camera {working}: break or repair the camera
//   - gateway.fail {op, error, once}: inject a gateway failure; error
//     "duplicate" injects a duplicate-key rejection
//   - gateway.recover {op}: clear an injected failure
//   - attendance.submit {kind}
//   - attendance.followup {slot, session}
//   - attendance.locate {origin}
//   - attendance.today {}
//   - attendance.pending {}
//   - sync.run {scheduled}: a manual sync, or a scheduled one that honours
//     retry backoff
//
// A step completes with case "Success" or with the error code of the
// refusal (for example FOLLOWUP_REQUIRED or CAPTURE_FAILED).
//
// # Assertion Types
//
//   - trace_contains: an action appears in the trace with matching args
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - final_state: rows of a local or remote table match
//   - pending: the local queue holds exactly N entities
//
// # Deterministic Testing
//
// Ids come from a sequence generator and time only moves on clock.advance,
// so traces are identical between runs and can be compared to golden
// snapshots.
package harness
