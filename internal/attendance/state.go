// Package attendance sequences entry, exit and follow-up actions and exposes
// the operations the UI calls.
//
// State is never stored. It is derived from the merged daily view every time
// it is needed, so the rules hold the same way online and offline.
package attendance

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vivacius/asistenciacampo/internal/record"
)

// DefaultMinDwell is how long a session must be open before the mandatory
// follow-up can be captured.
const DefaultMinDwell = 3 * time.Hour

// Inconsistency notes attached to out-of-sequence events.
const (
	NoteEntryWithoutExit = "entry marked without a prior exit"
	NoteExitWithoutEntry = "exit marked without a prior entry"
)

// Gate refusals. They are returned before anything is captured or written.
var (
	ErrFollowUpRequired   = errors.New("mandatory follow-up is required before exit")
	ErrDwellNotElapsed    = errors.New("minimum time since entry has not elapsed")
	ErrFollowUpOutOfOrder = errors.New("optional follow-up requires the mandatory one first")
	ErrNoOpenSession      = errors.New("no open session")
	ErrSessionMismatch    = errors.New("follow-up does not belong to the open session")
)

// State is the per-day session state.
type State int

const (
	StateNoSession State = iota
	StateSessionOpen
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateSessionOpen:
		return "session_open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OpenSession returns the entry of the session open at the end of events:
// the latest entry with no exit after it. events may be in any order.
func OpenSession(events []record.Event) (record.Event, bool) {
	sorted := append([]record.Event(nil), events...)
	record.SortOldestFirst(sorted)

	var open record.Event
	ok := false
	for _, e := range sorted {
		switch e.Kind {
		case record.KindEntry:
			open, ok = e, true
		case record.KindExit:
			open, ok = record.Event{}, false
		}
	}
	return open, ok
}

// Derive returns the state at the end of events.
func Derive(events []record.Event) State {
	if _, ok := OpenSession(events); ok {
		return StateSessionOpen
	}
	return StateNoSession
}

// CheckTransition reports whether recording kind after events is out of
// sequence, with the note to attach. Out-of-sequence events are still
// recorded; the flag only marks them for review.
func CheckTransition(events []record.Event, kind record.Kind) (inconsistent bool, note string) {
	var last *record.Event
	for i := range events {
		if last == nil || newer(events[i], *last) {
			last = &events[i]
		}
	}

	switch kind {
	case record.KindEntry:
		if last != nil && last.Kind == record.KindEntry {
			return true, NoteEntryWithoutExit
		}
	case record.KindExit:
		if last == nil || last.Kind == record.KindExit {
			return true, NoteExitWithoutEntry
		}
	}
	return false, ""
}

func newer(a, b record.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

// Rules holds the timing constants of the evidence gates.
type Rules struct {
	MinDwell time.Duration
}

// DefaultRules returns the rules used in the field.
func DefaultRules() Rules {
	return Rules{MinDwell: DefaultMinDwell}
}

// CanExit refuses an exit while the open session lacks the mandatory
// follow-up. With no open session the exit is allowed and will be flagged.
func (r Rules) CanExit(events []record.Event, followUps []record.FollowUp) error {
	open, ok := OpenSession(events)
	if !ok {
		return nil
	}
	if !hasSlot(followUps, open.ID, record.SlotMandatory) {
		return ErrFollowUpRequired
	}
	return nil
}

// CanFollowUp checks whether evidence for slot may be captured at now.
// An empty sessionID means the open session.
func (r Rules) CanFollowUp(events []record.Event, followUps []record.FollowUp, sessionID string, slot record.Slot, now time.Time) (record.Event, error) {
	if !slot.Valid() {
		return record.Event{}, fmt.Errorf("follow-up slot %d: %w", int(slot), ErrFollowUpOutOfOrder)
	}
	open, ok := OpenSession(events)
	if !ok {
		return record.Event{}, ErrNoOpenSession
	}
	if sessionID != "" && sessionID != open.ID {
		return record.Event{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionMismatch)
	}

	switch slot {
	case record.SlotMandatory:
		if remaining := r.DwellRemaining(open, now); remaining > 0 {
			return record.Event{}, fmt.Errorf("%w: available in %s", ErrDwellNotElapsed, FormatRemaining(remaining))
		}
	case record.SlotOptional:
		if !hasSlot(followUps, open.ID, record.SlotMandatory) {
			return record.Event{}, ErrFollowUpOutOfOrder
		}
	}
	return open, nil
}

// DwellRemaining is the time left before the mandatory follow-up of the
// session opened by entry becomes available.
func (r Rules) DwellRemaining(entry record.Event, now time.Time) time.Duration {
	remaining := r.MinDwell - now.Sub(entry.Timestamp)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FormatRemaining renders d as "2h 15m", rounding minutes up.
func FormatRemaining(d time.Duration) string {
	hours := int(d / time.Hour)
	minutes := int(math.Ceil(float64(d%time.Hour) / float64(time.Minute)))
	if minutes == 60 {
		hours, minutes = hours+1, 0
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func hasSlot(followUps []record.FollowUp, sessionID string, slot record.Slot) bool {
	for _, f := range followUps {
		if f.SessionID == sessionID && f.Slot == slot {
			return true
		}
	}
	return false
}

// HoursWorked sums the entry-to-exit intervals of events, in hours rounded
// to two decimals. A second entry while a session is open restarts it.
// Negative intervals are ignored. With includeOpen, a session still open
// counts up to now.
func HoursWorked(events []record.Event, now time.Time, includeOpen bool) float64 {
	sorted := append([]record.Event(nil), events...)
	record.SortOldestFirst(sorted)

	var total time.Duration
	var start time.Time
	open := false
	for _, e := range sorted {
		switch e.Kind {
		case record.KindEntry:
			start, open = e.Timestamp, true
		case record.KindExit:
			if open {
				if d := e.Timestamp.Sub(start); d > 0 {
					total += d
				}
				open = false
			}
		}
	}
	if open && includeOpen {
		if d := now.Sub(start); d > 0 {
			total += d
		}
	}
	return math.Round(total.Hours()*100) / 100
}
