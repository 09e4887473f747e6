package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivacius/asistenciacampo/internal/record"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func ev(id string, kind record.Kind, hour, minute int) record.Event {
	return record.Event{ID: id, UserID: "u-1", Date: "2026-03-02", Kind: kind, Timestamp: at(hour, minute)}
}

func TestOpenSession(t *testing.T) {
	tests := []struct {
		name   string
		events []record.Event
		want   string
	}{
		{name: "empty day"},
		{name: "single entry", events: []record.Event{ev("a", record.KindEntry, 8, 0)}, want: "a"},
		{
			name:   "closed session",
			events: []record.Event{ev("b", record.KindExit, 12, 0), ev("a", record.KindEntry, 8, 0)},
		},
		{
			name: "second session open, unordered input",
			events: []record.Event{
				ev("c", record.KindEntry, 13, 0),
				ev("a", record.KindEntry, 8, 0),
				ev("b", record.KindExit, 12, 0),
			},
			want: "c",
		},
		{
			name:   "double entry keeps the latest",
			events: []record.Event{ev("a", record.KindEntry, 8, 0), ev("b", record.KindEntry, 9, 0)},
			want:   "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, ok := OpenSession(tt.events)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, open.ID)
			if ok {
				assert.Equal(t, StateSessionOpen, Derive(tt.events))
			} else {
				assert.Equal(t, StateNoSession, Derive(tt.events))
			}
		})
	}
}

func TestCheckTransition(t *testing.T) {
	entry := ev("a", record.KindEntry, 8, 0)
	exit := ev("b", record.KindExit, 12, 0)

	tests := []struct {
		name         string
		events       []record.Event
		kind         record.Kind
		inconsistent bool
		note         string
	}{
		{name: "entry on empty day", kind: record.KindEntry},
		{name: "exit on empty day", kind: record.KindExit, inconsistent: true, note: NoteExitWithoutEntry},
		{name: "exit after entry", events: []record.Event{entry}, kind: record.KindExit},
		{name: "entry while open", events: []record.Event{entry}, kind: record.KindEntry, inconsistent: true, note: NoteEntryWithoutExit},
		{name: "exit after exit", events: []record.Event{exit, entry}, kind: record.KindExit, inconsistent: true, note: NoteExitWithoutEntry},
		{name: "entry after exit", events: []record.Event{entry, exit}, kind: record.KindEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inconsistent, note := CheckTransition(tt.events, tt.kind)
			assert.Equal(t, tt.inconsistent, inconsistent)
			assert.Equal(t, tt.note, note)
		})
	}
}

func TestCanExit(t *testing.T) {
	rules := DefaultRules()
	entry := ev("a", record.KindEntry, 8, 0)

	assert.NoError(t, rules.CanExit(nil, nil), "exit without session is flagged, not refused")
	assert.ErrorIs(t, rules.CanExit([]record.Event{entry}, nil), ErrFollowUpRequired)

	optionalOnly := []record.FollowUp{{SessionID: "a", Slot: record.SlotOptional}}
	assert.ErrorIs(t, rules.CanExit([]record.Event{entry}, optionalOnly), ErrFollowUpRequired)

	otherSession := []record.FollowUp{{SessionID: "old", Slot: record.SlotMandatory}}
	assert.ErrorIs(t, rules.CanExit([]record.Event{entry}, otherSession), ErrFollowUpRequired)

	done := []record.FollowUp{{SessionID: "a", Slot: record.SlotMandatory}}
	assert.NoError(t, rules.CanExit([]record.Event{entry}, done))
}

func TestCanFollowUp(t *testing.T) {
	rules := DefaultRules()
	events := []record.Event{ev("a", record.KindEntry, 8, 0)}
	slot1 := []record.FollowUp{{SessionID: "a", Slot: record.SlotMandatory}}

	_, err := rules.CanFollowUp(nil, nil, "", record.SlotMandatory, at(12, 0))
	assert.ErrorIs(t, err, ErrNoOpenSession)

	_, err = rules.CanFollowUp(events, nil, "zzz", record.SlotMandatory, at(12, 0))
	assert.ErrorIs(t, err, ErrSessionMismatch)

	_, err = rules.CanFollowUp(events, nil, "", record.SlotMandatory, at(10, 45))
	require.ErrorIs(t, err, ErrDwellNotElapsed)
	assert.Contains(t, err.Error(), "0h 15m")

	open, err := rules.CanFollowUp(events, nil, "a", record.SlotMandatory, at(11, 0))
	require.NoError(t, err)
	assert.Equal(t, "a", open.ID)

	_, err = rules.CanFollowUp(events, nil, "", record.SlotOptional, at(11, 0))
	assert.ErrorIs(t, err, ErrFollowUpOutOfOrder)

	_, err = rules.CanFollowUp(events, slot1, "", record.SlotOptional, at(11, 5))
	assert.NoError(t, err)

	_, err = rules.CanFollowUp(events, slot1, "", record.Slot(3), at(11, 5))
	assert.Error(t, err)
}

func TestDwellRemaining(t *testing.T) {
	rules := Rules{MinDwell: 3 * time.Hour}
	entry := ev("a", record.KindEntry, 8, 0)

	assert.Equal(t, 3*time.Hour, rules.DwellRemaining(entry, at(8, 0)))
	assert.Equal(t, 45*time.Minute, rules.DwellRemaining(entry, at(10, 15)))
	assert.Zero(t, rules.DwellRemaining(entry, at(13, 0)))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "2h 15m", FormatRemaining(2*time.Hour+15*time.Minute))
	assert.Equal(t, "0h 1m", FormatRemaining(10*time.Second))
	assert.Equal(t, "1h 0m", FormatRemaining(59*time.Minute+30*time.Second))
}

func TestHoursWorked(t *testing.T) {
	now := at(18, 0)

	tests := []struct {
		name        string
		events      []record.Event
		includeOpen bool
		want        float64
	}{
		{name: "empty", want: 0},
		{
			name:   "single pair",
			events: []record.Event{ev("b", record.KindExit, 12, 30), ev("a", record.KindEntry, 8, 0)},
			want:   4.5,
		},
		{
			name: "two pairs sum",
			events: []record.Event{
				ev("a", record.KindEntry, 8, 0),
				ev("b", record.KindExit, 12, 0),
				ev("c", record.KindEntry, 13, 0),
				ev("d", record.KindExit, 15, 20),
			},
			want: 6.33,
		},
		{
			name:   "open entry ignored by default",
			events: []record.Event{ev("a", record.KindEntry, 8, 0), ev("b", record.KindExit, 12, 0), ev("c", record.KindEntry, 16, 0)},
			want:   4,
		},
		{
			name:        "open entry counted up to now",
			events:      []record.Event{ev("a", record.KindEntry, 8, 0), ev("b", record.KindExit, 12, 0), ev("c", record.KindEntry, 16, 0)},
			includeOpen: true,
			want:        6,
		},
		{
			name:   "exit without entry contributes nothing",
			events: []record.Event{ev("x", record.KindExit, 7, 0), ev("a", record.KindEntry, 8, 0), ev("b", record.KindExit, 9, 0)},
			want:   1,
		},
		{
			name:   "second entry restarts the session",
			events: []record.Event{ev("a", record.KindEntry, 8, 0), ev("b", record.KindEntry, 10, 0), ev("c", record.KindExit, 11, 0)},
			want:   1,
		},
		{
			name: "zero-length interval",
			events: []record.Event{
				{ID: "a", Kind: record.KindEntry, Timestamp: at(9, 0)},
				{ID: "b", Kind: record.KindExit, Timestamp: at(9, 0)},
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HoursWorked(tt.events, now, tt.includeOpen), 0.001)
		})
	}
}
