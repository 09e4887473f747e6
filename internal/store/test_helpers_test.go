package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/vivacius/asistenciacampo/internal/record"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// createTestStore opens a fresh store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// at returns a timestamp on the test day.
func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// createTestEvent creates a queued event with minimal required fields.
func createTestEvent(id, userID string, kind record.Kind, ts time.Time) record.Event {
	return record.Event{
		ID:        id,
		UserID:    userID,
		Date:      ts.Format(record.DateLayout),
		Kind:      kind,
		Timestamp: ts,
		PhotoBlob: []byte("jpeg:" + id),
		State:     record.StateQueued,
	}
}

func createTestFollowUp(sessionID string, slot record.Slot, ts time.Time) record.FollowUp {
	return record.FollowUp{
		SessionID: sessionID,
		Slot:      slot,
		UserID:    "u-1",
		Date:      ts.Format(record.DateLayout),
		Timestamp: ts,
		PhotoBlob: []byte("jpeg:followup"),
		State:     record.StateQueued,
	}
}

func createTestLocation(id string, ts time.Time) record.LocationSample {
	return record.LocationSample{
		ID:        id,
		UserID:    "u-1",
		Timestamp: ts,
		Coord:     record.Coordinate{Lat: 4.6, Lon: -74.1, AccuracyM: 8},
		Origin:    record.OriginPeriodic,
		State:     record.StateQueued,
	}
}

func eventIDs(events []record.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
