package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vivacius/asistenciacampo/internal/record"
)

// Snapshot is the last-known-good confirmed data for one (user, date). It
// lets the daily view keep showing just-confirmed events after the device
// goes offline.
type Snapshot struct {
	UserID    string
	Date      string
	Events    []record.Event
	FollowUps []record.FollowUp
	SavedAt   time.Time
}

type snapshotPayload struct {
	Events    []record.Event    `json:"events"`
	FollowUps []record.FollowUp `json:"followups"`
}

// SaveSnapshot replaces the cached snapshot for (snap.UserID, snap.Date).
// Photo blobs are never cached and every entry is stored as confirmed.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.UserID == "" || snap.Date == "" {
		return errors.New("save snapshot: missing user id or date")
	}

	payload := snapshotPayload{
		Events:    make([]record.Event, 0, len(snap.Events)),
		FollowUps: make([]record.FollowUp, 0, len(snap.FollowUps)),
	}
	for _, e := range snap.Events {
		e.PhotoBlob = nil
		e.Timestamp = e.Timestamp.UTC()
		e.State = record.StateConfirmed
		payload.Events = append(payload.Events, e)
	}
	for _, f := range snap.FollowUps {
		f.PhotoBlob = nil
		f.Timestamp = f.Timestamp.UTC()
		f.State = record.StateConfirmed
		payload.FollowUps = append(payload.FollowUps, f)
	}

	data, err := marshalSnapshot(payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return s.do(ctx, "store.save_snapshot", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO confirmed_snapshots (user_id, date, payload, saved_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, date) DO UPDATE SET
				payload = excluded.payload,
				saved_at = excluded.saved_at
		`, snap.UserID, snap.Date, data, formatTime(snap.SavedAt))
		if err != nil {
			return fmt.Errorf("save snapshot %s/%s: %w", snap.UserID, snap.Date, err)
		}
		return nil
	})
}

// LoadSnapshot returns the cached snapshot for (userID, date). ok is false
// when nothing is cached. An unreadable payload is treated as a miss.
func (s *Store) LoadSnapshot(ctx context.Context, userID, date string) (snap Snapshot, ok bool, err error) {
	var data, savedAt string
	err = s.do(ctx, "store.load_snapshot", func(db *sql.DB) error {
		scanErr := db.QueryRowContext(ctx, `
			SELECT payload, saved_at FROM confirmed_snapshots
			WHERE user_id = ? AND date = ?
		`, userID, date).Scan(&data, &savedAt)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			return nil
		case scanErr != nil:
			return fmt.Errorf("load snapshot %s/%s: %w", userID, date, scanErr)
		}
		ok = true
		return nil
	})
	if err != nil || !ok {
		return Snapshot{}, false, err
	}

	payload, perr := unmarshalSnapshot(data)
	if perr != nil {
		s.logger.Warn("discarding unreadable snapshot", "user_id", userID, "date", date, "error", perr)
		return Snapshot{}, false, nil
	}
	saved, _ := parseTime(savedAt)

	return Snapshot{
		UserID:    userID,
		Date:      date,
		Events:    payload.Events,
		FollowUps: payload.FollowUps,
		SavedAt:   saved,
	}, true, nil
}
