package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vivacius/asistenciacampo/internal/record"
)

const followUpColumns = `session_id, slot, user_id, date, timestamp, photo_url, photo_blob`

// PutFollowUp queues an evidence photo. A later put for the same
// (session, slot) supersedes the earlier placeholder.
func (s *Store) PutFollowUp(ctx context.Context, f record.FollowUp) error {
	if err := validateFollowUp(f); err != nil {
		return fmt.Errorf("put follow-up: %w", err)
	}

	return s.do(ctx, "store.put_followup", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO queued_followups (`+followUpColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, slot) DO UPDATE SET
				user_id = excluded.user_id,
				date = excluded.date,
				timestamp = excluded.timestamp,
				photo_url = excluded.photo_url,
				photo_blob = excluded.photo_blob,
				attempts = 0,
				next_attempt_at = NULL,
				last_error = NULL
		`,
			f.SessionID,
			int(f.Slot),
			f.UserID,
			f.Date,
			formatTime(f.Timestamp),
			nullText(f.PhotoURL),
			nullBlob(f.PhotoBlob),
		)
		if err != nil {
			return fmt.Errorf("put follow-up %s: %w", f.Key(), err)
		}
		return nil
	})
}

// ListFollowUps returns the queued evidence of one session, by slot.
func (s *Store) ListFollowUps(ctx context.Context, sessionID string) ([]record.FollowUp, error) {
	return s.listFollowUps(ctx, "store.list_followups", `
		SELECT `+followUpColumns+` FROM queued_followups
		WHERE session_id = ?
		ORDER BY slot ASC
	`, sessionID)
}

// ListFollowUpsByUserDate returns the queued evidence of one user on one date.
func (s *Store) ListFollowUpsByUserDate(ctx context.Context, userID, date string) ([]record.FollowUp, error) {
	return s.listFollowUps(ctx, "store.list_followups", `
		SELECT `+followUpColumns+` FROM queued_followups
		WHERE user_id = ? AND date = ?
		ORDER BY timestamp ASC, session_id ASC, slot ASC
	`, userID, date)
}

// ListAllFollowUps returns every queued evidence item, oldest first.
func (s *Store) ListAllFollowUps(ctx context.Context) ([]record.FollowUp, error) {
	return s.listFollowUps(ctx, "store.list_all_followups", `
		SELECT `+followUpColumns+` FROM queued_followups
		ORDER BY timestamp ASC, session_id ASC, slot ASC
	`)
}

// DeleteFollowUp removes a queued evidence item. Idempotent.
func (s *Store) DeleteFollowUp(ctx context.Context, sessionID string, slot record.Slot) error {
	return s.do(ctx, "store.delete_followup", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM queued_followups WHERE session_id = ? AND slot = ?`,
			sessionID, int(slot))
		if err != nil {
			return fmt.Errorf("delete follow-up %s#%d: %w", sessionID, int(slot), err)
		}
		return nil
	})
}

func (s *Store) listFollowUps(ctx context.Context, op, query string, args ...any) ([]record.FollowUp, error) {
	var out []record.FollowUp
	err := s.do(ctx, op, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query follow-ups: %w", err)
		}
		defer rows.Close()

		out = []record.FollowUp{}
		for rows.Next() {
			f, err := scanFollowUp(rows)
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate follow-ups: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanFollowUp(sc scanner) (record.FollowUp, error) {
	var (
		f        record.FollowUp
		slot     int
		ts       string
		photoURL sql.NullString
		blob     []byte
	)
	if err := sc.Scan(&f.SessionID, &slot, &f.UserID, &f.Date, &ts, &photoURL, &blob); err != nil {
		return record.FollowUp{}, fmt.Errorf("scan follow-up: %w", err)
	}

	var err error
	if f.Slot, err = record.ParseSlot(slot); err != nil {
		return record.FollowUp{}, fmt.Errorf("scan follow-up %s: %w", f.SessionID, err)
	}
	if f.Timestamp, err = parseTime(ts); err != nil {
		return record.FollowUp{}, fmt.Errorf("scan follow-up %s: %w", f.SessionID, err)
	}
	f.PhotoURL = photoURL.String
	f.PhotoBlob = blob
	f.State = record.StateQueued
	return f, nil
}

func validateFollowUp(f record.FollowUp) error {
	switch {
	case f.SessionID == "":
		return errors.New("missing session id")
	case !f.Slot.Valid():
		return fmt.Errorf("invalid slot %d", int(f.Slot))
	case f.UserID == "":
		return errors.New("missing user id")
	case f.Date == "":
		return errors.New("missing date")
	case f.Timestamp.IsZero():
		return errors.New("missing timestamp")
	}
	return nil
}
