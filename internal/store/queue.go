package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vivacius/asistenciacampo/internal/record"
)

// Container names one of the queued-entity tables.
type Container int

const (
	ContainerAttendance Container = iota + 1
	ContainerFollowUps
	ContainerLocations
)

// String returns the container name used in logs.
func (c Container) String() string {
	switch c {
	case ContainerAttendance:
		return "attendance"
	case ContainerFollowUps:
		return "followups"
	case ContainerLocations:
		return "locations"
	default:
		return fmt.Sprintf("Container(%d)", int(c))
	}
}

// Ref addresses a single queued entity.
type Ref struct {
	Container Container
	ID        string // event or sample id; session id for follow-ups
	Slot      record.Slot
}

// EventRef addresses a queued attendance event.
func EventRef(id string) Ref { return Ref{Container: ContainerAttendance, ID: id} }

// FollowUpRef addresses a queued evidence item.
func FollowUpRef(sessionID string, slot record.Slot) Ref {
	return Ref{Container: ContainerFollowUps, ID: sessionID, Slot: slot}
}

// LocationRef addresses a queued location sample.
func LocationRef(id string) Ref { return Ref{Container: ContainerLocations, ID: id} }

// String renders the ref for logs.
func (r Ref) String() string {
	if r.Container == ContainerFollowUps {
		return fmt.Sprintf("%s/%s#%d", r.Container, r.ID, int(r.Slot))
	}
	return fmt.Sprintf("%s/%s", r.Container, r.ID)
}

func (r Ref) target() (table, where string, args []any, err error) {
	switch r.Container {
	case ContainerAttendance:
		return "queued_attendance", "id = ?", []any{r.ID}, nil
	case ContainerFollowUps:
		return "queued_followups", "session_id = ? AND slot = ?", []any{r.ID, int(r.Slot)}, nil
	case ContainerLocations:
		return "queued_locations", "id = ?", []any{r.ID}, nil
	default:
		return "", "", nil, fmt.Errorf("unknown container %d", int(r.Container))
	}
}

// Retry is the sync bookkeeping kept next to each queued entity.
type Retry struct {
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// RecordAttempt counts a failed sync attempt for ref. schedule receives the
// new attempt count and returns when the entity becomes due again; a zero
// time means immediately. An entity that is no longer queued is ignored.
func (s *Store) RecordAttempt(ctx context.Context, ref Ref, cause error, schedule func(attempts int) time.Time) (Retry, error) {
	table, where, args, err := ref.target()
	if err != nil {
		return Retry{}, fmt.Errorf("record attempt: %w", err)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var r Retry
	err = s.do(ctx, "store.record_attempt", func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("record attempt: begin tx: %w", err)
		}
		defer tx.Rollback()

		var attempts int
		err = tx.QueryRowContext(ctx, `SELECT attempts FROM `+table+` WHERE `+where, args...).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			r = Retry{}
			return nil
		}
		if err != nil {
			return fmt.Errorf("record attempt %s: %w", ref, err)
		}

		attempts++
		var next time.Time
		if schedule != nil {
			next = schedule(attempts)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE `+table+` SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE `+where,
			append([]any{attempts, nullTime(next), nullText(msg)}, args...)...)
		if err != nil {
			return fmt.Errorf("record attempt %s: %w", ref, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("record attempt %s: commit: %w", ref, err)
		}
		r = Retry{Attempts: attempts, NextAttemptAt: next, LastError: msg}
		return nil
	})
	return r, err
}

// RetryState returns the bookkeeping for ref. ok is false if it is not queued.
func (s *Store) RetryState(ctx context.Context, ref Ref) (r Retry, ok bool, err error) {
	table, where, args, err := ref.target()
	if err != nil {
		return Retry{}, false, fmt.Errorf("retry state: %w", err)
	}
	err = s.do(ctx, "store.retry_state", func(db *sql.DB) error {
		var next, last sql.NullString
		scanErr := db.QueryRowContext(ctx,
			`SELECT attempts, next_attempt_at, last_error FROM `+table+` WHERE `+where, args...,
		).Scan(&r.Attempts, &next, &last)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			return nil
		case scanErr != nil:
			return fmt.Errorf("retry state %s: %w", ref, scanErr)
		}
		if next.Valid {
			t, err := parseTime(next.String)
			if err != nil {
				return err
			}
			r.NextAttemptAt = t
		}
		r.LastError = last.String
		ok = true
		return nil
	})
	return r, ok, err
}

// MarkPhotoUploaded records the URL of an uploaded blob and drops the blob,
// so a retried sync does not upload it again.
func (s *Store) MarkPhotoUploaded(ctx context.Context, ref Ref, url string) error {
	if ref.Container == ContainerLocations {
		return errors.New("mark photo uploaded: location samples carry no photo")
	}
	table, where, args, err := ref.target()
	if err != nil {
		return fmt.Errorf("mark photo uploaded: %w", err)
	}
	return s.do(ctx, "store.mark_photo_uploaded", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE `+table+` SET photo_url = ?, photo_blob = NULL WHERE `+where,
			append([]any{url}, args...)...)
		if err != nil {
			return fmt.Errorf("mark photo uploaded %s: %w", ref, err)
		}
		return nil
	})
}

// Pending is everything queued at one instant, oldest first per container.
type Pending struct {
	Events    []record.Event
	FollowUps []record.FollowUp
	Locations []record.LocationSample
}

// Len returns the number of queued entities.
func (p Pending) Len() int {
	return len(p.Events) + len(p.FollowUps) + len(p.Locations)
}

// Pending returns queued entities that are due at dueBy. A zero dueBy
// returns everything regardless of retry schedule.
func (s *Store) Pending(ctx context.Context, dueBy time.Time) (Pending, error) {
	filter, args := "", []any(nil)
	if !dueBy.IsZero() {
		filter = ` WHERE next_attempt_at IS NULL OR next_attempt_at <= ?`
		args = []any{formatTime(dueBy)}
	}

	var p Pending
	err := s.do(ctx, "store.pending", func(db *sql.DB) error {
		var err error
		p.Events, err = queryEvents(ctx, db,
			`SELECT `+eventColumns+` FROM queued_attendance`+filter+` ORDER BY timestamp ASC, id ASC`, args...)
		if err != nil {
			return err
		}

		rows, err := db.QueryContext(ctx,
			`SELECT `+followUpColumns+` FROM queued_followups`+filter+` ORDER BY timestamp ASC, session_id ASC, slot ASC`, args...)
		if err != nil {
			return fmt.Errorf("query follow-ups: %w", err)
		}
		p.FollowUps = []record.FollowUp{}
		for rows.Next() {
			f, err := scanFollowUp(rows)
			if err != nil {
				rows.Close()
				return err
			}
			p.FollowUps = append(p.FollowUps, f)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate follow-ups: %w", err)
		}

		p.Locations, err = queryLocations(ctx, db,
			`SELECT `+locationColumns+` FROM queued_locations`+filter+` ORDER BY timestamp ASC, id ASC`, args...)
		return err
	})
	if err != nil {
		return Pending{}, err
	}
	return p, nil
}

// Counts is the number of queued entities per container.
type Counts struct {
	Events    int `json:"events"`
	FollowUps int `json:"followups"`
	Locations int `json:"locations"`
}

// Total returns the number of queued entities across containers.
func (c Counts) Total() int {
	return c.Events + c.FollowUps + c.Locations
}

// Counts returns the queued entity counts per container.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.do(ctx, "store.counts", func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM queued_attendance),
				(SELECT COUNT(*) FROM queued_followups),
				(SELECT COUNT(*) FROM queued_locations)
		`).Scan(&c.Events, &c.FollowUps, &c.Locations)
		if err != nil {
			return fmt.Errorf("count queued: %w", err)
		}
		return nil
	})
	return c, err
}

// Count returns the number of queued entities across all containers.
func (s *Store) Count(ctx context.Context) (int, error) {
	c, err := s.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return c.Total(), nil
}
