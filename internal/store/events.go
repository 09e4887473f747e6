package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vivacius/asistenciacampo/internal/record"
)

const eventColumns = `id, user_id, date, kind, timestamp, latitude, longitude, accuracy_m,
	zone_code, zone_name, zone_status, photo_url, photo_blob, inconsistent, inconsistency_note`

// PutEvent queues an attendance event, keyed by id.
//
// Putting an id that is already queued replaces the stored copy and keeps
// its retry bookkeeping, so a resubmission never duplicates the event.
func (s *Store) PutEvent(ctx context.Context, e record.Event) error {
	if err := validateEvent(e); err != nil {
		return fmt.Errorf("put event: %w", err)
	}

	lat, lon, acc := coordArgs(e.Coord)
	zoneCode, zoneName := zoneArgs(e.Zone)

	return s.do(ctx, "store.put_event", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO queued_attendance (`+eventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				date = excluded.date,
				kind = excluded.kind,
				timestamp = excluded.timestamp,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				accuracy_m = excluded.accuracy_m,
				zone_code = excluded.zone_code,
				zone_name = excluded.zone_name,
				zone_status = excluded.zone_status,
				photo_url = excluded.photo_url,
				photo_blob = excluded.photo_blob,
				inconsistent = excluded.inconsistent,
				inconsistency_note = excluded.inconsistency_note
		`,
			e.ID,
			e.UserID,
			e.Date,
			e.Kind.String(),
			formatTime(e.Timestamp),
			lat, lon, acc,
			zoneCode, zoneName,
			e.ZoneStatus.String(),
			nullText(e.PhotoURL),
			nullBlob(e.PhotoBlob),
			e.Inconsistent,
			nullText(e.Note),
		)
		if err != nil {
			return fmt.Errorf("put event %s: %w", e.ID, err)
		}
		return nil
	})
}

// ListEvents returns the queued events of one user on one date, newest first.
//
// The lookup goes through the (user_id, date) index. If that index is
// missing it falls back to a full scan filtered in memory instead of failing.
func (s *Store) ListEvents(ctx context.Context, userID, date string) ([]record.Event, error) {
	var events []record.Event
	err := s.do(ctx, "store.list_events", func(db *sql.DB) error {
		var err error
		events, err = queryEvents(ctx, db, `
			SELECT `+eventColumns+`
			FROM queued_attendance INDEXED BY idx_queued_attendance_user_date
			WHERE user_id = ? AND date = ?
			ORDER BY timestamp DESC, id DESC
		`, userID, date)
		if !isMissingIndex(err) {
			return err
		}

		s.logger.Warn("secondary index missing, scanning queued attendance",
			"index", "idx_queued_attendance_user_date")

		all, err := queryEvents(ctx, db, `SELECT `+eventColumns+` FROM queued_attendance`)
		if err != nil {
			return err
		}
		events = []record.Event{}
		for _, e := range all {
			if e.UserID == userID && e.Date == date {
				events = append(events, e)
			}
		}
		record.SortNewestFirst(events)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListAllEvents returns every queued event, oldest first.
func (s *Store) ListAllEvents(ctx context.Context) ([]record.Event, error) {
	var events []record.Event
	err := s.do(ctx, "store.list_all_events", func(db *sql.DB) error {
		var err error
		events, err = queryEvents(ctx, db, `
			SELECT `+eventColumns+`
			FROM queued_attendance
			ORDER BY timestamp ASC, id ASC
		`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvent returns one queued event. ok is false if the id is not queued.
func (s *Store) GetEvent(ctx context.Context, id string) (e record.Event, ok bool, err error) {
	err = s.do(ctx, "store.get_event", func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM queued_attendance WHERE id = ?`, id)
		var scanErr error
		e, scanErr = scanEvent(row)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			return nil
		case scanErr != nil:
			return scanErr
		}
		ok = true
		return nil
	})
	return e, ok, err
}

// DeleteEvent removes a queued event. Deleting an unknown id is not an error.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.do(ctx, "store.delete_event", func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM queued_attendance WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete event %s: %w", id, err)
		}
		return nil
	})
}

func queryEvents(ctx context.Context, db *sql.DB, query string, args ...any) ([]record.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []record.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEvent scans a row into a queued Event.
func scanEvent(sc scanner) (record.Event, error) {
	var (
		e                  record.Event
		kind, ts, status   string
		lat, lon, acc      sql.NullFloat64
		zoneCode, zoneName sql.NullString
		photoURL, note     sql.NullString
		blob               []byte
	)

	if err := sc.Scan(
		&e.ID, &e.UserID, &e.Date, &kind, &ts,
		&lat, &lon, &acc,
		&zoneCode, &zoneName, &status,
		&photoURL, &blob, &e.Inconsistent, &note,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Event{}, err
		}
		return record.Event{}, fmt.Errorf("scan event: %w", err)
	}

	var err error
	if e.Kind, err = record.ParseKind(kind); err != nil {
		return record.Event{}, fmt.Errorf("scan event %s: %w", e.ID, err)
	}
	if e.Timestamp, err = parseTime(ts); err != nil {
		return record.Event{}, fmt.Errorf("scan event %s: %w", e.ID, err)
	}
	if e.ZoneStatus, err = record.ParseZoneStatus(status); err != nil {
		return record.Event{}, fmt.Errorf("scan event %s: %w", e.ID, err)
	}
	e.Coord = scanCoord(lat, lon, acc)
	e.Zone = scanZone(zoneCode, zoneName)
	e.PhotoURL = photoURL.String
	e.PhotoBlob = blob
	e.Note = note.String
	e.State = record.StateQueued
	return e, nil
}

func validateEvent(e record.Event) error {
	switch {
	case e.ID == "":
		return errors.New("missing id")
	case e.UserID == "":
		return errors.New("missing user id")
	case e.Date == "":
		return errors.New("missing date")
	case !e.Kind.Valid():
		return fmt.Errorf("invalid kind %d", int(e.Kind))
	case e.Timestamp.IsZero():
		return errors.New("missing timestamp")
	}
	return nil
}
