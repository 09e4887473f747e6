package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vivacius/asistenciacampo/internal/record"
)

const locationColumns = `id, user_id, timestamp, latitude, longitude, accuracy_m,
	zone_code, zone_name, zone_status, origin`

// PutLocation queues a location sample, keyed by id.
func (s *Store) PutLocation(ctx context.Context, l record.LocationSample) error {
	switch {
	case l.ID == "":
		return errors.New("put location: missing id")
	case l.UserID == "":
		return errors.New("put location: missing user id")
	case l.Timestamp.IsZero():
		return errors.New("put location: missing timestamp")
	}
	zoneCode, zoneName := zoneArgs(l.Zone)

	return s.do(ctx, "store.put_location", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO queued_locations (`+locationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				timestamp = excluded.timestamp,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				accuracy_m = excluded.accuracy_m,
				zone_code = excluded.zone_code,
				zone_name = excluded.zone_name,
				zone_status = excluded.zone_status,
				origin = excluded.origin
		`,
			l.ID,
			l.UserID,
			formatTime(l.Timestamp),
			l.Coord.Lat, l.Coord.Lon, l.Coord.AccuracyM,
			zoneCode, zoneName,
			l.ZoneStatus.String(),
			l.Origin.String(),
		)
		if err != nil {
			return fmt.Errorf("put location %s: %w", l.ID, err)
		}
		return nil
	})
}

// ListAllLocations returns every queued sample, oldest first.
func (s *Store) ListAllLocations(ctx context.Context) ([]record.LocationSample, error) {
	var out []record.LocationSample
	err := s.do(ctx, "store.list_all_locations", func(db *sql.DB) error {
		var err error
		out, err = queryLocations(ctx, db, `
			SELECT `+locationColumns+` FROM queued_locations
			ORDER BY timestamp ASC, id ASC
		`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteLocation removes a queued sample. Idempotent.
func (s *Store) DeleteLocation(ctx context.Context, id string) error {
	return s.do(ctx, "store.delete_location", func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM queued_locations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete location %s: %w", id, err)
		}
		return nil
	})
}

func queryLocations(ctx context.Context, db *sql.DB, query string, args ...any) ([]record.LocationSample, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	out := []record.LocationSample{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return out, nil
}

func scanLocation(sc scanner) (record.LocationSample, error) {
	var (
		l                  record.LocationSample
		ts, status, origin string
		zoneCode, zoneName sql.NullString
	)
	if err := sc.Scan(
		&l.ID, &l.UserID, &ts,
		&l.Coord.Lat, &l.Coord.Lon, &l.Coord.AccuracyM,
		&zoneCode, &zoneName, &status, &origin,
	); err != nil {
		return record.LocationSample{}, fmt.Errorf("scan location: %w", err)
	}

	var err error
	if l.Timestamp, err = parseTime(ts); err != nil {
		return record.LocationSample{}, fmt.Errorf("scan location %s: %w", l.ID, err)
	}
	if l.ZoneStatus, err = record.ParseZoneStatus(status); err != nil {
		return record.LocationSample{}, fmt.Errorf("scan location %s: %w", l.ID, err)
	}
	if l.Origin, err = record.ParseOrigin(origin); err != nil {
		return record.LocationSample{}, fmt.Errorf("scan location %s: %w", l.ID, err)
	}
	l.Zone = scanZone(zoneCode, zoneName)
	l.State = record.StateQueued
	return l, nil
}
