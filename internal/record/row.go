package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Row keys shared by every backend. Values produced by the To*Row functions
// are plain Go values (string, float64, bool, int, time.Time, nil); the
// From*Row functions also accept the shapes produced by JSON decoding and by
// database drivers (float64 for numbers, RFC 3339 strings for times).

// EventToRow converts an event into a remote attendance row.
// The photo blob is never part of a row.
func EventToRow(e Event) map[string]any {
	row := map[string]any{
		"id":                 e.ID,
		"user_id":            e.UserID,
		"date":               e.Date,
		"kind":               e.Kind.String(),
		"timestamp":          e.Timestamp.UTC(),
		"latitude":           nil,
		"longitude":          nil,
		"accuracy_m":         nil,
		"zone_code":          nil,
		"zone_name":          nil,
		"zone_status":        e.ZoneStatus.String(),
		"photo_url":          nullString(e.PhotoURL),
		"inconsistent":       e.Inconsistent,
		"inconsistency_note": nullString(e.Note),
	}
	putCoord(row, e.Coord)
	putZone(row, e.Zone)
	return row
}

// EventFromRow decodes a remote attendance row. The result is confirmed.
func EventFromRow(row map[string]any) (Event, error) {
	var e Event
	var err error

	if e.ID, err = rowString(row, "id"); err != nil {
		return Event{}, err
	}
	if e.UserID, err = rowString(row, "user_id"); err != nil {
		return Event{}, err
	}
	if e.Date, err = rowString(row, "date"); err != nil {
		return Event{}, err
	}
	kind, err := rowString(row, "kind")
	if err != nil {
		return Event{}, err
	}
	if e.Kind, err = ParseKind(kind); err != nil {
		return Event{}, err
	}
	if e.Timestamp, err = rowTime(row, "timestamp"); err != nil {
		return Event{}, err
	}
	if e.Coord, err = rowCoord(row); err != nil {
		return Event{}, err
	}
	if e.Zone, err = rowZone(row); err != nil {
		return Event{}, err
	}
	status, err := rowString(row, "zone_status")
	if err != nil {
		return Event{}, err
	}
	if e.ZoneStatus, err = ParseZoneStatus(status); err != nil {
		return Event{}, err
	}
	if e.PhotoURL, err = rowString(row, "photo_url"); err != nil {
		return Event{}, err
	}
	if e.Inconsistent, err = rowBool(row, "inconsistent"); err != nil {
		return Event{}, err
	}
	if e.Note, err = rowString(row, "inconsistency_note"); err != nil {
		return Event{}, err
	}
	e.State = StateConfirmed
	return e, nil
}

// FollowUpToRow converts a follow-up into a remote evidence row.
func FollowUpToRow(f FollowUp) map[string]any {
	return map[string]any{
		"session_id": f.SessionID,
		"slot":       int(f.Slot),
		"user_id":    f.UserID,
		"date":       f.Date,
		"timestamp":  f.Timestamp.UTC(),
		"photo_url":  nullString(f.PhotoURL),
	}
}

// FollowUpFromRow decodes a remote evidence row. The result is confirmed.
func FollowUpFromRow(row map[string]any) (FollowUp, error) {
	var f FollowUp
	var err error

	if f.SessionID, err = rowString(row, "session_id"); err != nil {
		return FollowUp{}, err
	}
	n, err := rowInt(row, "slot")
	if err != nil {
		return FollowUp{}, err
	}
	if f.Slot, err = ParseSlot(n); err != nil {
		return FollowUp{}, err
	}
	if f.UserID, err = rowString(row, "user_id"); err != nil {
		return FollowUp{}, err
	}
	if f.Date, err = rowString(row, "date"); err != nil {
		return FollowUp{}, err
	}
	if f.Timestamp, err = rowTime(row, "timestamp"); err != nil {
		return FollowUp{}, err
	}
	if f.PhotoURL, err = rowString(row, "photo_url"); err != nil {
		return FollowUp{}, err
	}
	f.State = StateConfirmed
	return f, nil
}

// LocationToRow converts a location sample into a remote row.
func LocationToRow(l LocationSample) map[string]any {
	row := map[string]any{
		"id":          l.ID,
		"user_id":     l.UserID,
		"timestamp":   l.Timestamp.UTC(),
		"zone_code":   nil,
		"zone_name":   nil,
		"zone_status": l.ZoneStatus.String(),
		"origin":      l.Origin.String(),
	}
	coord := l.Coord
	putCoord(row, &coord)
	putZone(row, l.Zone)
	return row
}

// LocationFromRow decodes a remote location row. The result is confirmed.
func LocationFromRow(row map[string]any) (LocationSample, error) {
	var l LocationSample
	var err error

	if l.ID, err = rowString(row, "id"); err != nil {
		return LocationSample{}, err
	}
	if l.UserID, err = rowString(row, "user_id"); err != nil {
		return LocationSample{}, err
	}
	if l.Timestamp, err = rowTime(row, "timestamp"); err != nil {
		return LocationSample{}, err
	}
	coord, err := rowCoord(row)
	if err != nil {
		return LocationSample{}, err
	}
	if coord == nil {
		return LocationSample{}, fmt.Errorf("location row %s: missing coordinate", l.ID)
	}
	l.Coord = *coord
	if l.Zone, err = rowZone(row); err != nil {
		return LocationSample{}, err
	}
	status, err := rowString(row, "zone_status")
	if err != nil {
		return LocationSample{}, err
	}
	if l.ZoneStatus, err = ParseZoneStatus(status); err != nil {
		return LocationSample{}, err
	}
	origin, err := rowString(row, "origin")
	if err != nil {
		return LocationSample{}, err
	}
	if l.Origin, err = ParseOrigin(origin); err != nil {
		return LocationSample{}, err
	}
	l.State = StateConfirmed
	return l, nil
}

func putCoord(row map[string]any, c *Coordinate) {
	if c == nil {
		return
	}
	row["latitude"] = c.Lat
	row["longitude"] = c.Lon
	row["accuracy_m"] = c.AccuracyM
}

func putZone(row map[string]any, z *Zone) {
	if z == nil {
		return
	}
	row["zone_code"] = z.Code
	row["zone_name"] = z.Name
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rowCoord(row map[string]any) (*Coordinate, error) {
	lat, okLat, err := rowFloat(row, "latitude")
	if err != nil {
		return nil, err
	}
	lon, okLon, err := rowFloat(row, "longitude")
	if err != nil {
		return nil, err
	}
	if !okLat || !okLon {
		return nil, nil
	}
	acc, _, err := rowFloat(row, "accuracy_m")
	if err != nil {
		return nil, err
	}
	return &Coordinate{Lat: lat, Lon: lon, AccuracyM: acc}, nil
}

func rowZone(row map[string]any) (*Zone, error) {
	code, err := rowString(row, "zone_code")
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, nil
	}
	name, err := rowString(row, "zone_name")
	if err != nil {
		return nil, err
	}
	return &Zone{Code: code, Name: name}, nil
}

// rowString returns "" for missing or null values.
func rowString(row map[string]any, key string) (string, error) {
	switch v := row[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("row field %q: expected string, got %T", key, v)
	}
}

func rowBool(row map[string]any, key string) (bool, error) {
	switch v := row[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("row field %q: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("row field %q: expected bool, got %T", key, v)
	}
}

// rowFloat reports ok=false for missing or null values.
func rowFloat(row map[string]any, key string) (float64, bool, error) {
	switch v := row[key].(type) {
	case nil:
		return 0, false, nil
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int32:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("row field %q: %w", key, err)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("row field %q: expected number, got %T", key, v)
	}
}

func rowInt(row map[string]any, key string) (int, error) {
	switch v := row[key].(type) {
	case int:
		return v, nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("row field %q: %w", key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("row field %q: expected integer, got %T", key, v)
	}
}

func rowTime(row map[string]any, key string) (time.Time, error) {
	switch v := row[key].(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("row field %q: %w", key, err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("row field %q: expected timestamp, got %T", key, v)
	}
}
