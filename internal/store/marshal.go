package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vivacius/asistenciacampo/internal/record"
)

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func coordArgs(c *record.Coordinate) (lat, lon, acc any) {
	if c == nil {
		return nil, nil, nil
	}
	return c.Lat, c.Lon, c.AccuracyM
}

func zoneArgs(z *record.Zone) (code, name any) {
	if z == nil {
		return nil, nil
	}
	return z.Code, z.Name
}

func scanCoord(lat, lon, acc sql.NullFloat64) *record.Coordinate {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &record.Coordinate{Lat: lat.Float64, Lon: lon.Float64, AccuracyM: acc.Float64}
}

func scanZone(code, name sql.NullString) *record.Zone {
	if !code.Valid || code.String == "" {
		return nil
	}
	return &record.Zone{Code: code.String, Name: name.String}
}

// marshalSnapshot encodes a snapshot payload as JSON TEXT.
// HTML escaping is disabled so stored zone names stay readable.
func marshalSnapshot(p snapshotPayload) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func unmarshalSnapshot(data string) (snapshotPayload, error) {
	var p snapshotPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return snapshotPayload{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return p, nil
}
