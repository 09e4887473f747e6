// Package gateway defines the contract of the remote data service the
// attendance client talks to: inserts with uniqueness-conflict detection,
// blob upload, filtered queries and point-to-zone resolution.
//
// Implementations live in the subpackages: postgres (server side), httpapi
// (HTTP front for any Gateway), httpclient (the client's view of httpapi)
// and memory (tests and scenarios).
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/vivacius/asistenciacampo/internal/gateway/query"
	"github.com/vivacius/asistenciacampo/internal/record"
)

// ErrDuplicateKey reports that a row with the same key already exists.
// Callers syncing queued writes treat it as success.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrUnknownTable is returned for tables outside the contract.
var ErrUnknownTable = errors.New("unknown table")

// Row is one record as exchanged with the gateway.
type Row = map[string]any

// Gateway is the remote data service.
//
// Every method may block on the network; implementations honor ctx.
type Gateway interface {
	// InsertRecord inserts row with its client-supplied key. A key that
	// already exists yields an error wrapping ErrDuplicateKey.
	InsertRecord(ctx context.Context, table Table, row Row) error

	// UploadBlob stores data at path, overwriting any previous object, and
	// returns a URL the data can be retrieved from.
	UploadBlob(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// QueryRecords returns the rows of table matching q.
	QueryRecords(ctx context.Context, table Table, q query.Query) ([]Row, error)

	// ResolveZone returns the zone containing the point, or nil if none does.
	ResolveZone(ctx context.Context, lat, lon float64) (*record.Zone, error)
}

// IsDuplicate reports whether err is a uniqueness conflict.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// Table names a remote record collection.
type Table string

const (
	TableAttendance Table = "attendance_records"
	TableFollowUps  Table = "followup_photos"
	TableLocations  Table = "location_samples"
)

// Tables lists every table in the contract.
var Tables = []Table{TableAttendance, TableFollowUps, TableLocations}

var tableColumns = map[Table][]string{
	TableAttendance: {
		"id", "user_id", "date", "kind", "timestamp",
		"latitude", "longitude", "accuracy_m",
		"zone_code", "zone_name", "zone_status",
		"photo_url", "inconsistent", "inconsistency_note",
	},
	TableFollowUps: {
		"session_id", "slot", "user_id", "date", "timestamp", "photo_url",
	},
	TableLocations: {
		"id", "user_id", "timestamp",
		"latitude", "longitude", "accuracy_m",
		"zone_code", "zone_name", "zone_status", "origin",
	},
}

var tableKeys = map[Table][]string{
	TableAttendance: {"id"},
	TableFollowUps:  {"session_id", "slot"},
	TableLocations:  {"id"},
}

// ParseTable validates a table name.
func ParseTable(s string) (Table, error) {
	t := Table(s)
	if _, ok := tableColumns[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
	}
	return t, nil
}

// Columns returns the column names of t in a fixed order.
func (t Table) Columns() []string {
	return tableColumns[t]
}

// KeyColumns returns the columns forming the unique key of t.
func (t Table) KeyColumns() []string {
	return tableKeys[t]
}

// Key renders the unique key of row in t, e.g. "evt-1" or "evt-1#1".
func (t Table) Key(row Row) (string, error) {
	cols := tableKeys[t]
	if len(cols) == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, string(t))
	}
	key := ""
	for i, col := range cols {
		v, ok := row[col]
		if !ok || v == nil {
			return "", fmt.Errorf("%s: missing key column %q", t, col)
		}
		if i > 0 {
			key += "#"
		}
		key += keyPart(v)
	}
	return key, nil
}

func keyPart(v any) string {
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("%d", int64(n))
	case float32:
		return fmt.Sprintf("%d", int64(n))
	default:
		return fmt.Sprint(v)
	}
}

// Validate checks that row only carries known columns and has its key.
func (t Table) Validate(row Row) error {
	cols, ok := tableColumns[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, string(t))
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}
	for k := range row {
		if !known[k] {
			return fmt.Errorf("%s: unknown column %q", t, k)
		}
	}
	_, err := t.Key(row)
	return err
}
