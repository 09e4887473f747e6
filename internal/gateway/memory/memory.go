// Package memory is an in-process Gateway for tests and scenario runs.
//
// It enforces the same uniqueness keys as the real backends and supports
// failure injection per operation, so callers can exercise duplicate,
// outage and partial-failure paths deterministically.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/query"
	"github.com/vivacius/asistenciacampo/internal/geofence"
	"github.com/vivacius/asistenciacampo/internal/record"
)

// Op names a gateway operation for failure injection and call counting.
type Op string

const (
	OpInsert  Op = "insert"
	OpUpload  Op = "upload"
	OpQuery   Op = "query"
	OpResolve Op = "resolve"
)

// Gateway stores rows and blobs in maps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Gateway struct {
	mu      sync.Mutex
	rows    map[gateway.Table][]gateway.Row
	keys    map[gateway.Table]map[string]bool
	blobs   map[string][]byte
	zones   []geofence.Zone
	baseURL string

	failures map[Op]error
	failOnce map[Op]error
	calls    map[Op]int
	onInsert func(gateway.Table, gateway.Row)
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates an empty gateway resolving against zones.
func New(zones ...geofence.Zone) *Gateway {
	return &Gateway{
		rows:     make(map[gateway.Table][]gateway.Row),
		keys:     make(map[gateway.Table]map[string]bool),
		blobs:    make(map[string][]byte),
		zones:    zones,
		baseURL:  "mem://blobs/",
		failures: make(map[Op]error),
		failOnce: make(map[Op]error),
		calls:    make(map[Op]int),
	}
}

// Fail makes every later call of op return err until cleared with a nil err.
func (g *Gateway) Fail(op Op, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, op)
		return
	}
	g.failures[op] = err
}

// FailNext makes only the next call of op return err.
func (g *Gateway) FailNext(op Op, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failOnce[op] = err
}

// OnInsert registers a hook run after every successful insert.
func (g *Gateway) OnInsert(fn func(gateway.Table, gateway.Row)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onInsert = fn
}

// Calls returns how many times op was invoked, failures included.
func (g *Gateway) Calls(op Op) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Rows returns a copy of every row in table, in insertion order.
func (g *Gateway) Rows(table gateway.Table) []gateway.Row {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gateway.Row, 0, len(g.rows[table]))
	for _, r := range g.rows[table] {
		out = append(out, maps.Clone(r))
	}
	return out
}

// Blob returns an uploaded object.
func (g *Gateway) Blob(path string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.blobs[path]
	return b, ok
}

// begin counts the call and returns any injected failure. Caller holds mu.
func (g *Gateway) begin(op Op) error {
	g.calls[op]++
	if err, ok := g.failOnce[op]; ok {
		delete(g.failOnce, op)
		return err
	}
	return g.failures[op]
}

// InsertRecord stores row unless its key exists.
func (g *Gateway) InsertRecord(ctx context.Context, table gateway.Table, row gateway.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	if err := g.begin(OpInsert); err != nil {
		g.mu.Unlock()
		return err
	}
	if err := table.Validate(row); err != nil {
		g.mu.Unlock()
		return err
	}
	key, _ := table.Key(row)
	if g.keys[table] == nil {
		g.keys[table] = make(map[string]bool)
	}
	if g.keys[table][key] {
		g.mu.Unlock()
		return fmt.Errorf("insert %s %s: %w", table, key, gateway.ErrDuplicateKey)
	}
	stored := maps.Clone(row)
	g.keys[table][key] = true
	g.rows[table] = append(g.rows[table], stored)
	hook := g.onInsert
	g.mu.Unlock()

	if hook != nil {
		hook(table, maps.Clone(stored))
	}
	return nil
}

// UploadBlob stores data, overwriting any previous object at path.
func (g *Gateway) UploadBlob(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(OpUpload); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("upload: empty path")
	}
	g.blobs[path] = append([]byte(nil), data...)
	return g.baseURL + path, nil
}

// QueryRecords evaluates q over the stored rows.
func (g *Gateway) QueryRecords(ctx context.Context, table gateway.Table, q query.Query) ([]gateway.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(OpQuery); err != nil {
		return nil, err
	}
	if _, err := gateway.ParseTable(string(table)); err != nil {
		return nil, err
	}
	if err := q.Validate(table.Columns()); err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	out, err := query.Apply(g.rows[table], q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	for i, r := range out {
		out[i] = maps.Clone(r)
	}
	return out, nil
}

// ResolveZone looks the point up in the configured zones.
func (g *Gateway) ResolveZone(ctx context.Context, lat, lon float64) (*record.Zone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(OpResolve); err != nil {
		return nil, err
	}
	return geofence.Resolve(g.zones, lat, lon), nil
}
