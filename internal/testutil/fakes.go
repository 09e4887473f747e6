package testutil

import (
	"context"
	"sync"

	"github.com/vivacius/asistenciacampo/internal/record"
)

// FakeCamera returns a configured photo or error.
type FakeCamera struct {
	mu    sync.Mutex
	Photo []byte
	Err   error
	calls int
}

// Capture returns Photo or Err.
func (c *FakeCamera) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.Err != nil {
		return nil, c.Err
	}
	return append([]byte(nil), c.Photo...), nil
}

// Calls returns how many captures were attempted.
func (c *FakeCamera) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// FakeLocator returns a configured fix or error. With Hang set it blocks
// until the context is done, which exercises capture timeouts.
type FakeLocator struct {
	mu    sync.Mutex
	Coord record.Coordinate
	Err   error
	Hang  bool
	calls int
}

// Locate returns Coord or Err.
func (l *FakeLocator) Locate(ctx context.Context) (record.Coordinate, error) {
	l.mu.Lock()
	l.calls++
	hang, coord, err := l.Hang, l.Coord, l.Err
	l.mu.Unlock()

	if hang {
		<-ctx.Done()
		return record.Coordinate{}, ctx.Err()
	}
	if err != nil {
		return record.Coordinate{}, err
	}
	return coord, nil
}

// SetCoord changes the fix returned by later calls.
func (l *FakeLocator) SetCoord(c record.Coordinate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Coord = c
	l.Err = nil
}

// Calls returns how many fixes were requested.
func (l *FakeLocator) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
