// Package clock abstracts wall-clock time so that dwell checks, sync
// intervals and tracking cadence can be driven deterministically in tests.
package clock

import "time"

// Clock supplies the current time and periodic tickers.
//
// Thread-safety: implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the production Clock backed by package time.
type System struct{}

// Now returns time.Now.
func (System) Now() time.Time {
	return time.Now()
}

// NewTicker wraps time.NewTicker.
func (System) NewTicker(d time.Duration) Ticker {
	return systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }
