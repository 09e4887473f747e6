package testutil

import (
	"sync"
	"time"

	"github.com/vivacius/asistenciacampo/internal/clock"
)

// FakeClock is a manually driven clock.Clock for tests.
//
// Time only moves when Advance or Set is called. Tickers created from the
// clock fire during Advance, once per elapsed period; like time.Ticker, a
// tick is dropped if the previous one has not been received.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

var _ clock.Clock = (*FakeClock)(nil)

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps to t without firing tickers.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	for _, tk := range c.tickers {
		tk.next = t.Add(tk.period)
	}
}

// Advance moves the clock forward by d and fires every ticker whose
// deadline has passed.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	for _, tk := range c.tickers {
		if tk.stopped {
			continue
		}
		for !tk.next.After(c.now) {
			select {
			case tk.ch <- tk.next:
			default:
			}
			tk.next = tk.next.Add(tk.period)
		}
	}
}

// NewTicker creates a ticker driven by Advance.
func (c *FakeClock) NewTicker(d time.Duration) clock.Ticker {
	if d <= 0 {
		panic("testutil: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tk := &fakeTicker{
		owner:  c,
		period: d,
		next:   c.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, tk)
	return tk
}

// Tickers returns the number of live tickers. Tests use it to wait until a
// background loop has installed its ticker before advancing time.
func (c *FakeClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tk := range c.tickers {
		if !tk.stopped {
			n++
		}
	}
	return n
}

type fakeTicker struct {
	owner   *FakeClock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	t.stopped = true
}
