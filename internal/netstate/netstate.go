// Package netstate holds the shared connectivity signal.
//
// The signal is eventually consistent: it may flip between the start and
// the end of an operation, so callers read it once per decision and must
// tolerate the network failing anyway.
package netstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vivacius/asistenciacampo/internal/clock"
)

// Source reports the current connectivity.
type Source interface {
	Online() bool
}

// Monitor is a Source that can be set and observed.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

var _ Source = (*Monitor)(nil)

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online: online,
		subs:   make(map[chan bool]struct{}),
	}
}

// Online returns the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the state and reports whether it changed. Subscribers are
// notified of changes only.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online
	for ch := range m.subs {
		offerLatest(ch, online)
	}
	return true
}

// Subscribe returns a channel receiving each transition. A slow subscriber
// only sees the most recent state. cancel releases the subscription.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 1)
	m.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, ch)
		})
	}
	return ch, cancel
}

// offerLatest replaces any undelivered value with v.
func offerLatest(ch chan bool, v bool) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// PingFunc checks reachability of the remote service.
type PingFunc func(ctx context.Context) error

// Prober updates a Monitor by pinging on every clock tick.
type Prober struct {
	monitor  *Monitor
	ping     PingFunc
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProber creates a prober. Each ping is bounded by timeout.
func NewProber(m *Monitor, ping PingFunc, clk clock.Clock, interval, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		monitor:  m,
		ping:     ping,
		clock:    clk,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Probe pings once and records the outcome.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.ping(ctx)
	online := err == nil
	if p.monitor.Set(online) {
		if online {
			p.logger.Info("connectivity regained")
		} else {
			p.logger.Warn("connectivity lost", "error", err)
		}
	}
	return online
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			p.Probe(ctx)
		}
	}
}
