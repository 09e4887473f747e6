package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vivacius/asistenciacampo/internal/clock"
	"github.com/vivacius/asistenciacampo/internal/record"
)

// Tracker takes a periodic location sample on every tick.
type Tracker struct {
	svc      *Service
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewTracker creates a tracker sampling every interval.
func NewTracker(svc *Service, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultTrackingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{svc: svc, clock: clk, interval: interval, logger: logger}
}

// Run samples until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			t.sample(ctx)
		}
	}
}

func (t *Tracker) sample(ctx context.Context) {
	res, err := t.svc.CaptureLocation(ctx, record.OriginPeriodic)
	switch {
	case err == nil:
		t.logger.Debug("periodic location stored", "id", res.Sample.ID, "queued", res.Queued)
	case errors.Is(err, ErrCaptureTooRecent), record.IsAuthRequired(err):
		t.logger.Debug("periodic location skipped", "reason", err)
	default:
		t.logger.Warn("periodic location failed", "error", err)
	}
}
