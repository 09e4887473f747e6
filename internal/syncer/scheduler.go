// Package syncer drains queued writes into the gateway.
//
// A run pushes every queued attendance event, follow-up and location
// sample. Each item is deleted from the local store as soon as the gateway
// accepts it (a duplicate key counts as accepted), so a concurrent run or a
// crash can at worst resend an item the gateway will reject as duplicate.
// Failed items stay queued and are retried on later runs.
//
// Runs are triggered by connectivity regained, a fixed interval while
// online, and Trigger. Only one run is active at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vivacius/asistenciacampo/internal/clock"
	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/reconcile"
	"github.com/vivacius/asistenciacampo/internal/record"
	"github.com/vivacius/asistenciacampo/internal/store"
)

// DefaultInterval is the period of scheduled runs.
const DefaultInterval = 30 * time.Second

// DefaultMaxBackoff caps the retry delay of a failing item.
const DefaultMaxBackoff = 10 * time.Minute

// ErrBusy is returned by RunOnce while another run is in progress.
var ErrBusy = errors.New("sync already running")

// Network is the connectivity signal the scheduler follows.
type Network interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Recorder is told about items confirmed by a run so the local snapshot
// keeps showing them.
type Recorder interface {
	RememberEvent(ctx context.Context, e record.Event)
	RememberFollowUp(ctx context.Context, f record.FollowUp)
}

// Result summarizes one run.
type Result struct {
	Reason   string
	Synced   int
	Failed   int
	Offline  bool
	Started  time.Time
	Finished time.Time
	Errors   []string
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running    bool
	Online     bool
	Pending    store.Counts
	LastRun    time.Time
	LastResult Result
	LastError  string
}

// Scheduler runs syncs.
//
// Thread-safety: All methods are safe for concurrent use.
type Scheduler struct {
	store    *store.Store
	gw       gateway.Gateway
	net      Network
	clock    clock.Clock
	recorder Recorder
	logger   *slog.Logger

	interval   time.Duration
	maxBackoff time.Duration

	running sync.Mutex

	mu       sync.Mutex
	status   Status
	inFlight bool
	reasons  []string
	signal   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the period of scheduled runs and the backoff base.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxBackoff sets the retry delay cap.
func WithMaxBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxBackoff = d
		}
	}
}

// WithRecorder registers the snapshot recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler.
func New(st *store.Store, gw gateway.Gateway, net Network, clk clock.Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		gw:         gw,
		net:        net,
		clock:      clk,
		logger:     slog.Default(),
		interval:   DefaultInterval,
		maxBackoff: DefaultMaxBackoff,
		signal:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backoff returns the delay before retry number attempts (1-based):
// interval doubled per failed attempt, capped at the maximum.
func (s *Scheduler) Backoff(attempts int) time.Duration {
	d := s.interval
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.maxBackoff {
			return s.maxBackoff
		}
	}
	return min(d, s.maxBackoff)
}

// Trigger requests a forced run from Run's loop. Requests made while one is
// pending coalesce.
func (s *Scheduler) Trigger(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reasons = append(s.reasons, reason)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Scheduler) takeReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reasons
	s.reasons = nil
	return r
}

// Run syncs once at start, then on connectivity regained, on every interval
// tick while online, and on Trigger, until ctx is done. Runs on reconnect
// and on Trigger ignore retry delays.
func (s *Scheduler) Run(ctx context.Context) error {
	changes, cancel := s.net.Subscribe()
	defer cancel()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.runLogged(ctx, "startup", false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-changes:
			if online {
				s.runLogged(ctx, "connectivity", true)
			}
		case <-ticker.C():
			s.runLogged(ctx, "interval", false)
		case <-s.signal:
			for _, reason := range s.takeReasons() {
				s.runLogged(ctx, reason, true)
			}
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context, reason string, force bool) {
	if _, err := s.RunOnce(ctx, reason, force); err != nil && !errors.Is(err, ErrBusy) {
		s.logger.Error("sync run failed", "reason", reason, "error", err)
	}
}

// RunOnce drains the queue once. Unless force is set, items whose retry
// delay has not elapsed are skipped. Item failures are counted in the
// result, not returned; the error reports only a failure to read the
// queue, or ErrBusy.
func (s *Scheduler) RunOnce(ctx context.Context, reason string, force bool) (Result, error) {
	if !s.running.TryLock() {
		return Result{Reason: reason}, ErrBusy
	}
	defer s.running.Unlock()

	s.setInFlight(true)
	defer s.setInFlight(false)

	res := Result{Reason: reason, Started: s.clock.Now()}
	if !s.net.Online() {
		res.Offline = true
		res.Finished = s.clock.Now()
		return res, nil
	}

	var dueBy time.Time
	if !force {
		dueBy = res.Started
	}
	pending, err := s.store.Pending(ctx, dueBy)
	if err != nil {
		err = fmt.Errorf("sync: %w", err)
		s.finish(res, err)
		return res, err
	}

	for _, e := range pending.Events {
		s.tally(ctx, &res, store.EventRef(e.ID), s.pushEvent(ctx, e))
	}
	for _, f := range pending.FollowUps {
		s.tally(ctx, &res, store.FollowUpRef(f.SessionID, f.Slot), s.pushFollowUp(ctx, f))
	}
	for _, l := range pending.Locations {
		s.tally(ctx, &res, store.LocationRef(l.ID), s.pushLocation(ctx, l))
	}

	res.Finished = s.clock.Now()
	if res.Synced > 0 || res.Failed > 0 {
		s.logger.Info("sync complete", "reason", reason, "synced", res.Synced, "failed", res.Failed)
	}
	s.finish(res, nil)
	return res, nil
}

// tally records the outcome of one item. A failure schedules its retry.
func (s *Scheduler) tally(ctx context.Context, res *Result, ref store.Ref, err error) {
	if err == nil {
		res.Synced++
		return
	}
	res.Failed++
	res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", ref, err))

	now := s.clock.Now()
	retry, rerr := s.store.RecordAttempt(ctx, ref, err, func(attempts int) time.Time {
		return now.Add(s.Backoff(attempts))
	})
	if rerr != nil {
		s.logger.Warn("could not record sync attempt", "item", ref.String(), "error", rerr)
		return
	}
	s.logger.Warn("sync item failed", "item", ref.String(), "attempts", retry.Attempts,
		"next_attempt_at", retry.NextAttemptAt, "error", err)
}

// pushEvent uploads the pending photo, inserts the row and deletes the
// queued copy. A failed upload leaves the event queued with its photo.
func (s *Scheduler) pushEvent(ctx context.Context, e record.Event) error {
	ref := store.EventRef(e.ID)
	if e.HasPendingPhoto() {
		url, err := s.gw.UploadBlob(ctx, e.PhotoPath(), e.PhotoBlob, reconcile.PhotoContentType)
		if err != nil {
			return fmt.Errorf("upload photo: %w", err)
		}
		e.PhotoURL = url
		e.PhotoBlob = nil
		if err := s.store.MarkPhotoUploaded(ctx, ref, url); err != nil {
			s.logger.Warn("could not record uploaded photo", "item", ref.String(), "error", err)
		}
	}

	if err := s.gw.InsertRecord(ctx, gateway.TableAttendance, record.EventToRow(e)); err != nil && !gateway.IsDuplicate(err) {
		return fmt.Errorf("insert: %w", err)
	}
	if err := s.store.DeleteEvent(ctx, e.ID); err != nil {
		return fmt.Errorf("delete confirmed: %w", err)
	}

	if s.recorder != nil {
		e.State = record.StateConfirmed
		s.recorder.RememberEvent(ctx, e)
	}
	return nil
}

func (s *Scheduler) pushFollowUp(ctx context.Context, f record.FollowUp) error {
	ref := store.FollowUpRef(f.SessionID, f.Slot)
	if f.HasPendingPhoto() {
		url, err := s.gw.UploadBlob(ctx, f.PhotoPath(), f.PhotoBlob, reconcile.PhotoContentType)
		if err != nil {
			return fmt.Errorf("upload photo: %w", err)
		}
		f.PhotoURL = url
		f.PhotoBlob = nil
		if err := s.store.MarkPhotoUploaded(ctx, ref, url); err != nil {
			s.logger.Warn("could not record uploaded photo", "item", ref.String(), "error", err)
		}
	}

	if err := s.gw.InsertRecord(ctx, gateway.TableFollowUps, record.FollowUpToRow(f)); err != nil && !gateway.IsDuplicate(err) {
		return fmt.Errorf("insert: %w", err)
	}
	if err := s.store.DeleteFollowUp(ctx, f.SessionID, f.Slot); err != nil {
		return fmt.Errorf("delete confirmed: %w", err)
	}

	if s.recorder != nil {
		f.State = record.StateConfirmed
		s.recorder.RememberFollowUp(ctx, f)
	}
	return nil
}

func (s *Scheduler) pushLocation(ctx context.Context, l record.LocationSample) error {
	if err := s.gw.InsertRecord(ctx, gateway.TableLocations, record.LocationToRow(l)); err != nil && !gateway.IsDuplicate(err) {
		return fmt.Errorf("insert: %w", err)
	}
	if err := s.store.DeleteLocation(ctx, l.ID); err != nil {
		return fmt.Errorf("delete confirmed: %w", err)
	}
	return nil
}

func (s *Scheduler) setInFlight(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = v
}

func (s *Scheduler) finish(res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.LastRun = res.Started
	s.status.LastResult = res
	switch {
	case err != nil:
		s.status.LastError = err.Error()
	case res.Failed > 0:
		s.status.LastError = fmt.Sprintf("%d items could not be synced", res.Failed)
	default:
		s.status.LastError = ""
	}
}

// Status returns the last run summary and the current queue sizes.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	st := s.status
	st.Running = s.inFlight
	s.mu.Unlock()

	st.Online = s.net.Online()
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return st, err
	}
	st.Pending = counts
	return st, nil
}
