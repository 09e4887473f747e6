// Package reconcile decides where writes go and builds the merged daily
// view.
//
// A write made while online goes straight to the gateway and is remembered
// in the local snapshot of confirmed data; any failure other than a
// duplicate key falls back to the local queue. A write made while offline
// is queued without touching the network. Reads merge confirmed data (from
// the gateway, or the snapshot when offline) with the queued entries.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vivacius/asistenciacampo/internal/clock"
	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/query"
	"github.com/vivacius/asistenciacampo/internal/netstate"
	"github.com/vivacius/asistenciacampo/internal/record"
	"github.com/vivacius/asistenciacampo/internal/store"
)

// PhotoContentType is the content type of every uploaded photo.
const PhotoContentType = "image/jpeg"

// Source names where the confirmed part of a view came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
	SourceNone   Source = "none"
)

// View is the merged state of one user's day.
type View struct {
	UserID    string
	Date      string
	Events    []record.Event    // newest first
	FollowUps []record.FollowUp // by session, then slot
	Source    Source
}

// Engine routes writes and builds views.
//
// Thread-safety: All methods are safe for concurrent use.
type Engine struct {
	store  *store.Store
	gw     gateway.Gateway
	net    netstate.Source
	clock  clock.Clock
	logger *slog.Logger

	// snapMu serializes read-modify-write of snapshots.
	snapMu sync.Mutex
}

// New creates an engine.
func New(st *store.Store, gw gateway.Gateway, net netstate.Source, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, gw: gw, net: net, clock: clk, logger: logger}
}

// Online reports the current connectivity.
func (e *Engine) Online() bool {
	return e.net.Online()
}

// ResolveZone resolves coord when online. No coordinate, no connectivity or
// a failing lookup yield ZoneUnknown; a successful lookup that matched no
// zone yields ZoneOutside.
func (e *Engine) ResolveZone(ctx context.Context, coord *record.Coordinate) (*record.Zone, record.ZoneStatus) {
	if coord == nil || !e.net.Online() {
		return nil, record.ZoneUnknown
	}
	zone, err := e.gw.ResolveZone(ctx, coord.Lat, coord.Lon)
	if err != nil {
		e.logger.Warn("zone lookup failed", "error", err)
		return nil, record.ZoneUnknown
	}
	if zone == nil {
		return nil, record.ZoneOutside
	}
	return record.NormalizeZone(zone), record.ZoneInside
}

// WriteEvent stores ev remotely or locally. The returned event carries the
// resulting state; an error means it was stored nowhere.
func (e *Engine) WriteEvent(ctx context.Context, ev record.Event) (record.Event, error) {
	if !e.net.Online() {
		return e.queueEvent(ctx, ev, nil)
	}

	if ev.HasPendingPhoto() {
		url, err := e.gw.UploadBlob(ctx, ev.PhotoPath(), ev.PhotoBlob, PhotoContentType)
		if err != nil {
			e.logger.Warn("photo upload failed, inserting without photo", "id", ev.ID, "error", err)
		} else {
			ev.PhotoURL = url
		}
	}

	err := e.gw.InsertRecord(ctx, gateway.TableAttendance, record.EventToRow(ev))
	if err != nil && !gateway.IsDuplicate(err) {
		return e.queueEvent(ctx, ev, err)
	}

	ev.PhotoBlob = nil
	ev.State = record.StateConfirmed
	e.RememberEvent(ctx, ev)
	return ev, nil
}

// queueEvent persists ev locally. cause is the remote failure that led
// here, if any.
func (e *Engine) queueEvent(ctx context.Context, ev record.Event, cause error) (record.Event, error) {
	if ev.PhotoURL != "" {
		ev.PhotoBlob = nil
	}
	ev.State = record.StateQueued
	if err := e.store.PutEvent(ctx, ev); err != nil {
		if cause != nil {
			return ev, fmt.Errorf("queue event %s after %v: %w", ev.ID, cause, err)
		}
		return ev, fmt.Errorf("queue event %s: %w", ev.ID, err)
	}
	if cause != nil {
		e.logger.Warn("remote write failed, queued locally", "id", ev.ID, "error", cause)
	}
	return ev, nil
}

// WriteFollowUp stores evidence remotely or locally. A queued entry for
// the same slot is superseded.
func (e *Engine) WriteFollowUp(ctx context.Context, f record.FollowUp) (record.FollowUp, error) {
	if !e.net.Online() {
		return e.queueFollowUp(ctx, f, nil)
	}

	if f.HasPendingPhoto() {
		url, err := e.gw.UploadBlob(ctx, f.PhotoPath(), f.PhotoBlob, PhotoContentType)
		if err != nil {
			e.logger.Warn("photo upload failed, inserting without photo", "followup", f.Key(), "error", err)
		} else {
			f.PhotoURL = url
		}
	}

	err := e.gw.InsertRecord(ctx, gateway.TableFollowUps, record.FollowUpToRow(f))
	if err != nil && !gateway.IsDuplicate(err) {
		return e.queueFollowUp(ctx, f, err)
	}

	f.PhotoBlob = nil
	f.State = record.StateConfirmed
	if err := e.store.DeleteFollowUp(ctx, f.SessionID, f.Slot); err != nil {
		e.logger.Warn("could not drop superseded follow-up", "followup", f.Key(), "error", err)
	}
	e.RememberFollowUp(ctx, f)
	return f, nil
}

func (e *Engine) queueFollowUp(ctx context.Context, f record.FollowUp, cause error) (record.FollowUp, error) {
	if f.PhotoURL != "" {
		f.PhotoBlob = nil
	}
	f.State = record.StateQueued
	if err := e.store.PutFollowUp(ctx, f); err != nil {
		return f, fmt.Errorf("queue follow-up %s: %w", f.Key(), err)
	}
	if cause != nil {
		e.logger.Warn("remote write failed, queued locally", "followup", f.Key(), "error", cause)
	}
	return f, nil
}

// WriteLocation stores a location sample remotely or locally.
func (e *Engine) WriteLocation(ctx context.Context, l record.LocationSample) (record.LocationSample, error) {
	if e.net.Online() {
		err := e.gw.InsertRecord(ctx, gateway.TableLocations, record.LocationToRow(l))
		if err == nil || gateway.IsDuplicate(err) {
			l.State = record.StateConfirmed
			return l, nil
		}
		e.logger.Warn("remote write failed, queued locally", "location", l.ID, "error", err)
	}

	l.State = record.StateQueued
	if err := e.store.PutLocation(ctx, l); err != nil {
		return l, fmt.Errorf("queue location %s: %w", l.ID, err)
	}
	return l, nil
}

// RememberEvent adds a confirmed event to the snapshot of its day. Failures
// are logged; the snapshot is a cache.
func (e *Engine) RememberEvent(ctx context.Context, ev record.Event) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	snap, _, err := e.store.LoadSnapshot(ctx, ev.UserID, ev.Date)
	if err != nil {
		e.logger.Warn("snapshot unavailable", "user_id", ev.UserID, "date", ev.Date, "error", err)
		return
	}
	snap.UserID, snap.Date = ev.UserID, ev.Date
	snap.Events = upsertEvent(snap.Events, ev)
	snap.SavedAt = e.clock.Now()
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Warn("snapshot not saved", "user_id", ev.UserID, "date", ev.Date, "error", err)
	}
}

// RememberFollowUp adds confirmed evidence to the snapshot of its day.
func (e *Engine) RememberFollowUp(ctx context.Context, f record.FollowUp) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	snap, _, err := e.store.LoadSnapshot(ctx, f.UserID, f.Date)
	if err != nil {
		e.logger.Warn("snapshot unavailable", "user_id", f.UserID, "date", f.Date, "error", err)
		return
	}
	snap.UserID, snap.Date = f.UserID, f.Date
	snap.FollowUps = upsertFollowUp(snap.FollowUps, f)
	snap.SavedAt = e.clock.Now()
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Warn("snapshot not saved", "user_id", f.UserID, "date", f.Date, "error", err)
	}
}

// DailyView merges confirmed and queued data for (userID, date).
//
// The queue is read before the gateway. A sync that confirms an item in
// between moves it from the queue to the remote side, so the item is seen
// in one of the two reads and never missed.
func (e *Engine) DailyView(ctx context.Context, userID, date string) (View, error) {
	view := View{UserID: userID, Date: date, Source: SourceNone}

	queued, err := e.store.ListEvents(ctx, userID, date)
	if err != nil {
		return View{}, fmt.Errorf("daily view: %w", err)
	}
	queuedFollowUps, err := e.store.ListFollowUpsByUserDate(ctx, userID, date)
	if err != nil {
		return View{}, fmt.Errorf("daily view: %w", err)
	}

	var confirmed []record.Event
	var confirmedFollowUps []record.FollowUp
	fetched := false
	if e.net.Online() {
		events, followUps, err := e.fetchRemote(ctx, userID, date)
		if err != nil {
			e.logger.Warn("remote view unavailable, using snapshot", "user_id", userID, "date", date, "error", err)
		} else {
			confirmed, confirmedFollowUps = e.refreshSnapshot(ctx, userID, date, events, followUps)
			fetched = true
			view.Source = SourceRemote
		}
	}
	if !fetched {
		snap, ok, err := e.store.LoadSnapshot(ctx, userID, date)
		if err != nil {
			return View{}, fmt.Errorf("daily view: %w", err)
		}
		if ok {
			confirmed, confirmedFollowUps = snap.Events, snap.FollowUps
			view.Source = SourceCache
		}
	}

	view.Events = MergeEvents(confirmed, queued)
	view.FollowUps = MergeFollowUps(confirmedFollowUps, queuedFollowUps)
	return view, nil
}

// refreshSnapshot folds the remote rows into the snapshot of the day and
// returns the union. Confirmed rows are never retracted, so rows confirmed
// after the remote read (RememberEvent) survive; the remote copy wins on
// conflicts.
func (e *Engine) refreshSnapshot(ctx context.Context, userID, date string, events []record.Event, followUps []record.FollowUp) ([]record.Event, []record.FollowUp) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	snap, _, err := e.store.LoadSnapshot(ctx, userID, date)
	if err != nil {
		e.logger.Warn("snapshot unavailable", "user_id", userID, "date", date, "error", err)
		return events, followUps
	}
	for _, ev := range events {
		snap.Events = upsertEvent(snap.Events, ev)
	}
	for _, f := range followUps {
		snap.FollowUps = upsertFollowUp(snap.FollowUps, f)
	}
	snap.UserID, snap.Date = userID, date
	snap.SavedAt = e.clock.Now()
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Warn("snapshot not saved", "user_id", userID, "date", date, "error", err)
	}
	return snap.Events, snap.FollowUps
}

func (e *Engine) fetchRemote(ctx context.Context, userID, date string) ([]record.Event, []record.FollowUp, error) {
	q := query.New().
		Where(query.Eq("user_id", userID), query.Eq("date", date)).
		WithLimit(query.MaxLimit)

	rows, err := e.gw.QueryRecords(ctx, gateway.TableAttendance, q.OrderBy("timestamp", true))
	if err != nil {
		return nil, nil, err
	}
	events := make([]record.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := record.EventFromRow(row)
		if err != nil {
			e.logger.Warn("skipping unreadable attendance row", "error", err)
			continue
		}
		events = append(events, ev)
	}

	rows, err = e.gw.QueryRecords(ctx, gateway.TableFollowUps, q.OrderBy("session_id", false).OrderBy("slot", false))
	if err != nil {
		return nil, nil, err
	}
	followUps := make([]record.FollowUp, 0, len(rows))
	for _, row := range rows {
		f, err := record.FollowUpFromRow(row)
		if err != nil {
			e.logger.Warn("skipping unreadable follow-up row", "error", err)
			continue
		}
		followUps = append(followUps, f)
	}
	return events, followUps, nil
}
