package attendance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivacius/asistenciacampo/internal/capture"
	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/memory"
	"github.com/vivacius/asistenciacampo/internal/geofence"
	"github.com/vivacius/asistenciacampo/internal/netstate"
	"github.com/vivacius/asistenciacampo/internal/reconcile"
	"github.com/vivacius/asistenciacampo/internal/record"
	"github.com/vivacius/asistenciacampo/internal/store"
	"github.com/vivacius/asistenciacampo/internal/syncer"
	"github.com/vivacius/asistenciacampo/internal/testutil"
)

type fixture struct {
	svc     *Service
	store   *store.Store
	gw      *memory.Gateway
	net     *netstate.Monitor
	clock   *testutil.FakeClock
	camera  *testutil.FakeCamera
	locator *testutil.FakeLocator
}

func newFixture(t *testing.T, online bool, user string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "client.db"), store.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		store:   st,
		gw:      memory.New(geofence.Zone{Code: "L7", Name: "Lote 7", Lat: 4.61, Lon: -74.08, RadiusM: 300}),
		net:     netstate.NewMonitor(online),
		clock:   testutil.NewFakeClock(at(8, 0)),
		camera:  &testutil.FakeCamera{Photo: testutil.PNG(32, 24)},
		locator: &testutil.FakeLocator{Coord: record.Coordinate{Lat: 4.61, Lon: -74.08, AccuracyM: 6}},
	}
	capturer := capture.New(f.camera, f.locator, capture.WithTimeout(time.Second), capture.WithLogger(logger))
	engine := reconcile.New(st, f.gw, f.net, f.clock, logger)
	sched := syncer.New(st, f.gw, f.net, f.clock, syncer.WithRecorder(engine), syncer.WithLogger(logger))
	f.svc = NewService(engine, sched, st, capturer, f.clock, StaticUser(user),
		WithIDGenerator(testutil.NewSequenceGenerator("id")),
		WithLogger(logger),
	)
	return f
}

func (f *fixture) submit(t *testing.T, kind record.Kind) AttendanceResult {
	t.Helper()
	res, err := f.svc.SubmitAttendance(context.Background(), kind)
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func (f *fixture) followUp(t *testing.T, slot record.Slot) FollowUpResult {
	t.Helper()
	res, err := f.svc.SubmitFollowUp(context.Background(), slot, "")
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func TestSubmitAttendance_RequiresUser(t *testing.T) {
	f := newFixture(t, true, "")

	res, err := f.svc.SubmitAttendance(context.Background(), record.KindEntry)
	assert.True(t, record.IsAuthRequired(err))
	assert.False(t, res.Success)
	assert.Equal(t, record.CodeAuthRequired, res.Code)
	assert.Zero(t, f.camera.Calls())

	_, err = f.svc.RunSync(context.Background())
	assert.True(t, record.IsAuthRequired(err))
}

func TestSubmitAttendance_OnlineEntry(t *testing.T) {
	f := newFixture(t, true, "u-1")

	res := f.submit(t, record.KindEntry)
	assert.False(t, res.Queued)
	assert.Equal(t, record.ZoneInside, res.ZoneStatus)
	require.NotNil(t, res.Zone)
	assert.Equal(t, "L7", res.Zone.Code)
	require.NotNil(t, res.Coordinates)
	assert.Nil(t, res.HoursWorked)

	assert.Equal(t, "id-0001", res.Event.ID)
	assert.Equal(t, "2026-03-02", res.Event.Date)
	assert.False(t, res.Event.Inconsistent)
	assert.Equal(t, record.StateConfirmed, res.Event.State)

	rows := f.gw.Rows(gateway.TableAttendance)
	require.Len(t, rows, 1)
	assert.Equal(t, "mem://blobs/u-1/id-0001.jpg", rows[0]["photo_url"])

	locations := f.gw.Rows(gateway.TableLocations)
	require.Len(t, locations, 1)
	assert.Equal(t, "entry", locations[0]["origin"])

	n, err := f.svc.GetPendingCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitAttendance_OfflineQueues(t *testing.T) {
	f := newFixture(t, false, "u-1")

	res := f.submit(t, record.KindEntry)
	assert.True(t, res.Queued)
	assert.Equal(t, record.ZoneUnknown, res.ZoneStatus)
	assert.Nil(t, res.Zone)
	assert.Zero(t, f.gw.Calls(memory.OpInsert))

	n, err := f.svc.GetPendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "event and its entry location sample")
}

func TestSubmitAttendance_OutsideZone(t *testing.T) {
	f := newFixture(t, true, "u-1")
	f.locator.SetCoord(record.Coordinate{Lat: 4.70, Lon: -74.20, AccuracyM: 6})

	res := f.submit(t, record.KindEntry)
	assert.Equal(t, record.ZoneOutside, res.ZoneStatus)
	assert.Nil(t, res.Zone)
}

func TestSubmitAttendance_LocationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, true, "u-1")
	f.locator.Err = errors.New("gps disabled")

	res := f.submit(t, record.KindEntry)
	assert.Nil(t, res.Coordinates)
	assert.Nil(t, res.Event.Coord)
	assert.Equal(t, record.ZoneUnknown, res.ZoneStatus)
	assert.Empty(t, f.gw.Rows(gateway.TableLocations))
}

func TestSubmitAttendance_PhotoFailureAbortsBeforeWriting(t *testing.T) {
	f := newFixture(t, true, "u-1")
	f.camera.Err = errors.New("permission denied")

	res, err := f.svc.SubmitAttendance(context.Background(), record.KindEntry)
	require.Error(t, err)
	assert.True(t, record.IsCaptureFailed(err))
	assert.False(t, res.Success)
	assert.Equal(t, record.CodeCaptureFailed, res.Code)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, f.gw.Calls(memory.OpInsert))
}

func TestSubmitAttendance_FlagsOutOfSequence(t *testing.T) {
	f := newFixture(t, true, "u-1")

	res := f.submit(t, record.KindExit)
	assert.True(t, res.Event.Inconsistent)
	assert.Equal(t, NoteExitWithoutEntry, res.Event.Note)

	f.clock.Advance(time.Minute)
	res = f.submit(t, record.KindEntry)
	assert.False(t, res.Event.Inconsistent)

	f.clock.Advance(time.Minute)
	res = f.submit(t, record.KindEntry)
	assert.True(t, res.Event.Inconsistent)
	assert.Equal(t, NoteEntryWithoutExit, res.Event.Note)
}

func TestSubmitAttendance_ExitRequiresFollowUp(t *testing.T) {
	f := newFixture(t, true, "u-1")
	f.submit(t, record.KindEntry)
	f.clock.Advance(4 * time.Hour)
	calls := f.camera.Calls()

	res, err := f.svc.SubmitAttendance(context.Background(), record.KindExit)
	assert.ErrorIs(t, err, ErrFollowUpRequired)
	assert.False(t, res.Success)
	assert.Equal(t, calls, f.camera.Calls(), "refused before capture")
	assert.Len(t, f.gw.Rows(gateway.TableAttendance), 1)
}

func TestSubmitFollowUp_Gates(t *testing.T) {
	f := newFixture(t, false, "u-1")
	ctx := context.Background()

	_, err := f.svc.SubmitFollowUp(ctx, record.SlotMandatory, "")
	assert.ErrorIs(t, err, ErrNoOpenSession)

	entry := f.submit(t, record.KindEntry)

	f.clock.Advance(2 * time.Hour)
	res, err := f.svc.SubmitFollowUp(ctx, record.SlotMandatory, "")
	assert.ErrorIs(t, err, ErrDwellNotElapsed)
	assert.Contains(t, res.Error, "1h 0m")

	_, err = f.svc.SubmitFollowUp(ctx, record.SlotOptional, "")
	assert.ErrorIs(t, err, ErrFollowUpOutOfOrder)

	_, err = f.svc.SubmitFollowUp(ctx, record.SlotMandatory, "other")
	assert.ErrorIs(t, err, ErrSessionMismatch)

	f.clock.Advance(time.Hour)
	fu, err := f.svc.SubmitFollowUp(ctx, record.SlotMandatory, entry.Event.ID)
	require.NoError(t, err)
	assert.True(t, fu.Queued)
	assert.Equal(t, entry.Event.ID, fu.FollowUp.SessionID)

	f.followUp(t, record.SlotOptional)
}

func TestSubmitFollowUp_SupersedesQueuedSlot(t *testing.T) {
	f := newFixture(t, false, "u-1")
	f.submit(t, record.KindEntry)
	f.clock.Advance(3 * time.Hour)

	f.followUp(t, record.SlotMandatory)
	f.clock.Advance(time.Minute)
	second := f.followUp(t, record.SlotMandatory)

	queued, err := f.store.ListFollowUps(context.Background(), second.FollowUp.SessionID)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, second.FollowUp.Timestamp, queued[0].Timestamp)
}

func TestWorkday_HoursWorked(t *testing.T) {
	f := newFixture(t, true, "u-1")

	f.submit(t, record.KindEntry)
	f.clock.Advance(3 * time.Hour)
	f.followUp(t, record.SlotMandatory)
	f.clock.Advance(90 * time.Minute)

	res := f.submit(t, record.KindExit)
	require.NotNil(t, res.HoursWorked)
	assert.InDelta(t, 4.5, *res.HoursWorked, 0.001)
	assert.Equal(t, "exit", f.gw.Rows(gateway.TableLocations)[1]["origin"])
}

func TestOfflineWorkday_SyncsWithoutLoss(t *testing.T) {
	f := newFixture(t, false, "u-1")
	ctx := context.Background()

	entry := f.submit(t, record.KindEntry)
	f.clock.Advance(3 * time.Hour)
	f.followUp(t, record.SlotMandatory)
	f.clock.Advance(time.Hour)
	exit := f.submit(t, record.KindExit)

	sum, err := f.svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoSession, sum.State)
	assert.Equal(t, 5, sum.Pending)
	assert.InDelta(t, 4.0, sum.HoursWorked, 0.001)

	res, err := f.svc.RunSync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Offline)

	f.net.Set(true)
	res, err = f.svc.RunSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Synced)
	assert.Zero(t, res.Failed)

	n, err := f.svc.GetPendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	view, err := f.svc.GetDailyView(ctx, "")
	require.NoError(t, err)
	require.Len(t, view.Events, 2)
	assert.Equal(t, exit.Event.ID, view.Events[0].ID)
	assert.Equal(t, entry.Event.ID, view.Events[1].ID)
	for _, e := range view.Events {
		assert.Equal(t, record.StateConfirmed, e.State)
	}
	require.Len(t, view.FollowUps, 1)

	f.net.Set(false)
	view, err = f.svc.GetDailyView(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, reconcile.SourceCache, view.Source)
	assert.Len(t, view.Events, 2, "synced events stay visible offline")
}

func TestToday_GateState(t *testing.T) {
	f := newFixture(t, true, "u-1")
	ctx := context.Background()

	sum, err := f.svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNoSession, sum.State)
	assert.True(t, sum.CanExit)
	assert.Nil(t, sum.OpenSession)

	entry := f.submit(t, record.KindEntry)
	f.clock.Advance(time.Hour)

	sum, err = f.svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateSessionOpen, sum.State)
	require.NotNil(t, sum.OpenSession)
	assert.Equal(t, entry.Event.ID, sum.OpenSession.ID)
	assert.False(t, sum.CanExit)
	assert.Equal(t, 2*time.Hour, sum.FollowUpIn)
	assert.Zero(t, sum.HoursWorked)
	assert.InDelta(t, 1.0, sum.HoursSoFar, 0.001)
}

func TestCaptureLocation_ThrottlesPeriodicSamples(t *testing.T) {
	f := newFixture(t, true, "u-1")
	ctx := context.Background()

	res, err := f.svc.CaptureLocation(ctx, record.OriginPeriodic)
	require.NoError(t, err)
	assert.Equal(t, record.OriginPeriodic, res.Sample.Origin)
	assert.Equal(t, record.ZoneInside, res.Sample.ZoneStatus)

	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.CaptureLocation(ctx, record.OriginPeriodic)
	assert.ErrorIs(t, err, ErrCaptureTooRecent)

	_, err = f.svc.CaptureLocation(ctx, record.OriginManual)
	require.NoError(t, err, "manual samples are never throttled")

	f.clock.Advance(time.Hour)
	_, err = f.svc.CaptureLocation(ctx, record.OriginPeriodic)
	require.NoError(t, err)
	assert.Len(t, f.gw.Rows(gateway.TableLocations), 3)
}

func TestCaptureLocation_LateTickDoesNotSkipNext(t *testing.T) {
	f := newFixture(t, true, "u-1")
	ctx := context.Background()

	f.clock.Advance(time.Hour + 2*time.Millisecond)
	_, err := f.svc.CaptureLocation(ctx, record.OriginPeriodic)
	require.NoError(t, err)

	f.clock.Advance(time.Hour - 2*time.Millisecond)
	_, err = f.svc.CaptureLocation(ctx, record.OriginPeriodic)
	require.NoError(t, err, "on-time tick after a late one")

	f.clock.Advance(50 * time.Minute)
	_, err = f.svc.CaptureLocation(ctx, record.OriginPeriodic)
	assert.ErrorIs(t, err, ErrCaptureTooRecent)
	assert.Len(t, f.gw.Rows(gateway.TableLocations), 2)
}

func TestCaptureLocation_NoFix(t *testing.T) {
	f := newFixture(t, true, "u-1")
	f.locator.Err = errors.New("no satellites")

	res, err := f.svc.CaptureLocation(context.Background(), record.OriginManual)
	assert.True(t, record.IsCaptureFailed(err))
	assert.Equal(t, record.CodeCaptureFailed, res.Code)
}

func TestTracker_SamplesOnTick(t *testing.T) {
	f := newFixture(t, true, "u-1")
	tracker := NewTracker(f.svc, f.clock, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx) }()

	require.Eventually(t, func() bool { return f.clock.Tickers() == 1 }, time.Second, 5*time.Millisecond)
	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool {
		return len(f.gw.Rows(gateway.TableLocations)) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "periodic", f.gw.Rows(gateway.TableLocations)[0]["origin"])
}
