package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vivacius/asistenciacampo/internal/attendance"
	"github.com/vivacius/asistenciacampo/internal/capture"
	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/memory"
	"github.com/vivacius/asistenciacampo/internal/netstate"
	"github.com/vivacius/asistenciacampo/internal/reconcile"
	"github.com/vivacius/asistenciacampo/internal/record"
	"github.com/vivacius/asistenciacampo/internal/store"
	"github.com/vivacius/asistenciacampo/internal/syncer"
	"github.com/vivacius/asistenciacampo/internal/testutil"
)

// Actions a step can invoke.
const (
	ActionNetwork  = "network.set"
	ActionAdvance  = "clock.advance"
	ActionGPS      = "device.gps"
	ActionCamera   = "device.camera"
	ActionFail     = "gateway.fail"
	ActionRecover  = "gateway.recover"
	ActionSubmit   = "attendance.submit"
	ActionFollowUp = "attendance.followup"
	ActionLocate   = "attendance.locate"
	ActionToday    = "attendance.today"
	ActionPending  = "attendance.pending"
	ActionSync     = "sync.run"
)

// CaseSuccess is the completion case of a step that was not refused.
const CaseSuccess = "Success"

const captureDeadline = time.Second

var knownActions = map[string]bool{
	ActionNetwork: true, ActionAdvance: true, ActionGPS: true, ActionCamera: true,
	ActionFail: true, ActionRecover: true, ActionSubmit: true, ActionFollowUp: true,
	ActionLocate: true, ActionToday: true, ActionPending: true, ActionSync: true,
}

func knownAction(a string) bool { return knownActions[a] }

var (
	errNoFix     = errors.New("no GPS fix")
	errCameraOff = errors.New("camera unavailable")
)

// Harness holds the client stack of one scenario run.
type Harness struct {
	store   *store.Store
	gw      *memory.Gateway
	net     *netstate.Monitor
	clock   *testutil.FakeClock
	camera  *testutil.FakeCamera
	locator *testutil.FakeLocator
	sched   *syncer.Scheduler
	svc     *attendance.Service
	logger  *slog.Logger
	seq     int64
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh database in a temporary directory, removed
// afterwards. A returned error means the scenario could not be executed
// (bad arguments, a failing setup step); expectation and assertion failures
// are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "asistencia-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h, err := newHarness(ctx, scenario, filepath.Join(dir, "client.db"))
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	for i, step := range scenario.Setup {
		ev, err := h.execute(ctx, "setup", step.Action, step.Args)
		if err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Action, err)
		}
		result.AddTrace(ev)
		if ev.Case != CaseSuccess {
			return nil, fmt.Errorf("setup[%d] %s: completed with %s", i, step.Action, ev.Case)
		}
	}

	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, "flow", step.Invoke, step.Args)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Invoke, err)
		}
		result.AddTrace(ev)
		if step.Expect != nil {
			for _, msg := range checkExpect(i, step, ev) {
				result.AddError(msg)
			}
		}
		h.logger.Debug("flow step completed", "step", i, "action", step.Invoke, "case", ev.Case)
	}

	actx := &AssertionContext{Ctx: ctx, Store: h.store, Gateway: h.gw}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	if err := h.captureState(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func newHarness(ctx context.Context, sc *Scenario, dbPath string) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	start := DefaultStart
	if sc.Start != "" {
		start = sc.Start
	}
	t0, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	tz := DefaultTimeZone
	if sc.TimeZone != "" {
		tz = sc.TimeZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	rules := attendance.DefaultRules()
	if sc.MinDwell != "" {
		if rules.MinDwell, err = time.ParseDuration(sc.MinDwell); err != nil {
			return nil, fmt.Errorf("min_dwell: %w", err)
		}
	}
	tracking := attendance.DefaultTrackingInterval
	if sc.TrackingInterval != "" {
		if tracking, err = time.ParseDuration(sc.TrackingInterval); err != nil {
			return nil, fmt.Errorf("tracking_interval: %w", err)
		}
	}
	user := DefaultUser
	if sc.User != "" {
		user = sc.User
	}
	online := true
	if sc.Online != nil {
		online = *sc.Online
	}

	st, err := store.Open(ctx, dbPath, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario store: %w", err)
	}

	h := &Harness{
		store:   st,
		gw:      memory.New(sc.Zones...),
		net:     netstate.NewMonitor(online),
		clock:   testutil.NewFakeClock(t0.In(loc)),
		camera:  &testutil.FakeCamera{Photo: testutil.PNG(64, 48)},
		locator: &testutil.FakeLocator{Err: errNoFix},
		logger:  logger,
	}
	if len(sc.Zones) > 0 {
		z := sc.Zones[0]
		h.locator.SetCoord(record.Coordinate{Lat: z.Lat, Lon: z.Lon, AccuracyM: 5})
	}

	capturer := capture.New(h.camera, h.locator, capture.WithTimeout(captureDeadline), capture.WithLogger(logger))
	engine := reconcile.New(st, h.gw, h.net, h.clock, logger)
	h.sched = syncer.New(st, h.gw, h.net, h.clock, syncer.WithRecorder(engine), syncer.WithLogger(logger))
	h.svc = attendance.NewService(engine, h.sched, st, capturer, h.clock, attendance.StaticUser(user),
		attendance.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		attendance.WithLocation(loc),
		attendance.WithRules(rules),
		attendance.WithTrackingInterval(tracking),
		attendance.WithLogger(logger),
	)
	return h, nil
}

// execute runs one action and records how it completed.
func (h *Harness) execute(ctx context.Context, phase, action string, args map[string]any) (TraceEvent, error) {
	h.seq++
	out, opErr, err := h.dispatch(ctx, action, args)
	if err != nil {
		return TraceEvent{}, err
	}

	ev := TraceEvent{Seq: h.seq, Phase: phase, Action: action, Args: args, Case: CaseSuccess}
	if opErr != nil {
		ev.Case = string(attendance.ErrorCode(opErr))
	}
	if out != nil {
		if ev.Result, err = toMap(out); err != nil {
			return TraceEvent{}, err
		}
	}
	if ev.Pending, err = h.store.Count(ctx); err != nil {
		return TraceEvent{}, err
	}
	return ev, nil
}

// dispatch invokes action. opErr is a refusal by the system under test; err
// means the step itself is malformed.
func (h *Harness) dispatch(ctx context.Context, action string, args map[string]any) (out any, opErr, err error) {
	switch action {
	case ActionNetwork:
		online, err := boolArg(args, "online", nil)
		if err != nil {
			return nil, nil, err
		}
		h.net.Set(online)
		return map[string]any{"online": online}, nil, nil

	case ActionAdvance:
		by, err := durationArg(args, "by")
		if err != nil {
			return nil, nil, err
		}
		h.clock.Advance(by)
		return map[string]any{"now": h.clock.Now().Format(time.RFC3339)}, nil, nil

	case ActionGPS:
		fix := true
		if fix, err = boolArg(args, "fix", &fix); err != nil {
			return nil, nil, err
		}
		if !fix {
			h.locator.Err = errNoFix
			return map[string]any{"fix": false}, nil, nil
		}
		at, err := stringArg(args, "at", "")
		if err != nil {
			return nil, nil, err
		}
		coord, err := capture.ParseCoordinate(at)
		if err != nil {
			return nil, nil, err
		}
		h.locator.SetCoord(coord)
		return map[string]any{"fix": true}, nil, nil

	case ActionCamera:
		working, err := boolArg(args, "working", nil)
		if err != nil {
			return nil, nil, err
		}
		h.camera.Err = nil
		if !working {
			h.camera.Err = errCameraOff
		}
		return nil, nil, nil

	case ActionFail:
		op, err := opArg(args)
		if err != nil {
			return nil, nil, err
		}
		msg, err := stringArg(args, "error", "unavailable")
		if err != nil {
			return nil, nil, err
		}
		once := false
		if once, err = boolArg(args, "once", &once); err != nil {
			return nil, nil, err
		}
		injected := errors.New(msg)
		if msg == "duplicate" {
			injected = fmt.Errorf("injected: %w", gateway.ErrDuplicateKey)
		}
		if once {
			h.gw.FailNext(op, injected)
		} else {
			h.gw.Fail(op, injected)
		}
		return nil, nil, nil

	case ActionRecover:
		op, err := opArg(args)
		if err != nil {
			return nil, nil, err
		}
		h.gw.Fail(op, nil)
		return nil, nil, nil

	case ActionSubmit:
		s, err := stringArg(args, "kind", "")
		if err != nil {
			return nil, nil, err
		}
		kind, err := record.ParseKind(s)
		if err != nil {
			return nil, nil, err
		}
		res, opErr := h.svc.SubmitAttendance(ctx, kind)
		return res, opErr, nil

	case ActionFollowUp:
		n, err := intArg(args, "slot")
		if err != nil {
			return nil, nil, err
		}
		session, err := stringArg(args, "session", "")
		if err != nil {
			return nil, nil, err
		}
		res, opErr := h.svc.SubmitFollowUp(ctx, record.Slot(n), session)
		return res, opErr, nil

	case ActionLocate:
		s, err := stringArg(args, "origin", record.OriginManual.String())
		if err != nil {
			return nil, nil, err
		}
		origin, err := record.ParseOrigin(s)
		if err != nil {
			return nil, nil, err
		}
		res, opErr := h.svc.CaptureLocation(ctx, origin)
		return res, opErr, nil

	case ActionToday:
		sum, opErr := h.svc.Today(ctx)
		return sum, opErr, nil

	case ActionPending:
		n, opErr := h.svc.GetPendingCount(ctx)
		return map[string]any{"pending": n}, opErr, nil

	case ActionSync:
		scheduled := false
		if scheduled, err = boolArg(args, "scheduled", &scheduled); err != nil {
			return nil, nil, err
		}
		if !scheduled {
			res, opErr := h.svc.RunSync(ctx)
			return res, opErr, nil
		}
		res, opErr := h.sched.RunOnce(ctx, "interval", false)
		return attendance.SyncResult{
			Synced:  res.Synced,
			Failed:  res.Failed,
			Offline: res.Offline,
			Errors:  res.Errors,
		}, opErr, nil

	default:
		return nil, nil, fmt.Errorf("unknown action %q", action)
	}
}

// captureState stores the final queue and remote table sizes in result.
func (h *Harness) captureState(ctx context.Context, result *Result) error {
	counts, err := h.store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read final queue: %w", err)
	}
	remote := make(map[string]int, len(gateway.Tables))
	for _, t := range gateway.Tables {
		remote[string(t)] = len(h.gw.Rows(t))
	}
	result.State["pending"] = map[string]int{
		string(gateway.TableAttendance): counts.Events,
		string(gateway.TableFollowUps):  counts.FollowUps,
		string(gateway.TableLocations):  counts.Locations,
	}
	result.State["remote"] = remote
	return nil
}

// toMap converts v to its JSON object form.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return m, nil
}

func stringArg(args map[string]any, key, fallback string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if fallback == "" {
			return "", fmt.Errorf("arg %q is required", key)
		}
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("arg %q: want string, got %T", key, v)
	}
	return s, nil
}

// boolArg reads a bool. A nil fallback makes the arg required.
func boolArg(args map[string]any, key string, fallback *bool) (bool, error) {
	v, ok := args[key]
	if !ok {
		if fallback == nil {
			return false, fmt.Errorf("arg %q is required", key)
		}
		return *fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("arg %q: want bool, got %T", key, v)
	}
	return b, nil
}

func intArg(args map[string]any, key string) (int, error) {
	switch v := args[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case nil:
		return 0, fmt.Errorf("arg %q is required", key)
	}
	return 0, fmt.Errorf("arg %q: want integer, got %v", key, args[key])
}

func durationArg(args map[string]any, key string) (time.Duration, error) {
	s, err := stringArg(args, key, "")
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("arg %q: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("arg %q: clock cannot move backwards", key)
	}
	return d, nil
}

func opArg(args map[string]any) (memory.Op, error) {
	s, err := stringArg(args, "op", "")
	if err != nil {
		return "", err
	}
	switch op := memory.Op(s); op {
	case memory.OpInsert, memory.OpUpload, memory.OpQuery, memory.OpResolve:
		return op, nil
	default:
		return "", fmt.Errorf("arg \"op\": unknown gateway operation %q", s)
	}
}
