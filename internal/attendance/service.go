package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vivacius/asistenciacampo/internal/capture"
	"github.com/vivacius/asistenciacampo/internal/clock"
	"github.com/vivacius/asistenciacampo/internal/reconcile"
	"github.com/vivacius/asistenciacampo/internal/record"
	"github.com/vivacius/asistenciacampo/internal/store"
	"github.com/vivacius/asistenciacampo/internal/syncer"
)

// DefaultTrackingInterval is the period of background location samples.
const DefaultTrackingInterval = time.Hour

// trackingSlack is the fraction of the tracking interval a periodic sample
// may arrive early, so a late previous tick does not cost the next one.
const trackingSlack = 10

// ErrCaptureTooRecent is returned when a periodic sample is requested less
// than one tracking interval after the previous capture.
var ErrCaptureTooRecent = errors.New("location captured too recently")

// ErrInvalidArgument is returned for an unknown kind or slot.
var ErrInvalidArgument = errors.New("invalid argument")

// Identity supplies the signed-in user. An empty id means nobody is signed
// in.
type Identity interface {
	UserID() string
}

// StaticUser is an Identity that never changes.
type StaticUser string

// UserID implements Identity.
func (u StaticUser) UserID() string { return string(u) }

// AttendanceResult is the outcome of SubmitAttendance.
type AttendanceResult struct {
	Success     bool               `json:"success"`
	Event       *record.Event      `json:"event,omitempty"`
	Queued      bool               `json:"queued"`
	HoursWorked *float64           `json:"hours_worked,omitempty"`
	Coordinates *record.Coordinate `json:"coordinates,omitempty"`
	Zone        *record.Zone       `json:"zone,omitempty"`
	ZoneStatus  record.ZoneStatus  `json:"zone_status"`
	Code        record.Code        `json:"code,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// FollowUpResult is the outcome of SubmitFollowUp.
type FollowUpResult struct {
	Success  bool             `json:"success"`
	FollowUp *record.FollowUp `json:"followup,omitempty"`
	Queued   bool             `json:"queued"`
	Code     record.Code      `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// LocationResult is the outcome of CaptureLocation.
type LocationResult struct {
	Success bool                   `json:"success"`
	Sample  *record.LocationSample `json:"sample,omitempty"`
	Queued  bool                   `json:"queued"`
	Code    record.Code            `json:"code,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// SyncResult is the outcome of RunSync.
type SyncResult struct {
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Offline bool     `json:"offline,omitempty"`
	Busy    bool     `json:"busy,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Summary is the derived state of the signed-in user's day.
type Summary struct {
	UserID      string            `json:"user_id"`
	Date        string            `json:"date"`
	Source      reconcile.Source  `json:"source"`
	State       State             `json:"state"`
	OpenSession *record.Event     `json:"open_session,omitempty"`
	Events      []record.Event    `json:"events"`
	FollowUps   []record.FollowUp `json:"followups"`
	HoursWorked float64           `json:"hours_worked"`
	HoursSoFar  float64           `json:"hours_so_far"`
	CanExit     bool              `json:"can_exit"`

	// FollowUpIn is the wait before the mandatory follow-up opens; zero
	// once it is available or when no session is open.
	FollowUpIn time.Duration `json:"followup_in"`
	Pending    int           `json:"pending"`
}

// Service implements the operations the UI invokes for one signed-in user.
//
// Thread-safety: All methods are safe for concurrent use. Submissions are
// serialized so two of them cannot pass the gates on the same view.
type Service struct {
	engine   *reconcile.Engine
	sched    *syncer.Scheduler
	store    *store.Store
	capturer *capture.Capturer
	clock    clock.Clock
	identity Identity

	ids              record.IDGenerator
	loc              *time.Location
	rules            Rules
	trackingInterval time.Duration
	logger           *slog.Logger

	submitMu sync.Mutex

	mu          sync.Mutex
	lastCapture time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator sets the id source for new entities.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(s *Service) {
		s.ids = g
	}
}

// WithLocation sets the zone local dates are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithRules overrides DefaultRules.
func WithRules(r Rules) Option {
	return func(s *Service) {
		s.rules = r
	}
}

// WithTrackingInterval sets the minimum spacing of periodic samples.
func WithTrackingInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.trackingInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService wires the attendance operations.
func NewService(engine *reconcile.Engine, sched *syncer.Scheduler, st *store.Store, capturer *capture.Capturer, clk clock.Clock, identity Identity, opts ...Option) *Service {
	s := &Service{
		engine:           engine,
		sched:            sched,
		store:            st,
		capturer:         capturer,
		clock:            clk,
		identity:         identity,
		ids:              record.UUIDv7Generator{},
		loc:              time.UTC,
		rules:            DefaultRules(),
		trackingInterval: DefaultTrackingInterval,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) user(op string) (string, error) {
	id := ""
	if s.identity != nil {
		id = s.identity.UserID()
	}
	if id == "" {
		return "", record.NewError(record.CodeAuthRequired, op, "no active user")
	}
	return id, nil
}

// today returns the local date of now.
func (s *Service) today() string {
	return record.LocalDate(s.clock.Now(), s.loc)
}

// Codes of refusals that are not record.Error categories.
const (
	CodeFollowUpRequired   record.Code = "FOLLOWUP_REQUIRED"
	CodeDwellNotElapsed    record.Code = "DWELL_NOT_ELAPSED"
	CodeFollowUpOutOfOrder record.Code = "FOLLOWUP_OUT_OF_ORDER"
	CodeNoOpenSession      record.Code = "NO_OPEN_SESSION"
	CodeSessionMismatch    record.Code = "SESSION_MISMATCH"
	CodeCaptureTooRecent   record.Code = "CAPTURE_TOO_RECENT"
	CodeInvalidArgument    record.Code = "INVALID_ARGUMENT"
	CodeUnknown            record.Code = "ERROR"
)

// ErrorCode maps err to the code callers branch on. Nil maps to "".
func ErrorCode(err error) record.Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFollowUpRequired):
		return CodeFollowUpRequired
	case errors.Is(err, ErrDwellNotElapsed):
		return CodeDwellNotElapsed
	case errors.Is(err, ErrFollowUpOutOfOrder):
		return CodeFollowUpOutOfOrder
	case errors.Is(err, ErrNoOpenSession):
		return CodeNoOpenSession
	case errors.Is(err, ErrSessionMismatch):
		return CodeSessionMismatch
	case errors.Is(err, ErrCaptureTooRecent):
		return CodeCaptureTooRecent
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	}
	if code := record.CodeOf(err); code != "" {
		return code
	}
	return CodeUnknown
}

// describe splits err into its code and message for a result object.
func describe(err error) (record.Code, string) {
	var re *record.Error
	if errors.As(err, &re) {
		return re.Code, re.Message
	}
	return ErrorCode(err), err.Error()
}

// SubmitAttendance records an entry or exit for the signed-in user. The
// returned error is also described in the result; the result alone is
// enough for display.
func (s *Service) SubmitAttendance(ctx context.Context, kind record.Kind) (AttendanceResult, error) {
	const op = "attendance.submit"
	fail := func(err error) (AttendanceResult, error) {
		code, msg := describe(err)
		return AttendanceResult{Code: code, Error: msg}, err
	}

	userID, err := s.user(op)
	if err != nil {
		return fail(err)
	}
	if !kind.Valid() {
		return fail(fmt.Errorf("%s: kind %d: %w", op, int(kind), ErrInvalidArgument))
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	view, err := s.engine.DailyView(ctx, userID, s.today())
	if err != nil {
		return fail(err)
	}
	if kind == record.KindExit {
		if err := s.rules.CanExit(view.Events, view.FollowUps); err != nil {
			return fail(err)
		}
	}

	coord := s.capturer.Location(ctx)
	photo, err := s.capturer.Photo(ctx)
	if err != nil {
		return fail(err)
	}
	zone, status := s.engine.ResolveZone(ctx, coord)
	inconsistent, note := CheckTransition(view.Events, kind)

	now := s.clock.Now()
	ev := record.Event{
		ID:           s.ids.Generate(),
		UserID:       userID,
		Date:         record.LocalDate(now, s.loc),
		Kind:         kind,
		Timestamp:    now,
		Coord:        coord,
		Zone:         zone,
		ZoneStatus:   status,
		PhotoBlob:    photo,
		Inconsistent: inconsistent,
		Note:         record.NormalizeText(note),
	}
	ev, err = s.engine.WriteEvent(ctx, ev)
	if err != nil {
		return fail(err)
	}
	if inconsistent {
		s.logger.Warn("out-of-sequence attendance recorded", "id", ev.ID, "kind", kind.String(), "note", ev.Note)
	}

	if coord != nil {
		if _, err := s.writeLocation(ctx, userID, *coord, zone, status, record.OriginFor(kind), now); err != nil {
			s.logger.Warn("location sample not stored", "origin", record.OriginFor(kind).String(), "error", err)
		}
	}

	res := AttendanceResult{
		Success:     true,
		Event:       &ev,
		Queued:      ev.State == record.StateQueued,
		Coordinates: coord,
		Zone:        zone,
		ZoneStatus:  status,
	}
	if kind == record.KindExit && ev.Date == view.Date {
		hours := HoursWorked(append(view.Events, ev), now, false)
		res.HoursWorked = &hours
	}
	s.logger.Info("attendance recorded", "id", ev.ID, "kind", kind.String(), "state", ev.State.String(), "zone_status", status.String())
	return res, nil
}

// SubmitFollowUp captures evidence for slot of the open session. An empty
// sessionID means the session open now. A second submission for the same
// slot supersedes the first while it is still queued.
func (s *Service) SubmitFollowUp(ctx context.Context, slot record.Slot, sessionID string) (FollowUpResult, error) {
	const op = "attendance.followup"
	fail := func(err error) (FollowUpResult, error) {
		code, msg := describe(err)
		return FollowUpResult{Code: code, Error: msg}, err
	}

	userID, err := s.user(op)
	if err != nil {
		return fail(err)
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	view, err := s.engine.DailyView(ctx, userID, s.today())
	if err != nil {
		return fail(err)
	}
	session, err := s.rules.CanFollowUp(view.Events, view.FollowUps, sessionID, slot, s.clock.Now())
	if err != nil {
		return fail(err)
	}

	photo, err := s.capturer.Photo(ctx)
	if err != nil {
		return fail(err)
	}

	f := record.FollowUp{
		SessionID: session.ID,
		Slot:      slot,
		UserID:    userID,
		Date:      session.Date,
		Timestamp: s.clock.Now(),
		PhotoBlob: photo,
	}
	f, err = s.engine.WriteFollowUp(ctx, f)
	if err != nil {
		return fail(err)
	}
	s.logger.Info("follow-up recorded", "session_id", f.SessionID, "slot", int(f.Slot), "state", f.State.String())
	return FollowUpResult{Success: true, FollowUp: &f, Queued: f.State == record.StateQueued}, nil
}

// CaptureLocation stores a location sample with the given origin. Periodic
// samples closer than nine tenths of the tracking interval to the previous
// capture are refused with ErrCaptureTooRecent.
func (s *Service) CaptureLocation(ctx context.Context, origin record.Origin) (LocationResult, error) {
	const op = "attendance.location"
	fail := func(err error) (LocationResult, error) {
		code, msg := describe(err)
		return LocationResult{Code: code, Error: msg}, err
	}

	userID, err := s.user(op)
	if err != nil {
		return fail(err)
	}

	now := s.clock.Now()
	if origin == record.OriginPeriodic {
		s.mu.Lock()
		last := s.lastCapture
		s.mu.Unlock()
		minGap := s.trackingInterval - s.trackingInterval/trackingSlack
		if !last.IsZero() && now.Sub(last) < minGap {
			return fail(ErrCaptureTooRecent)
		}
	}

	coord := s.capturer.Location(ctx)
	if coord == nil {
		return fail(record.NewError(record.CodeCaptureFailed, op, "location unavailable"))
	}
	zone, status := s.engine.ResolveZone(ctx, coord)

	sample, err := s.writeLocation(ctx, userID, *coord, zone, status, origin, now)
	if err != nil {
		return fail(err)
	}
	return LocationResult{Success: true, Sample: &sample, Queued: sample.State == record.StateQueued}, nil
}

func (s *Service) writeLocation(ctx context.Context, userID string, coord record.Coordinate, zone *record.Zone, status record.ZoneStatus, origin record.Origin, at time.Time) (record.LocationSample, error) {
	sample, err := s.engine.WriteLocation(ctx, record.LocationSample{
		ID:         s.ids.Generate(),
		UserID:     userID,
		Timestamp:  at,
		Coord:      coord,
		Zone:       zone,
		ZoneStatus: status,
		Origin:     origin,
	})
	if err != nil {
		return sample, err
	}

	s.mu.Lock()
	if at.After(s.lastCapture) {
		s.lastCapture = at
	}
	s.mu.Unlock()
	return sample, nil
}

// GetDailyView returns the merged events of userID for today, newest
// first. An empty userID means the signed-in user.
func (s *Service) GetDailyView(ctx context.Context, userID string) (reconcile.View, error) {
	if userID == "" {
		id, err := s.user("attendance.daily_view")
		if err != nil {
			return reconcile.View{}, err
		}
		userID = id
	}
	return s.engine.DailyView(ctx, userID, s.today())
}

// Today summarizes the signed-in user's day with the gate states the UI
// needs to enable or disable its actions.
func (s *Service) Today(ctx context.Context) (Summary, error) {
	view, err := s.GetDailyView(ctx, "")
	if err != nil {
		return Summary{}, err
	}
	pending, err := s.GetPendingCount(ctx)
	if err != nil {
		return Summary{}, err
	}

	now := s.clock.Now()
	sum := Summary{
		UserID:      view.UserID,
		Date:        view.Date,
		Source:      view.Source,
		State:       Derive(view.Events),
		Events:      view.Events,
		FollowUps:   view.FollowUps,
		HoursWorked: HoursWorked(view.Events, now, false),
		HoursSoFar:  HoursWorked(view.Events, now, true),
		CanExit:     s.rules.CanExit(view.Events, view.FollowUps) == nil,
		Pending:     pending,
	}
	if open, ok := OpenSession(view.Events); ok {
		sum.OpenSession = &open
		if !hasSlot(view.FollowUps, open.ID, record.SlotMandatory) {
			sum.FollowUpIn = s.rules.DwellRemaining(open, now)
		}
	}
	return sum, nil
}

// GetPendingCount returns the number of entities waiting for sync.
func (s *Service) GetPendingCount(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// RunSync drains the queue now, ignoring retry delays. A run already in
// progress is reported as Busy rather than waited for.
func (s *Service) RunSync(ctx context.Context) (SyncResult, error) {
	if _, err := s.user("attendance.sync"); err != nil {
		return SyncResult{}, err
	}

	res, err := s.sched.RunOnce(ctx, "manual", true)
	if errors.Is(err, syncer.ErrBusy) {
		return SyncResult{Busy: true}, nil
	}
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{
		Synced:  res.Synced,
		Failed:  res.Failed,
		Offline: res.Offline,
		Errors:  res.Errors,
	}, nil
}
