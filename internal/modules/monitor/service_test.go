package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"vigil/internal/config"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/modules/share"
	"vigil/internal/modules/sos"
	"vigil/internal/types"
)

// memStore is an in-memory Store with the same optimistic-concurrency
// behavior as the Postgres one.
type memStore struct {
	mu     sync.Mutex
	events map[types.ID]*Event
}

func newMemStore() *memStore {
	return &memStore{events: make(map[types.ID]*Event)}
}

func (m *memStore) Create(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events[e.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) OpenByTrip(_ context.Context, tripID types.ID) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Event
	for _, e := range m.events {
		if e.TripID != tripID {
			continue
		}
		if e.Status != StatusMonitoring && e.Status != StatusAlertSent {
			continue
		}
		if latest == nil || e.StartedAt.After(latest.StartedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, patch StatusPatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.Status != from || e.StatusVersion != version {
		return false, nil
	}
	e.Status = to
	e.StatusVersion++
	if patch.AlertSentAt != nil {
		e.AlertSentAt = patch.AlertSentAt
	}
	e.DueAt = patch.DueAt
	if patch.Response != nil {
		e.Response = *patch.Response
	}
	if patch.ResolvedAt != nil {
		e.ResolvedAt = patch.ResolvedAt
	}
	if patch.ResolutionReason != "" {
		e.ResolutionReason = patch.ResolutionReason
	}
	return true, nil
}

func (m *memStore) RecordCallAttempt(_ context.Context, id types.ID, at time.Time, answered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	e.Escalation.CallAttempted = true
	e.Escalation.CallAttemptedAt = &at
	e.Escalation.CallAnswered = answered
	return nil
}

func (m *memStore) RecordEscalation(_ context.Context, id types.ID, ticketID types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.Escalation.EscalatedToSupport {
		return false, nil
	}
	e.Escalation.EscalatedToSupport = true
	e.Escalation.EscalatedAt = &at
	e.Escalation.SupportTicketID = &ticketID
	return true, nil
}

func (m *memStore) LinkSOS(_ context.Context, id types.ID, alertID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	e.SOSAlertID = &alertID
	return nil
}

func (m *memStore) ExtendDue(_ context.Context, id types.ID, due time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	e.DueAt = &due
	return nil
}

func (m *memStore) DueStationary(_ context.Context, now time.Time, limit int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if e.Status == StatusMonitoring && e.DueAt != nil && !e.DueAt.After(now) {
			cp := *e
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) DueEscalations(_ context.Context, now time.Time, limit int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		overdue := e.Status == StatusAlertSent && !e.Response.Responded &&
			e.DueAt != nil && !e.DueAt.After(now)
		orphaned := e.Status == StatusEscalated && !e.Escalation.EscalatedToSupport
		if overdue || orphaned {
			cp := *e
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// backdate rewrites an event's clock fields so the stationary window appears
// elapsed without sleeping in tests.
func (m *memStore) backdate(id types.ID, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.events[id]
	e.StartedAt = e.StartedAt.Add(-by)
	if e.DueAt != nil {
		d := e.DueAt.Add(-by)
		e.DueAt = &d
	}
}

func (m *memStore) byTrip(tripID types.ID) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if e.TripID == tripID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

type capturingDispatcher struct {
	mu     sync.Mutex
	events []*Event
}

func (d *capturingDispatcher) Dispatch(_ context.Context, e *Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

func (d *capturingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// fakeAlerts implements AlertService with the one-live-alert-per-trip rule.
type fakeAlerts struct {
	mu       sync.Mutex
	byTrip   map[types.ID]*sos.Alert
	triggers int
	tracked  int
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{byTrip: make(map[types.ID]*sos.Alert)}
}

func (f *fakeAlerts) Trigger(_ context.Context, cmd sos.TriggerCommand) (*sos.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byTrip[cmd.TripID]; ok {
		return nil, sos.ErrActiveAlert
	}
	f.triggers++
	a := &sos.Alert{ID: types.ID(uuid.NewString()), TripID: cmd.TripID, Status: sos.StatusActive}
	f.byTrip[cmd.TripID] = a
	return a, nil
}

func (f *fakeAlerts) ActiveByTrip(_ context.Context, tripID types.ID) (*sos.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byTrip[tripID]
	if !ok {
		return nil, sos.ErrNotFound
	}
	return a, nil
}

func (f *fakeAlerts) UpdateContinuousTracking(_ context.Context, _ types.ID, _ types.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked++
	return nil
}

func (f *fakeAlerts) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers
}

type fakeShares struct {
	mu      sync.Mutex
	pushes  int
	stopped []types.ID
}

func (f *fakeShares) PushLocation(_ context.Context, _ types.ID, _ types.Point, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	return nil
}

func (f *fakeShares) StopAllSharingForTrip(_ context.Context, tripID types.ID) (share.StopAllResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, tripID)
	return share.StopAllResult{}, nil
}

func testConfig() config.MonitorConfig {
	return config.MonitorConfig{
		StationaryThresholdMeters: 50,
		StationaryWindow:          15 * time.Minute,
		EscalationTimeout:         5 * time.Minute,
		SweepInterval:             30 * time.Second,
	}
}

type fixture struct {
	svc        *Service
	store      *memStore
	dispatcher *capturingDispatcher
	alerts     *fakeAlerts
	shares     *fakeShares
}

func newFixture() *fixture {
	store := newMemStore()
	dispatcher := &capturingDispatcher{}
	alerts := newFakeAlerts()
	shares := &fakeShares{}
	svc := NewService(store, NewRegistry(), nil, dispatcher, alerts, shares,
		testConfig(), metrics.NewCollector(), logging.Nop())
	return &fixture{svc: svc, store: store, dispatcher: dispatcher, alerts: alerts, shares: shares}
}

func TestProcessLocationUpdateStartsEpisode(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	at := time.Now().UTC()
	if err := fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", types.Point{Lat: 12.9716, Lng: 77.5946}, at); err != nil {
		t.Fatalf("ProcessLocationUpdate: %v", err)
	}

	e, err := fx.store.OpenByTrip(ctx, "trip-1")
	if err != nil {
		t.Fatalf("OpenByTrip: %v", err)
	}
	if e.Status != StatusMonitoring {
		t.Fatalf("status = %s, want monitoring", e.Status)
	}
	if e.DueAt == nil || !e.DueAt.Equal(at.Add(15*time.Minute)) {
		t.Fatalf("due = %v, want anchor + 15m", e.DueAt)
	}
	if e.Anchor.Lat != 12.9716 || e.Anchor.Lng != 77.5946 {
		t.Fatalf("anchor = %+v", e.Anchor)
	}
}

func TestProcessLocationUpdateRejectsInvalidPoint(t *testing.T) {
	fx := newFixture()
	err := fx.svc.ProcessLocationUpdate(context.Background(), "trip-1", "pax-1", types.Point{Lat: 91, Lng: 0}, time.Now())
	if err == nil {
		t.Fatal("expected error for out-of-range latitude")
	}
}

func TestMovementReanchorsEpisode(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	anchor := types.Point{Lat: 12.9716, Lng: 77.5946}

	if err := fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", anchor, time.Now().UTC()); err != nil {
		t.Fatalf("first update: %v", err)
	}
	first, _ := fx.store.OpenByTrip(ctx, "trip-1")

	// Roughly 110m north, well past the 50m threshold.
	moved := types.Point{Lat: anchor.Lat + 0.001, Lng: anchor.Lng}
	if err := fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", moved, time.Now().UTC()); err != nil {
		t.Fatalf("second update: %v", err)
	}

	old, _ := fx.store.Get(ctx, first.ID)
	if old.Status != StatusResolved || old.ResolutionReason != ReasonVehicleMoved {
		t.Fatalf("old event = %s/%s, want resolved/vehicle_moved", old.Status, old.ResolutionReason)
	}
	fresh, err := fx.store.OpenByTrip(ctx, "trip-1")
	if err != nil {
		t.Fatalf("OpenByTrip after move: %v", err)
	}
	if fresh.ID == first.ID {
		t.Fatal("expected a new episode after movement")
	}
	if fresh.Anchor != moved {
		t.Fatalf("new anchor = %+v, want %+v", fresh.Anchor, moved)
	}
}

func TestSmallDriftKeepsAnchor(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	anchor := types.Point{Lat: 12.9716, Lng: 77.5946}

	fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", anchor, time.Now().UTC())
	first, _ := fx.store.OpenByTrip(ctx, "trip-1")

	// ~22m of drift stays inside the threshold.
	drift := types.Point{Lat: anchor.Lat + 0.0002, Lng: anchor.Lng}
	fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", drift, time.Now().UTC())

	cur, _ := fx.store.OpenByTrip(ctx, "trip-1")
	if cur.ID != first.ID {
		t.Fatal("drift inside threshold must not re-anchor")
	}
	if cur.Anchor != anchor {
		t.Fatalf("anchor changed to %+v", cur.Anchor)
	}
}

func TestWindowElapsedSendsSafetyCheck(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	anchor := types.Point{Lat: 12.9716, Lng: 77.5946}

	fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", anchor, time.Now().UTC())
	e, _ := fx.store.OpenByTrip(ctx, "trip-1")
	fx.store.backdate(e.ID, 16*time.Minute)

	// Still within 50m of the anchor after 16 minutes.
	near := types.Point{Lat: anchor.Lat + 0.0001, Lng: anchor.Lng}
	if err := fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", near, time.Now().UTC()); err != nil {
		t.Fatalf("update: %v", err)
	}

	cur, _ := fx.store.Get(ctx, e.ID)
	if cur.Status != StatusAlertSent {
		t.Fatalf("status = %s, want alert_sent", cur.Status)
	}
	if cur.AlertSentAt == nil {
		t.Fatal("AlertSentAt not set")
	}
	if cur.DueAt == nil || !cur.DueAt.Equal(cur.AlertSentAt.Add(5*time.Minute)) {
		t.Fatalf("due = %v, want alert time + 5m", cur.DueAt)
	}
	if fx.dispatcher.count() != 1 {
		t.Fatalf("dispatched %d safety checks, want 1", fx.dispatcher.count())
	}
}

func TestAlertSentIsNotRedispatched(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	anchor := types.Point{Lat: 12.9716, Lng: 77.5946}

	fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", anchor, time.Now().UTC())
	e, _ := fx.store.OpenByTrip(ctx, "trip-1")
	fx.store.backdate(e.ID, 16*time.Minute)

	for i := 0; i < 3; i++ {
		fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", anchor, time.Now().UTC())
	}
	if fx.dispatcher.count() != 1 {
		t.Fatalf("dispatched %d safety checks, want exactly 1", fx.dispatcher.count())
	}
}

func TestHandleResponseSafe(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	e := seedAlertSent(t, fx, "trip-1")

	out, err := fx.svc.HandleResponse(ctx, e.ID, ResponseSafe)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if out.Status != StatusSafeConfirmed {
		t.Fatalf("status = %s, want safe_confirmed", out.Status)
	}
	if !out.Response.Responded || out.Response.Response != ResponseSafe {
		t.Fatalf("response = %+v", out.Response)
	}
	if out.ResolutionReason != ReasonPassengerSafe {
		t.Fatalf("reason = %q", out.ResolutionReason)
	}
	if fx.alerts.triggerCount() != 0 {
		t.Fatal("safe response must not raise an sos alert")
	}

	if _, err := fx.svc.HandleResponse(ctx, e.ID, ResponseSafe); !errors.Is(err, ErrAlreadyHandled) {
		t.Fatalf("second response err = %v, want ErrAlreadyHandled", err)
	}
}

func TestHandleResponseHelpRaisesOneSOS(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	e := seedAlertSent(t, fx, "trip-1")

	out, err := fx.svc.HandleResponse(ctx, e.ID, ResponseHelp)
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if out.Status != StatusHelpRequested {
		t.Fatalf("status = %s, want help_requested", out.Status)
	}
	if out.SOSAlertID == nil {
		t.Fatal("event not linked to the sos alert")
	}
	if fx.alerts.triggerCount() != 1 {
		t.Fatalf("triggered %d alerts, want exactly 1", fx.alerts.triggerCount())
	}

	if _, err := fx.svc.HandleResponse(ctx, e.ID, ResponseHelp); !errors.Is(err, ErrAlreadyHandled) {
		t.Fatalf("second response err = %v, want ErrAlreadyHandled", err)
	}
	if fx.alerts.triggerCount() != 1 {
		t.Fatal("repeat response must not raise another alert")
	}
}

func TestHandleResponseRejectsUnknownAction(t *testing.T) {
	fx := newFixture()
	e := seedAlertSent(t, fx, "trip-1")
	if _, err := fx.svc.HandleResponse(context.Background(), e.ID, "maybe"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestSweepPromotesSilentEpisode(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", types.Point{Lat: 12.9716, Lng: 77.5946}, time.Now().UTC())
	e, _ := fx.store.OpenByTrip(ctx, "trip-1")
	fx.store.backdate(e.ID, 16*time.Minute)

	// No further updates arrive; the sweep alone must send the check.
	if err := fx.svc.RunStationarySweep(ctx); err != nil {
		t.Fatalf("RunStationarySweep: %v", err)
	}
	cur, _ := fx.store.Get(ctx, e.ID)
	if cur.Status != StatusAlertSent {
		t.Fatalf("status = %s, want alert_sent", cur.Status)
	}
	if fx.dispatcher.count() != 1 {
		t.Fatalf("dispatched %d, want 1", fx.dispatcher.count())
	}

	// A second sweep sees nothing due.
	if err := fx.svc.RunStationarySweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if fx.dispatcher.count() != 1 {
		t.Fatal("second sweep must not re-dispatch")
	}
}

func TestEndTripResolvesAndStopsSharing(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	fx.svc.ProcessLocationUpdate(ctx, "trip-1", "pax-1", types.Point{Lat: 12.9716, Lng: 77.5946}, time.Now().UTC())
	e, _ := fx.store.OpenByTrip(ctx, "trip-1")

	if err := fx.svc.EndTrip(ctx, "trip-1"); err != nil {
		t.Fatalf("EndTrip: %v", err)
	}
	cur, _ := fx.store.Get(ctx, e.ID)
	if cur.Status != StatusResolved || cur.ResolutionReason != ReasonTripCompleted {
		t.Fatalf("event = %s/%s", cur.Status, cur.ResolutionReason)
	}
	if len(fx.shares.stopped) != 1 || fx.shares.stopped[0] != types.ID("trip-1") {
		t.Fatalf("stopped = %v", fx.shares.stopped)
	}

	// Ending a trip with no open episode is fine.
	if err := fx.svc.EndTrip(ctx, "trip-2"); err != nil {
		t.Fatalf("EndTrip without episode: %v", err)
	}
}

func TestResolveEscalated(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	e := seedAlertSent(t, fx, "trip-1")

	// Force the event into escalated the way the coordinator would.
	cur, _ := fx.store.Get(ctx, e.ID)
	ok, err := fx.store.UpdateStatus(ctx, e.ID, StatusAlertSent, StatusEscalated, cur.StatusVersion, StatusPatch{})
	if err != nil || !ok {
		t.Fatalf("setup escalation: ok=%v err=%v", ok, err)
	}

	out, err := fx.svc.ResolveEscalated(ctx, e.ID)
	if err != nil {
		t.Fatalf("ResolveEscalated: %v", err)
	}
	if out.Status != StatusResolved || out.ResolutionReason != ReasonSupportClosed {
		t.Fatalf("event = %s/%s", out.Status, out.ResolutionReason)
	}

	if _, err := fx.svc.ResolveEscalated(ctx, e.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second resolve err = %v, want ErrInvalidState", err)
	}
}

// seedAlertSent walks a fresh episode into alert_sent through the public path.
func seedAlertSent(t *testing.T, fx *fixture, tripID types.ID) *Event {
	t.Helper()
	ctx := context.Background()
	anchor := types.Point{Lat: 12.9716, Lng: 77.5946}
	if err := fx.svc.ProcessLocationUpdate(ctx, tripID, "pax-1", anchor, time.Now().UTC()); err != nil {
		t.Fatalf("seed update: %v", err)
	}
	e, err := fx.store.OpenByTrip(ctx, tripID)
	if err != nil {
		t.Fatalf("seed OpenByTrip: %v", err)
	}
	fx.store.backdate(e.ID, 16*time.Minute)
	if err := fx.svc.ProcessLocationUpdate(ctx, tripID, "pax-1", anchor, time.Now().UTC()); err != nil {
		t.Fatalf("seed promote: %v", err)
	}
	cur, err := fx.store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("seed re-read: %v", err)
	}
	if cur.Status != StatusAlertSent {
		t.Fatalf("seed status = %s, want alert_sent", cur.Status)
	}
	return cur
}
