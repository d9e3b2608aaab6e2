package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/types"
)

type recordingMonitor struct {
	mu      sync.Mutex
	tripIDs []types.ID
	points  []types.Point
	times   []time.Time
}

func (r *recordingMonitor) ProcessLocationUpdate(_ context.Context, tripID, _ types.ID, p types.Point, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tripIDs = append(r.tripIDs, tripID)
	r.points = append(r.points, p)
	r.times = append(r.times, at)
	return nil
}

func (r *recordingMonitor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tripIDs)
}

func newTestSubscriber(m Monitor) *Subscriber {
	return NewSubscriber(nil, m, metrics.NewCollector(), logging.Nop())
}

func TestHandleValidMessage(t *testing.T) {
	rec := &recordingMonitor{}
	s := newTestSubscriber(rec)

	s.handle(&nats.Msg{
		Subject: "vigil.location.trip-1",
		Data:    []byte(`{"tripId":"trip-1","passengerId":"pax-1","lat":12.9716,"lng":77.5946,"timestamp":"2026-08-29T10:00:00Z"}`),
	})

	if rec.count() != 1 {
		t.Fatalf("updates = %d, want 1", rec.count())
	}
	if rec.tripIDs[0] != types.ID("trip-1") {
		t.Fatalf("trip = %s", rec.tripIDs[0])
	}
	if rec.points[0].Lat != 12.9716 || rec.points[0].Lng != 77.5946 {
		t.Fatalf("point = %+v", rec.points[0])
	}
	want := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if !rec.times[0].Equal(want) {
		t.Fatalf("at = %v, want %v", rec.times[0], want)
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	rec := &recordingMonitor{}
	s := newTestSubscriber(rec)

	s.handle(&nats.Msg{Subject: "vigil.location.trip-1", Data: []byte(`not json`)})
	s.handle(&nats.Msg{Subject: "vigil.location.trip-1", Data: []byte(`{"lat":1,"lng":2}`)})

	if rec.count() != 0 {
		t.Fatalf("updates = %d, want 0", rec.count())
	}
}

func TestHandleBadTimestampFallsBackToNow(t *testing.T) {
	rec := &recordingMonitor{}
	s := newTestSubscriber(rec)

	before := time.Now().UTC()
	s.handle(&nats.Msg{
		Subject: "vigil.location.trip-1",
		Data:    []byte(`{"tripId":"trip-1","lat":1,"lng":2,"timestamp":"yesterday"}`),
	})
	after := time.Now().UTC()

	if rec.count() != 1 {
		t.Fatalf("updates = %d, want 1", rec.count())
	}
	at := rec.times[0]
	if at.Before(before) || at.After(after) {
		t.Fatalf("at = %v, want within [%v, %v]", at, before, after)
	}
}
