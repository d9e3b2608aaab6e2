package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vigil/internal/types"
)

func TestConcurrentResponsesOneWinner(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	e := seedAlertSent(t, fx, "trip-race")

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		resp := ResponseSafe
		if i%2 == 0 {
			resp = ResponseHelp
		}
		wg.Add(1)
		go func(resp string) {
			defer wg.Done()
			_, err := fx.svc.HandleResponse(ctx, e.ID, resp)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyHandled) {
				t.Errorf("unexpected error: %v", err)
			}
		}(resp)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	cur, _ := fx.store.Get(ctx, e.ID)
	if cur.Status != StatusSafeConfirmed && cur.Status != StatusHelpRequested {
		t.Fatalf("final status = %s", cur.Status)
	}
	if cur.Status == StatusHelpRequested && fx.alerts.triggerCount() != 1 {
		t.Fatalf("triggered %d alerts, want 1", fx.alerts.triggerCount())
	}
	if cur.Status == StatusSafeConfirmed && fx.alerts.triggerCount() != 0 {
		t.Fatalf("triggered %d alerts, want 0", fx.alerts.triggerCount())
	}
}

// A help response racing an escalation attempt must produce one outcome: the
// event ends up help_requested or escalated, never both effects.
func TestResponseVersusEscalationRace(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	e := seedAlertSent(t, fx, "trip-race")

	var wg sync.WaitGroup
	wg.Add(2)
	escalated := false
	go func() {
		defer wg.Done()
		_, err := fx.svc.HandleResponse(ctx, e.ID, ResponseHelp)
		if err != nil && !errors.Is(err, ErrAlreadyHandled) {
			t.Errorf("response: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		// Simulates the escalation sweep's CAS attempt.
		ok, err := fx.store.UpdateStatus(ctx, e.ID, StatusAlertSent, StatusEscalated, e.StatusVersion, StatusPatch{})
		if err != nil {
			t.Errorf("escalate: %v", err)
		}
		escalated = ok
	}()
	wg.Wait()

	cur, _ := fx.store.Get(ctx, e.ID)
	switch cur.Status {
	case StatusEscalated:
		if !escalated {
			t.Fatal("escalated status without a winning CAS")
		}
		if fx.alerts.triggerCount() != 0 {
			t.Fatal("losing response must not have triggered an alert")
		}
	case StatusHelpRequested:
		if escalated {
			t.Fatal("both the response and the escalation claimed the event")
		}
		if fx.alerts.triggerCount() != 1 {
			t.Fatalf("triggered %d alerts, want 1", fx.alerts.triggerCount())
		}
	default:
		t.Fatalf("final status = %s", cur.Status)
	}
}

func TestConcurrentUpdatesAcrossTrips(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	const trips = 20
	var wg sync.WaitGroup
	for i := 0; i < trips; i++ {
		tripID := types.ID(fmt.Sprintf("trip-%d", i))
		wg.Add(1)
		go func(tripID types.ID) {
			defer wg.Done()
			p := types.Point{Lat: 12.9, Lng: 77.5}
			for j := 0; j < 10; j++ {
				if err := fx.svc.ProcessLocationUpdate(ctx, tripID, "pax", p, time.Now().UTC()); err != nil {
					t.Errorf("update %s: %v", tripID, err)
					return
				}
			}
		}(tripID)
	}
	wg.Wait()

	for i := 0; i < trips; i++ {
		tripID := types.ID(fmt.Sprintf("trip-%d", i))
		events := fx.store.byTrip(tripID)
		if len(events) != 1 {
			t.Fatalf("trip %s has %d events, want 1", tripID, len(events))
		}
	}
}
