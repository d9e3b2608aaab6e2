package broadcast

import (
	"testing"

	"go.uber.org/zap"

	"vigil/internal/types"
)

func newTestHub() *Hub {
	return NewHub(nil, zap.NewNop())
}

func TestPublish_DeliversToAllSubscribers(t *testing.T) {
	h := newTestHub()
	room := TripContactRoom(types.ID("trip-1"), "+15550001")
	h.CreateRoom(room)

	s1 := h.Subscribe(room)
	s2 := h.Subscribe(room)

	delivered := h.Publish(room, "location_update", map[string]float64{"lat": 1, "lng": 2})
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}

	for i, s := range []*Subscriber{s1, s2} {
		select {
		case msg := <-s.C:
			if msg.Event != "location_update" {
				t.Errorf("subscriber %d event = %q, want location_update", i, msg.Event)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestPublish_EmptyOrMissingRoom(t *testing.T) {
	h := newTestHub()
	if got := h.Publish(AdminRoom, "sos_alert", nil); got != 0 {
		t.Errorf("empty room delivered = %d, want 0", got)
	}
	if got := h.Publish("no:such:room", "sos_alert", nil); got != 0 {
		t.Errorf("missing room delivered = %d, want 0", got)
	}
}

func TestPublish_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := newTestHub()
	room := TripContactRoom(types.ID("trip-2"), "+15550002")

	slow := h.Subscribe(room)
	fast := h.Subscribe(room)

	// Fill the slow subscriber's buffer while keeping fast drained.
	for i := 0; i < subscriberBuffer; i++ {
		h.Publish(room, "location_update", i)
		<-fast.C
	}
	delivered := h.Publish(room, "location_update", "final")
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1 (slow dropped, fast delivered)", delivered)
	}

	select {
	case m := <-fast.C:
		if m.Payload != "final" {
			t.Errorf("fast subscriber payload = %v, want final", m.Payload)
		}
	default:
		t.Errorf("fast subscriber received nothing")
	}
	_ = slow
}

func TestCloseTripRooms_RemovesAllAndOnlyTripRooms(t *testing.T) {
	h := newTestHub()
	trip := types.ID("trip-3")
	other := types.ID("trip-4")

	for _, phone := range []string{"+1", "+2", "+3"} {
		h.CreateRoom(TripContactRoom(trip, phone))
	}
	h.CreateRoom(TripContactRoom(other, "+9"))

	if got := h.TripRoomCount(trip); got != 3 {
		t.Fatalf("TripRoomCount = %d, want 3", got)
	}

	sub := h.Subscribe(TripContactRoom(trip, "+1"))

	closed := h.CloseTripRooms(trip)
	if closed != 3 {
		t.Errorf("closed = %d, want 3", closed)
	}
	if got := h.TripRoomCount(trip); got != 0 {
		t.Errorf("TripRoomCount after close = %d, want 0", got)
	}
	if !h.RoomExists(TripContactRoom(other, "+9")) {
		t.Errorf("unrelated trip room was removed")
	}

	// Subscriber channel must be closed so ws writers can exit.
	if _, ok := <-sub.C; ok {
		t.Errorf("subscriber channel still open after room teardown")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := newTestHub()
	sub := h.Subscribe(AdminRoom)
	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // second call must be a no-op

	if got := h.SubscriberCount(AdminRoom); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}
