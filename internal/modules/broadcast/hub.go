// README: In-process fan-out hub; named rooms with buffered per-subscriber channels.
package broadcast

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/metrics"
	"vigil/internal/types"
)

const (
	// AdminRoom and SupportRoom are the fixed SOS dashboard channels.
	AdminRoom   = "safety:admin"
	SupportRoom = "safety:support"

	// subscriberBuffer is the per-subscriber queue depth; a full queue drops
	// the message rather than blocking the publisher.
	subscriberBuffer = 32
)

// TripContactRoom names the per-contact tracking room for a sharing session.
func TripContactRoom(tripID types.ID, contactPhone string) string {
	return fmt.Sprintf("trip:%s:contact:%s", tripID, contactPhone)
}

func tripRoomPrefix(tripID types.ID) string {
	return fmt.Sprintf("trip:%s:contact:", tripID)
}

// Message is what subscribers receive.
type Message struct {
	Room    string    `json:"room"`
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sentAt"`
}

// Subscriber drains C until the hub closes it on unsubscribe or room teardown.
type Subscriber struct {
	C    chan Message
	room string
}

// Hub owns the room registry. Rooms exist independently of subscribers: a
// sharing session creates its contact rooms up front, dashboards attach later.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}

	metrics *metrics.Collector
	log     *zap.Logger
}

func NewHub(m *metrics.Collector, log *zap.Logger) *Hub {
	h := &Hub{
		rooms:   make(map[string]map[*Subscriber]struct{}),
		metrics: m,
		log:     log,
	}
	h.CreateRoom(AdminRoom)
	h.CreateRoom(SupportRoom)
	return h
}

// CreateRoom is idempotent.
func (h *Hub) CreateRoom(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[name]; !ok {
		h.rooms[name] = make(map[*Subscriber]struct{})
	}
}

// CloseRoom disconnects every subscriber and removes the room.
func (h *Hub) CloseRoom(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeRoomLocked(name)
}

func (h *Hub) closeRoomLocked(name string) {
	subs, ok := h.rooms[name]
	if !ok {
		return
	}
	for sub := range subs {
		close(sub.C)
	}
	delete(h.rooms, name)
}

// CloseTripRooms tears down every contact room for a trip and returns how many
// rooms were removed.
func (h *Hub) CloseTripRooms(tripID types.ID) int {
	prefix := tripRoomPrefix(tripID)
	h.mu.Lock()
	defer h.mu.Unlock()
	closed := 0
	for name := range h.rooms {
		if strings.HasPrefix(name, prefix) {
			h.closeRoomLocked(name)
			closed++
		}
	}
	return closed
}

// Subscribe attaches to an existing room; the room is created if missing so
// dashboards can attach before the first alert.
func (h *Hub) Subscribe(room string) *Subscriber {
	sub := &Subscriber{C: make(chan Message, subscriberBuffer), room: room}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Subscriber]struct{})
	}
	h.rooms[room][sub] = struct{}{}
	return sub
}

// Unsubscribe detaches sub; safe to call after room teardown.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[sub.room]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.C)
}

// Publish fans payload out to the room's subscribers and returns how many
// received it. A missing room or an empty room delivers to zero subscribers;
// neither is an error. A slow subscriber is skipped, never waited on.
func (h *Hub) Publish(room, event string, payload any) int {
	msg := Message{Room: room, Event: event, Payload: payload, SentAt: time.Now().UTC()}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.rooms[room]))
	for sub := range h.rooms[room] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		select {
		case sub.C <- msg:
			delivered++
		default:
			if h.metrics != nil {
				h.metrics.BroadcastDropped.Inc()
			}
			h.log.Warn("broadcast subscriber queue full, dropping",
				zap.String("room", room), zap.String("event", event))
		}
	}
	if h.metrics != nil && delivered > 0 {
		h.metrics.BroadcastDelivered.Add(float64(delivered))
	}
	return delivered
}

// RoomExists reports whether the named room is registered.
func (h *Hub) RoomExists(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[name]
	return ok
}

// TripRoomCount returns how many contact rooms a trip currently has.
func (h *Hub) TripRoomCount(tripID types.ID) int {
	prefix := tripRoomPrefix(tripID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for name := range h.rooms {
		if strings.HasPrefix(name, prefix) {
			n++
		}
	}
	return n
}

// SubscriberCount returns how many subscribers are attached to a room.
func (h *Hub) SubscriberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
