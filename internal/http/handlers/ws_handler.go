// README: WebSocket attachment of dashboards and trusted contacts to broadcast rooms.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vigil/internal/modules/broadcast"
	"vigil/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin is allowed; callers authenticate via the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

type WSHandler struct {
	hub *broadcast.Hub
	log *zap.Logger
}

func NewWSHandler(hub *broadcast.Hub, log *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// Admin attaches the caller to the admin dashboard room.
func (h *WSHandler) Admin(c *gin.Context) {
	h.attach(c, broadcast.AdminRoom)
}

// Support attaches the caller to the support dashboard room.
func (h *WSHandler) Support(c *gin.Context) {
	h.attach(c, broadcast.SupportRoom)
}

// Contact attaches a trusted contact to their per-trip room. The room must
// already exist: it is created when sharing starts and removed when it stops.
func (h *WSHandler) Contact(c *gin.Context) {
	tripID := types.ID(c.Param("tripId"))
	phone := c.Param("phone")
	room := broadcast.TripContactRoom(tripID, phone)
	if !h.hub.RoomExists(room) {
		writeError(c, http.StatusNotFound, "no active sharing session for this contact")
		return
	}
	h.attach(c, room)
}

func (h *WSHandler) attach(c *gin.Context, room string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn("websocket upgrade failed", zap.String("room", room), zap.Error(err))
		return
	}
	sub := h.hub.Subscribe(room)
	go h.pump(conn, sub, room)
}

// pump forwards room messages to the socket until either side goes away.
func (h *WSHandler) pump(conn *websocket.Conn, sub *broadcast.Subscriber, room string) {
	defer func() {
		h.hub.Unsubscribe(sub)
		_ = conn.Close()
	}()

	// Discard inbound frames; the socket is one-way. Read errors tear the
	// connection down.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("websocket write failed", zap.String("room", room), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
