// README: SOS alert handlers: trigger, lifecycle, continuous tracking.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vigil/internal/http/middleware"
	"vigil/internal/modules/sos"
	"vigil/internal/types"
)

type SOSHandler struct {
	sos *sos.Service
}

func NewSOSHandler(svc *sos.Service) *SOSHandler {
	return &SOSHandler{sos: svc}
}

type triggerReq struct {
	TripID   string              `json:"tripId"`
	UserType string              `json:"userType"`
	Lat      float64             `json:"lat"`
	Lng      float64             `json:"lng"`
	Journey  sos.JourneyDetails  `json:"journey"`
}

func (h *SOSHandler) Trigger(c *gin.Context) {
	var req triggerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	alert, err := h.sos.Trigger(c.Request.Context(), sos.TriggerCommand{
		TripID:      types.ID(req.TripID),
		TriggeredBy: types.ID(middleware.CallerUID(c)),
		UserType:    req.UserType,
		Location:    types.Point{Lat: req.Lat, Lng: req.Lng},
		Journey:     req.Journey,
	})
	if err != nil {
		writeSOSError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, alertToResp(alert))
}

func (h *SOSHandler) Get(c *gin.Context) {
	alert, err := h.sos.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeSOSError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, alertToResp(alert))
}

func (h *SOSHandler) ActiveByTrip(c *gin.Context) {
	alert, err := h.sos.ActiveByTrip(c.Request.Context(), types.ID(c.Param("tripId")))
	if err != nil {
		writeSOSError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, alertToResp(alert))
}

func (h *SOSHandler) Acknowledge(c *gin.Context) {
	alert, err := h.sos.Acknowledge(c.Request.Context(),
		types.ID(c.Param("id")), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeSOSError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, alertToResp(alert))
}

type resolveReq struct {
	Resolution   string   `json:"resolution"`
	ActionsTaken []string `json:"actionsTaken"`
}

func (h *SOSHandler) Resolve(c *gin.Context) {
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	alert, err := h.sos.Resolve(c.Request.Context(),
		types.ID(c.Param("id")), types.ID(middleware.CallerUID(c)),
		req.Resolution, req.ActionsTaken)
	if err != nil {
		writeSOSError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, alertToResp(alert))
}

type trackingReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UpdateLocation appends a tracking point while the alert is live.
func (h *SOSHandler) UpdateLocation(c *gin.Context) {
	var req trackingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id := types.ID(c.Param("id"))
	if err := h.sos.UpdateContinuousTracking(c.Request.Context(), id, types.Point{Lat: req.Lat, Lng: req.Lng}); err != nil {
		writeSOSError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"alertId": id, "tracking": "updated"})
}

type alertResp struct {
	AlertID       string                `json:"alertId"`
	TripID        string                `json:"tripId"`
	Status        string                `json:"status"`
	Location      types.Point           `json:"location"`
	Journey       sos.JourneyDetails    `json:"journey"`
	Notifications sos.NotificationsSent `json:"notifications"`
	Tracking      sos.ContinuousTracking `json:"continuousTracking"`
	CreatedAt     string                `json:"createdAt"`
}

func alertToResp(a *sos.Alert) alertResp {
	return alertResp{
		AlertID:       string(a.ID),
		TripID:        string(a.TripID),
		Status:        string(a.Status),
		Location:      a.Location,
		Journey:       a.Journey,
		Notifications: a.Notifications,
		Tracking:      a.Tracking,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
