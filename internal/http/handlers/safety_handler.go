// README: Safety-check handlers: event lookup, passenger responses, trip lifecycle.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vigil/internal/modules/monitor"
	"vigil/internal/types"
)

type SafetyHandler struct {
	monitor *monitor.Service
}

func NewSafetyHandler(svc *monitor.Service) *SafetyHandler {
	return &SafetyHandler{monitor: svc}
}

type respondReq struct {
	Response string `json:"response"`
}

type eventResp struct {
	EventID          string                    `json:"eventId"`
	TripID           string                    `json:"tripId"`
	Status           string                    `json:"status"`
	Anchor           types.Point               `json:"anchor"`
	StartedAt        string                    `json:"startedAt"`
	Response         monitor.PassengerResponse `json:"response"`
	Escalation       monitor.Escalation        `json:"escalation"`
	SOSAlertID       string                    `json:"sosAlertId,omitempty"`
	ResolutionReason string                    `json:"resolutionReason,omitempty"`
}

func eventToResp(e *monitor.Event) eventResp {
	r := eventResp{
		EventID:          string(e.ID),
		TripID:           string(e.TripID),
		Status:           string(e.Status),
		Anchor:           e.Anchor,
		StartedAt:        e.StartedAt.UTC().Format(time.RFC3339),
		Response:         e.Response,
		Escalation:       e.Escalation,
		ResolutionReason: e.ResolutionReason,
	}
	if e.SOSAlertID != nil {
		r.SOSAlertID = string(*e.SOSAlertID)
	}
	return r
}

// Respond records the passenger's answer to the "Is everything okay?" prompt.
func (h *SafetyHandler) Respond(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing event id")
		return
	}
	var req respondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	e, err := h.monitor.HandleResponse(c.Request.Context(), types.ID(id), req.Response)
	if err != nil {
		writeMonitorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, eventToResp(e))
}

func (h *SafetyHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing event id")
		return
	}
	e, err := h.monitor.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeMonitorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, eventToResp(e))
}

// Resolve lets support close out an escalated or help-requested event.
func (h *SafetyHandler) Resolve(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing event id")
		return
	}
	e, err := h.monitor.ResolveEscalated(c.Request.Context(), types.ID(id))
	if err != nil {
		writeMonitorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, eventToResp(e))
}

// EndTrip is called by the trip service when a ride completes or cancels.
func (h *SafetyHandler) EndTrip(c *gin.Context) {
	tripID := c.Param("tripId")
	if tripID == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	if err := h.monitor.EndTrip(c.Request.Context(), types.ID(tripID)); err != nil {
		writeMonitorError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"tripId": tripID, "monitoring": "stopped"})
}
