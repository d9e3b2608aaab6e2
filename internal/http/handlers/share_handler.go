// README: Location-sharing handlers: session lifecycle and contact management.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vigil/internal/http/middleware"
	"vigil/internal/modules/share"
	"vigil/internal/types"
)

type ShareHandler struct {
	share *share.Service
}

func NewShareHandler(svc *share.Service) *ShareHandler {
	return &ShareHandler{share: svc}
}

type startShareReq struct {
	TripID   string          `json:"tripId"`
	UserType string          `json:"userType"`
	Contacts []share.Contact `json:"contacts"`
}

func (h *ShareHandler) Start(c *gin.Context) {
	var req startShareReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := h.share.StartSharing(c.Request.Context(), share.StartCommand{
		TripID:   types.ID(req.TripID),
		UserID:   types.ID(middleware.CallerUID(c)),
		UserType: share.UserType(req.UserType),
		Contacts: req.Contacts,
	})
	if err != nil {
		writeShareError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, sessionToResp(sess))
}

type addContactReq struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *ShareHandler) AddContact(c *gin.Context) {
	var req addContactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := h.share.AddContact(c.Request.Context(), types.ID(c.Param("id")), share.Contact{
		Name:  req.Name,
		Phone: req.Phone,
	})
	if err != nil {
		writeShareError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sessionToResp(sess))
}

type stopShareReq struct {
	TripID string `json:"tripId"`
}

func (h *ShareHandler) Stop(c *gin.Context) {
	var req stopShareReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	uid := types.ID(middleware.CallerUID(c))
	if err := h.share.StopSharing(c.Request.Context(), types.ID(req.TripID), uid); err != nil {
		writeShareError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"tripId": req.TripID, "sharing": "stopped"})
}

// StopAll tears down every active session for a trip; used by internal
// services when a trip ends.
func (h *ShareHandler) StopAll(c *gin.Context) {
	tripID := types.ID(c.Param("tripId"))
	res, err := h.share.StopAllSharingForTrip(c.Request.Context(), tripID)
	if err != nil {
		writeShareError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"tripId":              tripID,
		"sessionsDeactivated": res.SessionsDeactivated,
		"contacts":            res.Contacts,
	})
}

type sessionResp struct {
	SessionID string          `json:"sessionId"`
	TripID    string          `json:"tripId"`
	UserType  string          `json:"userType"`
	Contacts  []share.Contact `json:"contacts"`
	IsActive  bool            `json:"isActive"`
	StartedAt string          `json:"startedAt"`
}

func sessionToResp(s *share.Session) sessionResp {
	return sessionResp{
		SessionID: string(s.ID),
		TripID:    string(s.TripID),
		UserType:  string(s.UserType),
		Contacts:  s.Contacts,
		IsActive:  s.IsActive,
		StartedAt: s.StartedAt.UTC().Format(time.RFC3339),
	}
}
