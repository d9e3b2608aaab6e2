// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vigil/internal/modules/geo"
	"vigil/internal/modules/monitor"
	"vigil/internal/modules/share"
	"vigil/internal/modules/sos"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeMonitorError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, monitor.ErrBadRequest), errors.Is(err, geo.ErrInvalidCoordinates):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, monitor.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrAlreadyHandled), errors.Is(err, monitor.ErrInvalidState),
		errors.Is(err, monitor.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeSOSError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sos.ErrBadRequest), errors.Is(err, geo.ErrInvalidCoordinates):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, sos.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, sos.ErrActiveAlert), errors.Is(err, sos.ErrInvalidState),
		errors.Is(err, sos.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeShareError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, share.ErrMaxContactsExceeded), errors.Is(err, share.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, share.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, share.ErrAlreadySharing):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
