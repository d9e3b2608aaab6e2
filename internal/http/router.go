// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vigil/internal/http/handlers"
	"vigil/internal/http/middleware"
	"vigil/internal/infra"
	"vigil/internal/metrics"
	"vigil/internal/modules/broadcast"
	"vigil/internal/modules/monitor"
	"vigil/internal/modules/share"
	"vigil/internal/modules/sos"
)

type RouterDeps struct {
	Monitor  *monitor.Service
	SOS      *sos.Service
	Share    *share.Service
	Hub      *broadcast.Hub
	Metrics  *metrics.Collector
	Verifier infra.TokenVerifier
	Log      *zap.Logger
}

// NewRouter wires the gin engine. A nil Verifier disables auth; that mode is
// for local development only and main logs loudly when it is active.
func NewRouter(deps RouterDeps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log))
	r.Use(middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	safety := handlers.NewSafetyHandler(deps.Monitor)
	sosHandler := handlers.NewSOSHandler(deps.SOS)
	shareHandler := handlers.NewShareHandler(deps.Share)
	ws := handlers.NewWSHandler(deps.Hub, deps.Log)

	api := r.Group("/api")
	requireRole := middleware.RequireRole
	if deps.Verifier != nil {
		api.Use(middleware.Auth(deps.Verifier))
	} else {
		requireRole = func(...string) gin.HandlerFunc {
			return func(c *gin.Context) { c.Next() }
		}
	}

	api.GET("/safety/events/:id", safety.Get)
	api.POST("/safety/events/:id/respond", safety.Respond)
	api.POST("/safety/events/:id/resolve", requireRole("admin", "support"), safety.Resolve)
	api.POST("/safety/trips/:tripId/end", safety.EndTrip)

	api.POST("/sos/alerts", sosHandler.Trigger)
	api.GET("/sos/alerts/:id", sosHandler.Get)
	api.GET("/sos/trips/:tripId", sosHandler.ActiveByTrip)
	api.POST("/sos/alerts/:id/acknowledge", requireRole("admin", "support"), sosHandler.Acknowledge)
	api.POST("/sos/alerts/:id/resolve", requireRole("admin", "support"), sosHandler.Resolve)
	api.POST("/sos/alerts/:id/location", sosHandler.UpdateLocation)

	api.POST("/share/sessions", shareHandler.Start)
	api.POST("/share/sessions/:id/contacts", shareHandler.AddContact)
	api.POST("/share/stop", shareHandler.Stop)
	api.POST("/share/trips/:tripId/stop_all", shareHandler.StopAll)

	api.GET("/ws/admin", requireRole("admin"), ws.Admin)
	api.GET("/ws/support", requireRole("admin", "support"), ws.Support)

	// Trusted contacts follow a share link; they have no account, so the
	// contact socket sits outside the authed group.
	r.GET("/ws/trips/:tripId/contacts/:phone", ws.Contact)

	return r
}
