package web

import (
	"github.com/gin-gonic/gin"

	"github.com/hearthkeep/famsync/internal/config"
)

// NewRouter builds the gin engine with the full middleware chain and routes.
func NewRouter(cfg *config.Config, h *Handlers) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())
	router.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(RequireJSON())

	router.GET("/healthz", h.Healthz)
	router.GET("/ical/:familyID", h.ICalFeed)

	api := router.Group("/api")
	{
		api.POST("/families", h.CreateFamily)
		api.POST("/families/:id/calendar", h.BindCalendar)
		api.POST("/families/:id/accounts", h.ConnectAccount)
		api.GET("/families/:id/accounts", h.ListAccounts)
		api.GET("/families/:id/events", h.ListEvents)
		api.GET("/families/:id/sync-status", h.SyncStatus)
		api.POST("/families/:id/retry-sync", h.RetryFamilySync)

		api.POST("/events", h.CreateEvent)
		api.POST("/events/ingest", h.IngestEvent)
		api.GET("/events/:id", h.GetEvent)
		api.PUT("/events/:id", h.UpdateEvent)
		api.DELETE("/events/:id", h.DeleteEvent)
		api.POST("/events/:id/confirm", h.ConfirmEvent)
		api.POST("/events/:id/retry-sync", h.RetryEventSync)

		api.DELETE("/accounts/:id", h.DeactivateAccount)
	}

	return router
}
