package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/papershelf/internal/api/handler"
	"github.com/timmy/papershelf/internal/api/middleware"
	"github.com/timmy/papershelf/internal/config"
	"github.com/timmy/papershelf/internal/logger"
)

// Services bundles what the router exposes. Everything but Conversions
// and Library is optional.
type Services struct {
	Conversions handler.Conversions
	Library     handler.Library
	Search      handler.Searcher
	Tools       handler.ToolRegistry
	Events      handler.EventStream
	Ingest      handler.Ingester
	History     handler.JobHistory
	StagingRoot string
	JobCount    func() int
	Info        handler.ServerInfo
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg *config.ServerConfig, log *logger.Logger) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	// Old-style ids contain a slash and arrive percent-encoded in the path.
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(svc.JobCount)
	paperHandler := handler.NewPaperHandler(svc.Conversions, svc.Library)

	r.GET("/health", healthHandler.Health)

	if svc.Tools != nil {
		mcpHandler := handler.NewMCPHandler(svc.Tools, svc.Info)
		r.POST("/mcp", mcpHandler.Handle)
	}
	if svc.Events != nil {
		r.GET("/ws", handler.NewEventsHandler(svc.Events).Subscribe)
	}

	v1 := r.Group("/api/v1")
	{
		if svc.Search != nil {
			searchHandler := handler.NewSearchHandler(svc.Search)
			v1.GET("/search", searchHandler.SearchGet)
			v1.POST("/search", searchHandler.SearchPost)
		}

		v1.GET("/papers", paperHandler.List)
		v1.GET("/papers/:id", paperHandler.Read)
		v1.POST("/papers/:id/download", paperHandler.Download)
		v1.GET("/papers/:id/status", paperHandler.Status)
		v1.DELETE("/papers/:id/status", paperHandler.Forget)

		if svc.Ingest != nil {
			adminHandler := handler.NewAdminHandler(svc.Ingest, svc.History, svc.StagingRoot)
			admin := v1.Group("/admin")
			admin.POST("/ingest", adminHandler.TriggerIngest)
			admin.GET("/ingest/status", adminHandler.GetIngestStatus)
			admin.POST("/retry", adminHandler.RetryFailed)
			admin.GET("/jobs/stats", adminHandler.JobStats)
			admin.GET("/papers/:id/history", adminHandler.PaperHistory)
		}
	}

	return r
}
