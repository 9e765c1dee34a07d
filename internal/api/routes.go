package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger *slog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		batches := v1.Group("/batches")
		{
			batches.GET("", handler.ListBatches)
			batches.GET("/:id", handler.GetBatch)
		}

		repos := v1.Group("/repos/:owner/:repo")
		{
			repos.GET("/records/:kind", handler.GetRecords)
		}
	}

	return router
}
