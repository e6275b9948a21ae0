package router

import (
	"net/http"

	"github.com/cuongbtq/fieldclock/internal/api/dto"
	"github.com/cuongbtq/fieldclock/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, dto.HealthResponse{
			Status:  "healthy",
			Service: "fieldclock-api-service",
		})
	})

	clockHandler := handler.NewClockHandler(deps)
	entryHandler := handler.NewEntryHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(deps.Verifier, deps.Logger))
	{
		clock := v1.Group("/clock")
		{
			clock.POST("/in", clockHandler.ClockIn)
			clock.POST("/out", clockHandler.ClockOut)
			clock.POST("/break/start", clockHandler.StartBreak)
			clock.POST("/break/end", clockHandler.EndBreak)
		}

		entries := v1.Group("/entries")
		{
			// GET /api/v1/entries - Admin listing with filtering and pagination
			entries.GET("", entryHandler.ListEntries)

			// GET /api/v1/entries/:entry_id - Entry details
			entries.GET("/:entry_id", entryHandler.GetEntry)

			// POST /api/v1/entries/:entry_id/dispute - Worker disputes a closed entry
			entries.POST("/:entry_id/dispute", clockHandler.Dispute)
		}

		admin := v1.Group("/admin/entries")
		{
			admin.PATCH("/:entry_id", entryHandler.EditEntry)
			admin.POST("/:entry_id/review", entryHandler.ReviewEntry)
		}
	}

	return r
}
