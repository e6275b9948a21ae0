package localapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// SetupRouter configures the localhost routes used by the UI.
// CORS headers are only served to the configured UI origins.
func SetupRouter(logger *slog.Logger, h *Handler) http.Handler {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(loggerMiddleware(logger))
	r.Use(originGuard(h.origins, logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "sync-agent"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/events", h.Enqueue)

		q := v1.Group("/queue")
		{
			q.GET("", h.ListQueue)
			q.GET("/pending/ws", h.StreamPending)
			q.POST("/:id/cancel", h.Cancel)
		}
	}

	if len(h.origins.origins) == 0 {
		return r
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: h.origins.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})(r)
}
