package router

import (
	"log/slog"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/auth"
	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/handler"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/gin-gonic/gin"
)

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(start)

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		}
		if caller, ok := handler.CallerFrom(c); ok {
			attrs = append(attrs, slog.String("user_id", caller.UserID))
		}

		// Log request details
		logger.Info("HTTP Request", attrs...)

		// Log errors if any
		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
					slog.Uint64("type", uint64(e.Type)),
				)
			}
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware verifies the bearer token and stores the caller on the context
func AuthMiddleware(verifier *auth.Verifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			handler.RespondError(c, logger, domain.NewError(clock.CodeUnauthenticated, "", "missing bearer token"))
			return
		}

		caller, err := verifier.Verify(token)
		if err != nil {
			logger.Warn("Rejected token",
				slog.Bool("security", true),
				slog.String("ip", c.ClientIP()),
				slog.String("error", err.Error()),
			)
			handler.RespondError(c, logger, domain.NewError(clock.CodeUnauthenticated, "", "invalid token"))
			return
		}

		handler.SetCaller(c, caller)
		c.Next()
	}
}
