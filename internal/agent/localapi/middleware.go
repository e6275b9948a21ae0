package localapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/gin-gonic/gin"
)

// loggerMiddleware logs local API requests with slog
func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("origin", c.GetHeader("Origin")),
			slog.Duration("latency", time.Since(start)),
		)

		for _, e := range c.Errors {
			logger.Error("Request error",
				slog.String("error", e.Error()),
				slog.Uint64("type", uint64(e.Type)),
			)
		}
	}
}

// originPolicy decides which browser origins may drive the agent.
// Requests without an Origin header come from native clients and are always allowed.
type originPolicy struct {
	origins []string
	allowed map[string]bool
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" || p.allowed[strings.ToLower(o)] {
			continue
		}
		p.origins = append(p.origins, o)
		p.allowed[strings.ToLower(o)] = true
	}
	return p
}

func (p originPolicy) allows(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return p.allowed[strings.ToLower(origin)]
}

// originGuard refuses requests from browser origins outside the policy
func originGuard(p originPolicy, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !p.allows(c.Request) {
			logger.Warn("Refused request from foreign origin",
				slog.Bool("security", true),
				slog.String("origin", c.GetHeader("Origin")),
				slog.String("path", c.Request.URL.Path),
			)
			respond(c, http.StatusForbidden, clock.CodePermissionDenied, "", "origin not allowed")
			return
		}
		c.Next()
	}
}
