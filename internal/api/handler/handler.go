package handler

import (
	"errors"
	"log/slog"

	"github.com/cuongbtq/fieldclock/internal/api/auth"
	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/cuongbtq/fieldclock/internal/api/service"
	"github.com/cuongbtq/fieldclock/internal/clock"
	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	ClockService *service.ClockService
	AdminService *service.AdminService
	Verifier     *auth.Verifier
}

// SetCaller stores the authenticated caller on the request
func SetCaller(c *gin.Context, caller domain.Caller) {
	c.Set(callerKey, caller)
}

// CallerFrom returns the caller stored by the auth middleware
func CallerFrom(c *gin.Context) (domain.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return domain.Caller{}, false
	}
	caller, ok := v.(domain.Caller)
	return caller, ok
}

// RespondError writes the wire error body for err. Internal detail stays in the log.
func RespondError(c *gin.Context, logger *slog.Logger, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		de = domain.Unavailable(err)
	}

	if de.Code == clock.CodeInternal || de.Code == clock.CodeUnavailable {
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("reason", string(de.Reason)),
			slog.Any("error", errors.Unwrap(de)),
		)
	}

	c.AbortWithStatusJSON(de.Code.HTTPStatus(), clock.ErrorResponse{
		Code:    de.Code,
		Reason:  de.Reason,
		Message: de.Message,
	})
}

func requireCaller(c *gin.Context, logger *slog.Logger) (domain.Caller, bool) {
	caller, ok := CallerFrom(c)
	if !ok {
		RespondError(c, logger, domain.NewError(clock.CodeUnauthenticated, "", "authentication required"))
		return domain.Caller{}, false
	}
	return caller, true
}

func badRequest(c *gin.Context, logger *slog.Logger, message string, err error) {
	logger.Info("Invalid request",
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
	)
	RespondError(c, logger, domain.InvalidArgument(message))
}
