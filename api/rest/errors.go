package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/escaperoom/server/game/arbiter"
	"github.com/kasuganosora/escaperoom/server/game/catalog"
	"github.com/kasuganosora/escaperoom/server/game/lifecycle"
	mw "github.com/kasuganosora/escaperoom/server/middleware"
	"github.com/kasuganosora/escaperoom/server/storage"
	"github.com/kasuganosora/escaperoom/server/store"
	"go.uber.org/zap"
)

// statusOf maps service errors to HTTP status codes. Unknown errors are 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidInput),
		errors.Is(err, arbiter.ErrInvalidPayload),
		errors.Is(err, arbiter.ErrNotAttempt),
		errors.Is(err, arbiter.ErrInvalidDecision),
		errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrInvalidDuration),
		errors.Is(err, lifecycle.ErrInvalidHms),
		errors.Is(err, storage.ErrUnsupportedType),
		errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, arbiter.ErrPlayerBanned),
		errors.Is(err, store.ErrAdminDisabled):
		return http.StatusForbidden
	case errors.Is(err, arbiter.ErrAlreadyProcessed),
		errors.Is(err, arbiter.ErrGameNotRunning),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrGameEnded),
		errors.Is(err, catalog.ErrGameEnded),
		errors.Is(err, store.ErrUsernameTaken),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInsufficientGold):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error. Server errors are logged and hidden from
// the client.
func fail(c *gin.Context, logger *zap.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
