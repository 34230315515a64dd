package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracklab/backend/internal/domain/challenge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/objective"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/tagmanager"
)

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, challenge.ErrChallengeNotFound),
		errors.Is(err, sandbox.ErrElementNotFound),
		errors.Is(err, session.ErrUnknownStateKey):
		return http.StatusNotFound
	case errors.Is(err, tagmanager.ErrInvalidTagID),
		errors.Is(err, tagmanager.ErrInvalidStatus),
		errors.Is(err, session.ErrInvalidEgress),
		errors.Is(err, challenge.ErrInvalidChallenge),
		errors.Is(err, objective.ErrInvalidRule),
		errors.Is(err, objective.ErrUnknownOperator):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoChallenge),
		errors.Is(err, session.ErrNoFrame):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, sandbox.ErrFrameClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sandbox.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail writes {"error": "..."} with the mapped status.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("session", c.Param("id")),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
