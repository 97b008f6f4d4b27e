package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/shop-orderflow/internal/apperr"
	"github.com/imrishuroy/shop-orderflow/internal/middleware"
)

const internalErrorMessage = "internal error"

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"message": ...}. Causes are logged, never sent.
func writeError(c *gin.Context, logger *zap.SugaredLogger, err error) {
	status := statusFor(err)
	msg, ok := apperr.MessageOf(err)
	if !ok {
		msg = internalErrorMessage
	}
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed",
			"request_id", middleware.RequestID(c),
			"path", c.FullPath(),
			"error", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}
