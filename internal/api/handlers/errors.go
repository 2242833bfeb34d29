package routes

import (
	"errors"
	"net/http"

	"floodwatch/internal/model"
	"floodwatch/internal/service/monitor"
	"floodwatch/internal/service/queue"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var validation validator.ValidationErrors
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadySyncing),
		errors.Is(err, queue.ErrNotFailed),
		errors.Is(err, queue.ErrAlreadyRetried),
		errors.Is(err, monitor.ErrNotActive),
		errors.Is(err, monitor.ErrStopping),
		errors.Is(err, monitor.ErrNoFix):
		return http.StatusConflict
	case errors.Is(err, model.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, model.ErrLocationUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, model.ErrServer):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrOffline),
		errors.Is(err, model.ErrNetworkTimeout),
		errors.Is(err, model.ErrLocationTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"status":  "error",
		"message": err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  "error",
		"message": err.Error(),
	})
}
