package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"agileflow/internal/domain"
)

// statusFor maps a service error to an HTTP status and whether repeating the
// request unchanged may succeed.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, false
	case errors.Is(err, domain.ErrCrossSpace):
		return http.StatusUnprocessableEntity, false
	case errors.Is(err, domain.ErrPositionExhausted):
		return http.StatusConflict, false
	case errors.Is(err, domain.ErrConflict), errors.Is(err, context.DeadlineExceeded):
		return http.StatusConflict, true
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, false
	}
}

func writeError(c echo.Context, err error) error {
	status, retryable := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
		msg = http.StatusText(status)
	}
	return c.JSON(status, errorResponse{Error: msg, Retryable: retryable})
}
