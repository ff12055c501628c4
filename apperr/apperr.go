// Package apperr defines the error taxonomy shared by all handlers and
// services, and maps errors to HTTP status codes at the boundary.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("authentication required")
	ErrForbidden         = errors.New("not authorized")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPaymentInitiation = errors.New("payment initiation failed")
)

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientStock):
		return http.StatusBadRequest

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrConflict):
		return http.StatusConflict

	case errors.Is(err, ErrPaymentInitiation):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
