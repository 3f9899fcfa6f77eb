package categories

import (
	"errors"
	"net/http"
)

// Domain errors for taxonomy operations.
var (
	ErrInvalidCategory = errors.New("invalid category")
	ErrNotFound        = errors.New("category not found")
	ErrProtected       = errors.New("category is protected")
	ErrPersist         = errors.New("persist categories")
)

// MapHTTPStatus maps taxonomy errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCategory):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrProtected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
