package oobd

import (
	"net/http"

	"github.com/pkg/errors"
)

// APIError is an error with a definite HTTP mapping. Engine methods
// return it for caller mistakes; anything else is a 500.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string { return e.Message }

func BadRequest(format string, args ...interface{}) error {
	return &APIError{Code: http.StatusBadRequest, Message: errors.Errorf(format, args...).Error()}
}

func NotFound(format string, args ...interface{}) error {
	return &APIError{Code: http.StatusNotFound, Message: errors.Errorf(format, args...).Error()}
}

func Unauthorized(message string) error {
	return &APIError{Code: http.StatusUnauthorized, Message: message}
}

// HTTPStatus maps err to a response code. Wrapped APIErrors keep their
// code; everything else is an internal error.
func HTTPStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return http.StatusInternalServerError
}
