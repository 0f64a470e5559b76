// Package errors defines the error taxonomy shared by the rewriter, its
// configuration layer and the HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedQuery   = errors.New("malformed query")
	ErrConfiguration    = errors.New("configuration error")
	ErrLoadWarning      = errors.New("load warning")
	ErrStatisticsAbsent = errors.New("statistics absent")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnavailable      = errors.New("backend unavailable")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

// AppError attaches the failing operation and a human readable message to one
// of the sentinel errors above.
type AppError struct {
	Err        error
	Op         string
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, op string, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Op:         op,
		Message:    message,
		StatusCode: statusFor(sentinel),
	}
}

func Newf(sentinel error, op string, format string, args ...any) *AppError {
	return New(sentinel, op, fmt.Sprintf(format, args...))
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	for _, sentinel := range []error{
		ErrMalformedQuery, ErrInvalidInput, ErrTimeout, ErrUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return statusFor(sentinel)
		}
	}
	return http.StatusInternalServerError
}

func statusFor(sentinel error) int {
	switch sentinel {
	case ErrMalformedQuery, ErrInvalidInput:
		return http.StatusBadRequest
	case ErrTimeout, ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
