// Package errors defines the error taxonomy shared by the index engine, the
// batched writer and the HTTP surface. Callers classify failures with
// errors.Is against the sentinels; wrapped causes stay reachable.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrCodec            = errors.New("codec error")
	ErrStorage          = errors.New("storage error")
	ErrLock             = errors.New("lock error")
	ErrIllegalState     = errors.New("illegal state")
	ErrRebuildRequested = errors.New("index rebuild requested")
	ErrQueueFull        = errors.New("batch queue full")
	ErrVersionMismatch  = errors.New("index version mismatch")
	ErrUncleanShutdown  = errors.New("index was not closed cleanly")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnitNotFound     = errors.New("unit not found")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Storage tags err as an ErrStorage failure of op.
func Storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Codec tags err as an ErrCodec failure of op.
func Codec(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCodec, op, err)
}

// Lock tags err as an ErrLock failure of op.
func Lock(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLock, op, err)
}

// IsCorruption reports whether err means persisted state cannot be trusted.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCodec) || errors.Is(err, ErrStorage)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrUnitNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrIllegalState):
		return http.StatusGone
	case errors.Is(err, ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrLock):
		return http.StatusConflict
	case errors.Is(err, ErrRebuildRequested), errors.Is(err, ErrStorage),
		errors.Is(err, ErrCodec), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
