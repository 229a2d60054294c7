// Package errors defines the error taxonomy shared by the indexing, sync and
// search layers, plus the HTTP status mapping used by the API binding.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrFetch                = errors.New("fetch failed")
	ErrExtraction           = errors.New("extraction failed")
	ErrIndexBuild           = errors.New("index build failed")
	ErrBackpressureRejected = errors.New("sync capacity exhausted, retry later")
	ErrQuery                = errors.New("invalid query")
	ErrTimeout              = errors.New("operation timed out")
	ErrCancelled            = errors.New("operation cancelled")
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrTenantExists         = errors.New("tenant already registered")
	ErrJobNotFound          = errors.New("sync job not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternal             = errors.New("internal error")
)

// Kind names a taxonomy class. It is what gets recorded on failed sync jobs.
type Kind string

const (
	KindNone         Kind = ""
	KindFetch        Kind = "fetch"
	KindExtraction   Kind = "extraction"
	KindIndexBuild   Kind = "index_build"
	KindBackpressure Kind = "backpressure"
	KindQuery        Kind = "query"
	KindTimeout      Kind = "timeout"
	KindCancelled    Kind = "cancelled"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

var taxonomy = []struct {
	sentinel error
	kind     Kind
}{
	{ErrCancelled, KindCancelled},
	{ErrTimeout, KindTimeout},
	{ErrFetch, KindFetch},
	{ErrExtraction, KindExtraction},
	{ErrIndexBuild, KindIndexBuild},
	{ErrBackpressureRejected, KindBackpressure},
	{ErrQuery, KindQuery},
	{ErrTenantNotFound, KindNotFound},
	{ErrJobNotFound, KindNotFound},
	{ErrTenantExists, KindConflict},
	{ErrInvalidInput, KindInvalidInput},
	{ErrInternal, KindInternal},
}

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

// KindOf reports the taxonomy class of err, or KindNone for nil.
// Errors that carry no sentinel are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.sentinel) {
			return t.kind
		}
	}
	return KindInternal
}

// Classify returns err unchanged when it already belongs to the taxonomy and
// wraps it with fallback otherwise. Bare context errors are mapped onto
// ErrCancelled and ErrTimeout.
func Classify(err error, fallback error) error {
	if err == nil {
		return nil
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.sentinel) {
			return err
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if fallback == nil {
		fallback = ErrInternal
	}
	return fmt.Errorf("%w: %w", fallback, err)
}

// Retryable reports whether the scheduler may retry a job that failed with err.
// Only fetch failures and job timeouts qualify.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) {
		return false
	}
	return errors.Is(err, ErrFetch) || errors.Is(err, ErrTimeout)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTenantExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrBackpressureRejected):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
