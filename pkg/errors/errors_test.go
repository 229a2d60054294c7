package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	raw := errors.New("connection refused")

	t.Run("unknown error gets fallback", func(t *testing.T) {
		err := Classify(raw, ErrFetch)
		assert.ErrorIs(t, err, ErrFetch)
		assert.ErrorIs(t, err, raw)
		assert.Equal(t, KindFetch, KindOf(err))
	})

	t.Run("taxonomy error is kept", func(t *testing.T) {
		in := fmt.Errorf("building: %w", ErrIndexBuild)
		err := Classify(in, ErrFetch)
		assert.Same(t, in, err)
		assert.Equal(t, KindIndexBuild, KindOf(err))
	})

	t.Run("context errors", func(t *testing.T) {
		assert.ErrorIs(t, Classify(context.Canceled, ErrFetch), ErrCancelled)
		assert.ErrorIs(t, Classify(context.DeadlineExceeded, ErrFetch), ErrTimeout)
	})

	t.Run("nil fallback is internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(Classify(raw, nil)))
	})

	assert.NoError(t, Classify(nil, ErrFetch))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, Retryable(Classify(errors.New("dns"), ErrFetch)))
	assert.True(t, Retryable(ErrTimeout))
	assert.False(t, Retryable(ErrIndexBuild))
	assert.False(t, Retryable(ErrExtraction))
	assert.False(t, Retryable(fmt.Errorf("%w: %w", ErrCancelled, ErrFetch)))
	assert.False(t, Retryable(nil))
}

func TestHTTPStatusCode(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		ErrTenantNotFound:       http.StatusNotFound,
		ErrJobNotFound:          http.StatusNotFound,
		ErrTenantExists:         http.StatusConflict,
		ErrQuery:                http.StatusBadRequest,
		ErrBackpressureRejected: http.StatusTooManyRequests,
		ErrTimeout:              http.StatusServiceUnavailable,
		ErrIndexBuild:           http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatusCode(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
	assert.Equal(t, http.StatusTeapot, HTTPStatusCode(New(ErrInternal, http.StatusTeapot, "x")))
}
