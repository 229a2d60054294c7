package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

// WithTimeout runs fn on the calling goroutine under a deadline derived from
// ctx. A failure after the deadline passed is wrapped with
// apperrors.ErrTimeout unless ctx itself ended first. A non-positive timeout
// runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err != nil && ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded %s: %w", apperrors.ErrTimeout, name, timeout, err)
	}
	return err
}
