package engine

import (
	"context"
	"time"

	"aonline-proxy/work/logger"
)

// Race runs fn in its own goroutine and returns its value if it finishes
// within deadline, or fallback otherwise. fn receives a context that keeps
// the caller's values but not its cancellation, so a losing branch keeps
// running detached and its late value is dropped. A panic in fn yields
// fallback.
func Race[T any](ctx context.Context, deadline time.Duration, fallback T, fn func(context.Context) T) T {
	result := make(chan T, 1)
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("{engine/race - Race} Raced function panicked: %v", rec)
				result <- fallback
			}
		}()
		result <- fn(runCtx)
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case v := <-result:
		return v
	case <-timer.C:
		return fallback
	case <-ctx.Done():
		return fallback
	}
}
