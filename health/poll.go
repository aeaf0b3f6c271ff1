// Package health implements the readiness protocol run after a deployment:
// waiting for a container service to stabilize and probing the tenant's
// health endpoint. Both are fixed-interval polls bounded by an attempt
// budget.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/tracing"
)

// Policy bounds a polling loop
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	// AttemptTimeout bounds a single check; zero means no extra bound
	AttemptTimeout time.Duration
}

// Budget is the wall-clock bound implied by the policy
func (p Policy) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

// WaitFunc blocks for d or until ctx is done
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the WaitFunc used outside tests
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkFunc reports whether the target condition holds. An error counts as
// a failed attempt, not as a failure of the loop.
type checkFunc func(ctx context.Context, attempt int) (bool, error)

// poll runs check until it succeeds or the attempt budget is spent. Every
// attempt emits a heartbeat. Cancelling ctx stops the loop with ctx's error.
func poll(ctx context.Context, operation string, p Policy, wait WaitFunc, check checkFunc) (int, error) {
	if wait == nil {
		wait = Sleep
	}

	var (
		lastErr error
		elapsed time.Duration
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		tracing.Heartbeat(ctx, operation, attempt)

		done, err := runCheck(ctx, p.AttemptTimeout, attempt, check)
		if err == nil && done {
			return attempt, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%s interrupted after %d attempts: %w", operation, attempt, ctx.Err())
		}
		if attempt == p.MaxAttempts {
			break
		}

		if err := wait(ctx, p.Interval); err != nil {
			return attempt, fmt.Errorf("%s interrupted after %d attempts: %w", operation, attempt, err)
		}
		elapsed += p.Interval
	}

	return p.MaxAttempts, &models.TimeoutError{
		Operation: operation,
		Attempts:  p.MaxAttempts,
		Elapsed:   elapsed,
		LastErr:   lastErr,
	}
}

func runCheck(ctx context.Context, timeout time.Duration, attempt int, check checkFunc) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return check(ctx, attempt)
}
