package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/partnerhubhq/partnerhub-backend/pkg/errors"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

// Sleeper waits for the given duration or until ctx is canceled. Injected so
// tests never sleep for real.
type Sleeper func(ctx context.Context, d time.Duration) error

// StatusCoder is implemented by errors that carry an HTTP-like status.
type StatusCoder interface {
	StatusCode() int
}

// Executor retries an operation under a Policy until it succeeds, the error
// is classified non-retryable, or attempts run out.
type Executor struct {
	logg  *logger.Logger
	sleep Sleeper
}

func NewExecutor(logg *logger.Logger) *Executor {
	return &Executor{logg: logg, sleep: sleepContext}
}

// NewExecutorWithSleeper is the test seam for deterministic backoff.
func NewExecutorWithSleeper(logg *logger.Logger, sleep Sleeper) *Executor {
	if sleep == nil {
		sleep = sleepContext
	}
	return &Executor{logg: logg, sleep: sleep}
}

// Execute runs op until success or exhaustion, returning the last error.
func (e *Executor) Execute(ctx context.Context, name string, policy Policy, op func(ctx context.Context) error) error {
	_, err := ExecuteValue(ctx, e, name, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// ExecuteValue is Execute for operations producing a value.
func ExecuteValue[T any](ctx context.Context, e *Executor, name string, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	policy = policy.normalize()
	delay := policy.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err, policy) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		if e.logg != nil {
			fields := map[string]any{
				"operation": name,
				"attempt":   attempt,
				"delay_ms":  delay.Milliseconds(),
				"error":     err.Error(),
			}
			e.logg.Warn(e.logg.WithFields(ctx, fields), "operation failed, retrying")
		}

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("%s retry wait interrupted: %w", name, sleepErr)
		}
		delay = nextDelay(delay, policy)
	}
	return zero, lastErr
}

// IsRetryable classifies an error against the policy. Pure function of
// (error, policy).
func IsRetryable(err error, policy Policy) bool {
	if err == nil {
		return false
	}
	policy = policy.normalize()
	if status, ok := extractStatusCode(err); ok {
		return policy.RetryableStatusCodes[status]
	}
	return isTransientNetworkError(err)
}

func nextDelay(current time.Duration, policy Policy) time.Duration {
	next := time.Duration(float64(current) * policy.BackoffMultiplier)
	if next > policy.MaxDelay {
		return policy.MaxDelay
	}
	return next
}

func extractStatusCode(err error) (int, bool) {
	var coder StatusCoder
	if asStatusCoder(err, &coder) {
		return coder.StatusCode(), true
	}
	if typed := pkgerrors.As(err); typed != nil {
		return pkgerrors.MetadataFor(typed.Code()).HTTPStatus, true
	}
	return 0, false
}

func asStatusCoder(err error, target *StatusCoder) bool {
	for err != nil {
		if coder, ok := err.(StatusCoder); ok {
			*target = coder
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

var transientIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"deadline exceeded",
	"no such host",
	"temporary failure in name resolution",
	"socket hang up",
}

func isTransientNetworkError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range transientIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
