package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	pkgerrors "github.com/partnerhubhq/partnerhub-backend/pkg/errors"
)

type statusError struct {
	status int
}

func (e statusError) Error() string   { return fmt.Sprintf("status %d", e.status) }
func (e statusError) StatusCode() int { return e.status }

func newTestExecutor(delays *[]time.Duration) *Executor {
	sleep := func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	return NewExecutorWithSleeper(nil, sleep)
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	exec := newTestExecutor(&delays)

	calls := 0
	err := exec.Execute(context.Background(), "flaky", Standard(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return statusError{status: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(delays))
	}
	if delays[0] != 250*time.Millisecond || delays[1] != 500*time.Millisecond {
		t.Fatalf("unexpected backoff schedule: %v", delays)
	}
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	exec := newTestExecutor(nil)

	calls := 0
	wantErr := statusError{status: 422}
	err := exec.Execute(context.Background(), "bad-request", Standard(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error should not be retried, got %d attempts", calls)
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	exec := newTestExecutor(&delays)

	calls := 0
	err := exec.Execute(context.Background(), "down", Aggressive(), func(ctx context.Context) error {
		calls++
		return statusError{status: 500}
	})
	if err == nil {
		t.Fatal("expected last error after exhaustion")
	}
	if calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls)
	}
	if len(delays) != 4 {
		t.Fatalf("expected 4 sleeps, got %d", len(delays))
	}
}

func TestExecuteDelayCappedAtMaxDelay(t *testing.T) {
	var delays []time.Duration
	exec := newTestExecutor(&delays)

	policy := Policy{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 3,
	}
	_ = exec.Execute(context.Background(), "capped", policy, func(ctx context.Context) error {
		return statusError{status: 503}
	})

	if len(delays) != 4 {
		t.Fatalf("expected 4 sleeps, got %d", len(delays))
	}
	for i, d := range delays[1:] {
		if d != 2*time.Second {
			t.Fatalf("delay %d not capped: %v", i+1, d)
		}
	}
}

func TestExecuteStopsWhenSleepInterrupted(t *testing.T) {
	exec := NewExecutorWithSleeper(nil, func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	})

	calls := 0
	err := exec.Execute(context.Background(), "canceled", Standard(), func(ctx context.Context) error {
		calls++
		return statusError{status: 503}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt before interruption, got %d", calls)
	}
}

func TestExecuteValueReturnsResult(t *testing.T) {
	exec := newTestExecutor(nil)

	calls := 0
	got, err := ExecuteValue(context.Background(), exec, "fetch", Fast(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, statusError{status: 429}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	policy := Standard()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable status", statusError{status: 503}, true},
		{"throttled", statusError{status: 429}, true},
		{"client error", statusError{status: 400}, false},
		{"wrapped status", fmt.Errorf("calling upstream: %w", statusError{status: 502}), true},
		{"platform dependency", pkgerrors.New(pkgerrors.CodeDependency, "redis down"), true},
		{"platform validation", pkgerrors.New(pkgerrors.CodeValidation, "bad input"), false},
		{"connection refused", errors.New("dial tcp 10.0.0.1:5432: connection refused"), true},
		{"timeout text", errors.New("i/o timeout"), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err, policy); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestPolicyNormalizeDefaults(t *testing.T) {
	p := Policy{}.normalize()
	if p.MaxAttempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 || p.MaxDelay <= 0 {
		t.Fatalf("expected positive delays, got %v / %v", p.InitialDelay, p.MaxDelay)
	}
	if !p.RetryableStatusCodes[503] {
		t.Fatal("expected default retryable status codes")
	}
}
