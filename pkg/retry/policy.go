package retry

import "time"

// Policy bounds the retry behavior of Execute.
type Policy struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes map[int]bool
}

// DefaultRetryableStatusCodes covers throttling and transient server failures.
func DefaultRetryableStatusCodes() map[int]bool {
	return map[int]bool{
		408: true,
		425: true,
		429: true,
		500: true,
		502: true,
		503: true,
		504: true,
	}
}

// Fast suits inner loops where the caller cannot afford to wait long.
func Fast() Policy {
	return Policy{
		MaxAttempts:          3,
		InitialDelay:         100 * time.Millisecond,
		MaxDelay:             time.Second,
		BackoffMultiplier:    2,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// Standard is the default policy for event handler invocations.
func Standard() Policy {
	return Policy{
		MaxAttempts:          4,
		InitialDelay:         250 * time.Millisecond,
		MaxDelay:             4 * time.Second,
		BackoffMultiplier:    2,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// Aggressive suits outbound calls where giving up is expensive.
func Aggressive() Policy {
	return Policy{
		MaxAttempts:          5,
		InitialDelay:         500 * time.Millisecond,
		MaxDelay:             10 * time.Second,
		BackoffMultiplier:    2,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.InitialDelay
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 2
	}
	if p.RetryableStatusCodes == nil {
		p.RetryableStatusCodes = DefaultRetryableStatusCodes()
	}
	return p
}
