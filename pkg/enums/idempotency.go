package enums

import "fmt"

// IdempotencyStatus is the lifecycle state of a guarded request record.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

var validIdempotencyStatuses = []IdempotencyStatus{
	IdempotencyInProgress,
	IdempotencyCompleted,
	IdempotencyFailed,
}

// IsValid reports whether the value matches a known idempotency status.
func (s IdempotencyStatus) IsValid() bool {
	for _, candidate := range validIdempotencyStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseIdempotencyStatus converts raw input into IdempotencyStatus.
func ParseIdempotencyStatus(value string) (IdempotencyStatus, error) {
	for _, candidate := range validIdempotencyStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid idempotency status %q", value)
}
