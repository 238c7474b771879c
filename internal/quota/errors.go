package quota

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrActionRequired  = errors.New("action is required")
	ErrSubjectRequired = errors.New("subject is required")
	ErrMaxRequired     = errors.New("max is required")
	ErrPeriodRequired  = errors.New("period is required")

	// ErrUnsupportedSubject is returned for subjects that have no byte form.
	ErrUnsupportedSubject = errors.New("unsupported subject type")

	// ErrQuotaExceeded is matched by every *ExceededError.
	ErrQuotaExceeded = errors.New("limit exceeded")

	// ErrConflict is returned when a write kept losing races for the same key.
	ErrConflict = errors.New("concurrent update conflict")

	ErrUnknownAction = errors.New("limit not found")
	ErrNoPolicy      = errors.New("no policy configured")
)

// ExceededError identifies the limit that rejected an IncrementOrFail call.
type ExceededError struct {
	Action string
	Key    string
	Max    int64
	Period time.Duration
	Amount int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("limit exceeded: %s (%s) cannot take %d of %d per %s",
		e.Action, e.Key, e.Amount, e.Max, e.Period)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// UnknownActionError is returned by Policy lookups for unregistered actions.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("limit not found: %q", e.Action)
}

func (e *UnknownActionError) Is(target error) bool {
	return target == ErrUnknownAction
}
