package config

import (
	"errors"
	"fmt"
)

// Configuration validation errors returned by Config.Validate.
var (
	// ErrInvalidTotalConcurrency is returned when the global ceiling is not positive.
	ErrInvalidTotalConcurrency = errors.New("invalid total concurrency: must be positive")

	// ErrInvalidDomainConcurrency is returned when the per-domain ceiling is not positive.
	ErrInvalidDomainConcurrency = errors.New("invalid per-domain concurrency: must be positive")

	// ErrInvalidIPConcurrency is returned when the per-IP ceiling is negative.
	// 0 disables IP-keyed slots.
	ErrInvalidIPConcurrency = errors.New("invalid per-IP concurrency: must be non-negative")

	// ErrInvalidDelay is returned when the download delay is negative.
	ErrInvalidDelay = errors.New("invalid download delay: must be non-negative")

	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidSize is returned when a size ceiling is negative; use 0 to disable it.
	ErrInvalidSize = errors.New("invalid size limit: must be non-negative")

	// ErrInvalidGCInterval is returned when the slot GC interval is not positive.
	ErrInvalidGCInterval = errors.New("invalid slot GC interval: must be positive")

	// ErrInvalidSlot is wrapped by SlotError.
	ErrInvalidSlot = errors.New("invalid slot override")
)

// SlotError reports a per-slot override with negative values.
type SlotError struct {
	Key string
}

// Error implements error.
func (e *SlotError) Error() string {
	return fmt.Sprintf("%v %q: concurrency and delay must be non-negative", ErrInvalidSlot, e.Key)
}

// Unwrap returns ErrInvalidSlot.
func (e *SlotError) Unwrap() error {
	return ErrInvalidSlot
}
