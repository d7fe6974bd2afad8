package parcache

import (
	"errors"
	"fmt"
)

// Sentinel errors for the cache layer.
var (
	// ErrUnstableFingerprint is returned when a utility's identity or call
	// arguments cannot be canonically encoded. A key derived from unstable
	// state would cause silently wrong cache hits, so key building fails
	// loudly instead.
	ErrUnstableFingerprint = errors.New("parcache: fingerprint is not stable")
)

// StorageError wraps a backend I/O or connection failure. Callers on the
// memoized path treat it as a cache miss and fall back to direct computation;
// caching is an optimization, never a correctness dependency.
type StorageError struct {
	Driver Driver
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("parcache: %s store %s: %v", e.Driver, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(driver Driver, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Driver: driver, Op: op, Err: err}
}
