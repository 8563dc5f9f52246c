// Package common holds small cross-cutting helpers shared by more than
// one engine component.
package common

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID mints a fresh UUIDv4 for a new Thread, BounceAggregate,
// BounceEvent, or Email row, keeping one canonical place for ID
// construction across the engine.
func NewID() string {
	return uuid.NewString()
}

// RecoverToError is a panic-recovery utility for goroutines launched by
// the worker pool: it converts a recovered panic into an error sent on
// errCh instead of crashing the process.
func RecoverToError(errCh chan<- error) {
	if r := recover(); r != nil {
		errCh <- fmt.Errorf("panic recovered: %v", r)
	}
}
