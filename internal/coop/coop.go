// Package coop implements the cooperative checkpoint that every long-running
// loop in the engine runs between steps.
package coop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// ErrCanceled is returned when an operation stops because its session was
// canceled or its context ended. It is an outcome, not a failure.
var ErrCanceled = errors.New("operation canceled")

// Checkpoint polls the cancel flag and the context, then yields the processor.
// canceled may be nil.
func Checkpoint(ctx context.Context, canceled func() bool) error {
	if canceled != nil && canceled() {
		return ErrCanceled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	runtime.Gosched()
	return nil
}
