package swrcache

import (
	"errors"
	"fmt"
)

// ErrGenerationTimeout is returned (to every joined caller) when a
// generation exceeds Options.GenerateTimeout. Nothing is written to the
// store in that case.
var ErrGenerationTimeout = errors.New("swrcache: generation timeout")

// StoreError wraps a backing-store failure. Read failures are absorbed by
// the policy (degrade to generation); write failures surface to the caller
// wrapped in a StoreError.
type StoreError struct {
	Op  string // "get", "set" or "drop"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("swrcache: store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// GenerationError wraps a failure of the caller-supplied Generate function.
// The original error is preserved via Unwrap; nothing is cached.
type GenerationError struct {
	Key string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("swrcache: generate %q: %v", e.Key, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
