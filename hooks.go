package swrcache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The policy calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the policy on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A store read failed and the call degraded to generation.
	StoreReadDegraded(storageKey string, err error)

	// Store returned ok=false on Set (backpressure/admission refusal).
	StoreSetRejected(storageKey string)

	// A stale hit scheduled a background regeneration.
	RefreshScheduled(storageKey string)

	// A background regeneration failed (never surfaced to callers).
	RefreshError(storageKey string, err error)

	// A generation exceeded Options.GenerateTimeout.
	GenerationTimedOut(storageKey string, limit time.Duration)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)                  {}
func (NopHooks) StoreReadDegraded(string, error)          {}
func (NopHooks) StoreSetRejected(string)                  {}
func (NopHooks) RefreshScheduled(string)                  {}
func (NopHooks) RefreshError(string, error)               {}
func (NopHooks) GenerationTimedOut(string, time.Duration) {}
