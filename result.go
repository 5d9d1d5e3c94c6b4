package swrcache

import "time"

// Outcome classifies how a call was served.
type Outcome string

const (
	// OutcomeFresh - served from the store inside the freshness window.
	OutcomeFresh Outcome = "fresh"
	// OutcomeStale - served from the store inside the stale window;
	// a background regeneration was scheduled.
	OutcomeStale Outcome = "stale"
	// OutcomeGenerated - absent or expired; generated on the critical path.
	OutcomeGenerated Outcome = "generated"
	// OutcomeBypass - policy disabled; store was not consulted.
	OutcomeBypass Outcome = "bypass"
)

// CachedMeta describes the stored entry a value was served from.
type CachedMeta struct {
	StoredAt time.Time
	TTL      time.Duration
	Stale    bool
}

// Report carries per-call diagnostics. It is built fresh on every call and
// never persisted.
type Report struct {
	Outcome Outcome
	Key     string // fully-qualified storage key
	Elapsed time.Duration
	// ReadDegraded is true when the store read failed and the call fell
	// through to generation instead of failing.
	ReadDegraded bool
}

// Result decorates a value with cache metadata. Cached is non-nil only when
// the value was served from the store; values generated on this call carry
// Cached == nil.
type Result[V any] struct {
	Value  V
	Cached *CachedMeta
	Report Report
}
