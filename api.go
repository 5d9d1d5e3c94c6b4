package swrcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/swrcache/codec"
	st "github.com/unkn0wn-root/swrcache/store"
)

// GenerateFunc produces the value for an id on a cache miss or refresh.
// It may be slow; the policy bounds it with Options.GenerateTimeout.
type GenerateFunc[V any] func(ctx context.Context, id string) (V, error)

// KeyFunc derives a cache id from structured parameters. It must be
// deterministic: identical logical input must always yield the same id.
type KeyFunc func(params any) (string, error)

// SetCostFunc computes the cost passed to the store on writes.
// Cost-based stores (e.g. Ristretto) use it for admission and eviction.
type SetCostFunc func(key string, raw []byte) int64

// Policy is the high-level, store-agnostic caching policy API.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Policy[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Get returns the value for id, serving from the store when fresh or
	// stale, and generating (single-flight per key) otherwise.
	Get(ctx context.Context, id string) (V, error)

	// GetResult is Get with cache metadata and a per-call report attached.
	GetResult(ctx context.Context, id string) (Result[V], error)

	// GetBy and GetResultBy derive the id from structured params via
	// Options.KeyFunc before performing the equivalent Get/GetResult.
	GetBy(ctx context.Context, params any) (V, error)
	GetResultBy(ctx context.Context, params any) (Result[V], error)

	// Peek reads the store without triggering generation or refresh.
	// ok is false for absent, expired, or undecodable entries.
	Peek(ctx context.Context, id string) (v V, ok bool, err error)

	// Invalidate drops the entry for id.
	Invalidate(ctx context.Context, id string) error
}

// Options tune the behavior of a policy.
// Segment, Store, Codec and Generate are required; others have defaults.
type Options[V any] struct {
	// Required
	Segment  string // logical collection name, e.g. "user", "weather"
	Store    st.Store
	Codec    c.Codec[V]
	Generate GenerateFunc[V]

	TTL             time.Duration // hard expiry; 0 => 10m
	StaleWindow     time.Duration // serve-stale window before TTL; 0 => disabled; must be < TTL
	GenerateTimeout time.Duration // bound on Generate; 0 => unbounded

	KeyFunc        KeyFunc     // structured params -> id; nil => keys.Hash
	Logger         Logger      // nil => NopLogger
	Hooks          Hooks       // nil => NopHooks
	ComputeSetCost SetCostFunc // nil => len(raw)
	Disabled       bool        // bypass the store; generate on every call

	// Now overrides the clock, for tests. nil => time.Now.
	Now func() time.Time
}

// New builds a Policy from opts.
func New[V any](opts Options[V]) (Policy[V], error) {
	return newPolicy[V](opts)
}
