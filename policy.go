package swrcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/keys"
	"github.com/unkn0wn-root/swrcache/internal/wire"
	st "github.com/unkn0wn-root/swrcache/store"
)

const defaultTTL = 10 * time.Minute

type policy[V any] struct {
	segment  string
	store    st.Store
	codec    c.Codec[V]
	generate GenerateFunc[V]

	ttl         time.Duration
	staleWindow time.Duration
	genTimeout  time.Duration

	keyFunc KeyFunc
	log     Logger
	hooks   Hooks
	cost    SetCostFunc
	enabled bool
	now     func() time.Time

	// flights collapses concurrent generations per storage key. Both the
	// synchronous miss path and the background refresh path go through it,
	// so at most one generation is in flight per key within the process.
	flights singleflight.Group

	// refreshing marks keys with a scheduled background refresh so a burst
	// of stale hits spawns a single goroutine, not one per caller.
	refreshing sync.Map
	refreshWg  sync.WaitGroup
}

func newPolicy[V any](opts Options[V]) (*policy[V], error) {
	if err := validateSegment(opts.Segment); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("swrcache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("swrcache: codec is required")
	}
	if opts.Generate == nil {
		return nil, fmt.Errorf("swrcache: generate func is required")
	}

	p := &policy[V]{
		segment:  opts.Segment,
		store:    opts.Store,
		codec:    opts.Codec,
		generate: opts.Generate,
		enabled:  !opts.Disabled,
	}

	// defaults
	p.ttl = coalesce[time.Duration](opts.TTL, defaultTTL)
	p.staleWindow = opts.StaleWindow
	p.genTimeout = opts.GenerateTimeout
	p.log = coalesce[Logger](opts.Logger, NopLogger{})
	p.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	if p.ttl < 0 {
		return nil, fmt.Errorf("swrcache: ttl must be positive")
	}
	if p.staleWindow < 0 || p.staleWindow >= p.ttl {
		return nil, fmt.Errorf("swrcache: stale window (%v) must be shorter than ttl (%v)", p.staleWindow, p.ttl)
	}

	if opts.KeyFunc != nil {
		p.keyFunc = opts.KeyFunc
	} else {
		p.keyFunc = keys.Hash
	}
	if opts.ComputeSetCost != nil {
		p.cost = opts.ComputeSetCost
	} else {
		p.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if opts.Now != nil {
		p.now = opts.Now
	} else {
		p.now = time.Now
	}

	return p, nil
}

func (p *policy[V]) Enabled() bool { return p.enabled }

// Close waits for background refreshes to finish. It does not close the
// store: stores are shared across segments and owned by the caller.
func (p *policy[V]) Close(context.Context) error {
	p.refreshWg.Wait()
	return nil
}

func (p *policy[V]) Get(ctx context.Context, id string) (V, error) {
	res, err := p.do(ctx, id)
	return res.Value, err
}

func (p *policy[V]) GetResult(ctx context.Context, id string) (Result[V], error) {
	return p.do(ctx, id)
}

func (p *policy[V]) GetBy(ctx context.Context, params any) (V, error) {
	var zero V
	id, err := p.keyFunc(params)
	if err != nil {
		return zero, fmt.Errorf("swrcache: derive id: %w", err)
	}
	return p.Get(ctx, id)
}

func (p *policy[V]) GetResultBy(ctx context.Context, params any) (Result[V], error) {
	id, err := p.keyFunc(params)
	if err != nil {
		return Result[V]{}, fmt.Errorf("swrcache: derive id: %w", err)
	}
	return p.do(ctx, id)
}

func (p *policy[V]) Peek(ctx context.Context, id string) (V, bool, error) {
	var zero V
	if !p.enabled {
		return zero, false, nil
	}
	key := qualifyKey(p.segment, id)
	raw, ok, err := p.store.Get(ctx, key)
	if err != nil {
		return zero, false, &StoreError{Op: "get", Key: key, Err: err}
	}
	if !ok {
		return zero, false, nil
	}
	ent, decodeErr := wire.Decode(raw)
	if decodeErr != nil {
		p.selfHeal(ctx, key, "corrupt")
		return zero, false, nil
	}
	if ent.Expired(p.now()) {
		return zero, false, nil
	}
	v, decodeErr := p.codec.Decode(ent.Payload)
	if decodeErr != nil {
		p.selfHeal(ctx, key, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

func (p *policy[V]) Invalidate(ctx context.Context, id string) error {
	if !p.enabled {
		return nil
	}
	key := qualifyKey(p.segment, id)
	if err := p.store.Drop(ctx, key); err != nil {
		return &StoreError{Op: "drop", Key: key, Err: err}
	}
	p.log.Debug("invalidated entry", Fields{"key": key})
	return nil
}

func (p *policy[V]) do(ctx context.Context, id string) (Result[V], error) {
	start := p.now()
	key := qualifyKey(p.segment, id)

	if !p.enabled {
		// bypass: generate on the caller's path, no store involved
		v, err := p.runGenerate(ctx, key, id)
		if err != nil {
			return Result[V]{}, err
		}
		return Result[V]{
			Value:  v,
			Report: Report{Outcome: OutcomeBypass, Key: key, Elapsed: p.now().Sub(start)},
		}, nil
	}

	readDegraded := false
	raw, ok, err := p.store.Get(ctx, key)
	if err != nil {
		// cache-read failure degrades to cache-miss behavior, not to
		// total failure
		readDegraded = true
		ok = false
		p.hooks.StoreReadDegraded(key, err)
		p.log.Warn("store read failed; generating", Fields{"key": key, "err": err})
	}
	if ok {
		if res, served := p.serveFromEntry(ctx, key, id, raw, start); served {
			return res, nil
		}
	}

	v, err := p.generateSync(ctx, key, id)
	if err != nil {
		return Result[V]{}, err
	}
	return Result[V]{
		Value: v,
		Report: Report{
			Outcome:      OutcomeGenerated,
			Key:          key,
			Elapsed:      p.now().Sub(start),
			ReadDegraded: readDegraded,
		},
	}, nil
}

// serveFromEntry decodes a stored envelope and serves it when inside the
// hard TTL. served=false means the caller must fall through to generation.
func (p *policy[V]) serveFromEntry(ctx context.Context, key, id string, raw []byte, start time.Time) (Result[V], bool) {
	ent, err := wire.Decode(raw)
	if err != nil {
		p.selfHeal(ctx, key, "corrupt")
		return Result[V]{}, false
	}
	now := p.now()
	if ent.Expired(now) {
		// past hard TTL: absent, even if the store has not purged it yet
		return Result[V]{}, false
	}
	v, err := p.codec.Decode(ent.Payload)
	if err != nil {
		p.selfHeal(ctx, key, "value_decode")
		return Result[V]{}, false
	}

	stale := p.staleWindow > 0 && ent.Age(now) >= ent.TTL-p.staleWindow
	outcome := OutcomeFresh
	if stale {
		outcome = OutcomeStale
		p.refreshAsync(ctx, key, id)
	}
	return Result[V]{
		Value:  v,
		Cached: &CachedMeta{StoredAt: ent.StoredAt, TTL: ent.TTL, Stale: stale},
		Report: Report{Outcome: outcome, Key: key, Elapsed: p.now().Sub(start)},
	}, true
}

func (p *policy[V]) selfHeal(ctx context.Context, key, reason string) {
	_ = p.store.Drop(ctx, key)
	p.hooks.SelfHeal(key, reason)
	p.log.Debug("dropped bad entry", Fields{"key": key, "reason": reason})
}

// generateSync runs a generation on the critical path. Concurrent callers
// for the same key join the in-flight generation and receive its exact
// result or failure.
func (p *policy[V]) generateSync(ctx context.Context, key, id string) (V, error) {
	var zero V
	ch := p.flights.DoChan(key, func() (any, error) {
		// detached so one caller's cancellation cannot fail the flight
		// for everyone who joined it
		v, err := p.generateAndStore(context.WithoutCancel(ctx), key, id)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// refreshAsync schedules at most one background regeneration for key.
// Fire-and-forget: the serving caller never waits on it, and its errors are
// logged/hooked, not surfaced. The stale value stays servable until hard
// TTL expiry.
func (p *policy[V]) refreshAsync(ctx context.Context, key, id string) {
	if _, inFlight := p.refreshing.LoadOrStore(key, struct{}{}); inFlight {
		return
	}
	p.hooks.RefreshScheduled(key)
	bctx := context.WithoutCancel(ctx)
	p.refreshWg.Add(1)
	go func() {
		defer p.refreshWg.Done()
		defer p.refreshing.Delete(key)
		_, err, _ := p.flights.Do(key, func() (any, error) {
			v, err := p.generateAndStore(bctx, key, id)
			if err != nil {
				return nil, err
			}
			return v, nil
		})
		if err != nil {
			p.hooks.RefreshError(key, err)
			p.log.Warn("background refresh failed", Fields{"key": key, "err": err})
		}
	}()
}

func (p *policy[V]) generateAndStore(ctx context.Context, key, id string) (V, error) {
	var zero V
	v, err := p.runGenerate(ctx, key, id)
	if err != nil {
		return zero, err
	}
	if err := p.writeEntry(ctx, key, v); err != nil {
		return zero, err
	}
	return v, nil
}

// runGenerate invokes the caller's generator, bounded by the configured
// timeout. On timeout nothing has been written to the store.
func (p *policy[V]) runGenerate(ctx context.Context, key, id string) (V, error) {
	var zero V
	if p.genTimeout <= 0 {
		v, err := p.generate(ctx, id)
		if err != nil {
			return zero, &GenerationError{Key: key, Err: err}
		}
		return v, nil
	}

	gctx, cancel := context.WithTimeout(ctx, p.genTimeout)
	defer cancel()

	type result struct {
		v   V
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := p.generate(gctx, id)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) && gctx.Err() != nil {
				p.hooks.GenerationTimedOut(key, p.genTimeout)
				return zero, ErrGenerationTimeout
			}
			return zero, &GenerationError{Key: key, Err: r.err}
		}
		return r.v, nil
	case <-gctx.Done():
		if errors.Is(gctx.Err(), context.DeadlineExceeded) {
			p.hooks.GenerationTimedOut(key, p.genTimeout)
			return zero, ErrGenerationTimeout
		}
		return zero, gctx.Err()
	}
}

func (p *policy[V]) writeEntry(ctx context.Context, key string, v V) error {
	payload, err := p.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("swrcache: encode value for %q: %w", key, err)
	}
	raw, err := wire.Encode(wire.Entry{StoredAt: p.now(), TTL: p.ttl, Payload: payload})
	if err != nil {
		return fmt.Errorf("swrcache: frame value for %q: %w", key, err)
	}
	ok, err := p.store.Set(ctx, key, raw, p.cost(key, raw), p.ttl)
	if err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	if !ok {
		p.hooks.StoreSetRejected(key)
		p.log.Debug("set rejected by store (pressure)", Fields{"key": key})
	}
	return nil
}
