package swrcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	c "github.com/unkn0wn-root/swrcache/codec"
	st "github.com/unkn0wn-root/swrcache/store"
)

// ==============================
// Test doubles
// ==============================

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// memStore keeps entries forever unless dropped: the policy must treat
// expired envelopes as absent even when the store never purges them.
type memStore struct {
	mu      sync.Mutex
	m       map[string]memEntry
	getErr  error
	setErr  error
	dropErr error
	sets    int
}

var _ st.Store = (*memStore)(nil)

func newMemStore() *memStore { return &memStore{m: make(map[string]memEntry)} }

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	e, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	return e.v, true, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return false, s.setErr
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.m[key] = memEntry{v: value, exp: exp}
	s.sets++
	return true, nil
}

func (s *memStore) Drop(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropErr != nil {
		return s.dropErr
	}
	delete(s.m, key)
	return nil
}

func (s *memStore) Close(context.Context) error { return nil }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type weather struct {
	City string `json:"city"`
	Temp int    `json:"temp"`
}

func newTestPolicy(t *testing.T, gen GenerateFunc[weather], mod func(*Options[weather])) Policy[weather] {
	t.Helper()
	opts := Options[weather]{
		Segment:  "weather",
		Store:    newMemStore(),
		Codec:    c.JSON[weather]{},
		Generate: gen,
	}
	if mod != nil {
		mod(&opts)
	}
	p, err := New[weather](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ==============================
// Miss / hit / round-trip
// ==============================

// TestGenerateOnMissThenServeFromStore: the first call generates, later
// calls inside the TTL are served from the store without re-invoking the
// generator, and the value round-trips unchanged.
func TestGenerateOnMissThenServeFromStore(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		calls.Add(1)
		return weather{City: id, Temp: 21}, nil
	}, nil)
	defer p.Close(ctx)

	want := weather{City: "oslo", Temp: 21}

	got, err := p.Get(ctx, "oslo")
	if err != nil || got != want {
		t.Fatalf("first Get: got=%v err=%v", got, err)
	}
	for i := 0; i < 5; i++ {
		got, err = p.Get(ctx, "oslo")
		if err != nil || got != want {
			t.Fatalf("repeat Get %d: got=%v err=%v", i, got, err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("generator invoked %d times, want 1", n)
	}
}

func TestGetResultOutcomes(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		return weather{City: id, Temp: 3}, nil
	}, func(o *Options[weather]) {
		o.TTL = 10 * time.Second
		o.StaleWindow = 2 * time.Second
		o.Now = clk.Now
	})
	defer p.Close(ctx)

	res, err := p.GetResult(ctx, "bergen")
	if err != nil {
		t.Fatalf("GetResult miss: %v", err)
	}
	if res.Report.Outcome != OutcomeGenerated || res.Cached != nil {
		t.Fatalf("miss: outcome=%v cached=%v", res.Report.Outcome, res.Cached)
	}
	if !strings.HasPrefix(res.Report.Key, "entry:weather:") {
		t.Fatalf("unexpected storage key %q", res.Report.Key)
	}

	res, err = p.GetResult(ctx, "bergen")
	if err != nil {
		t.Fatalf("GetResult fresh: %v", err)
	}
	if res.Report.Outcome != OutcomeFresh || res.Cached == nil || res.Cached.Stale {
		t.Fatalf("fresh: outcome=%v cached=%+v", res.Report.Outcome, res.Cached)
	}
	if res.Cached.TTL != 10*time.Second {
		t.Fatalf("cached ttl = %v, want 10s", res.Cached.TTL)
	}

	clk.Advance(9 * time.Second) // inside [ttl-stale, ttl)
	res, err = p.GetResult(ctx, "bergen")
	if err != nil {
		t.Fatalf("GetResult stale: %v", err)
	}
	if res.Report.Outcome != OutcomeStale || res.Cached == nil || !res.Cached.Stale {
		t.Fatalf("stale: outcome=%v cached=%+v", res.Report.Outcome, res.Cached)
	}
}

// ==============================
// Expiry
// ==============================

// An entry past its hard TTL is never served, even though the test store
// never physically purges anything.
func TestExpiredEntryRegenerates(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		n := calls.Add(1)
		return weather{City: id, Temp: int(n)}, nil
	}, func(o *Options[weather]) {
		o.TTL = 10 * time.Second
		o.Now = clk.Now
	})
	defer p.Close(ctx)

	if _, err := p.Get(ctx, "oslo"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(9 * time.Second)
	if got, err := p.Get(ctx, "oslo"); err != nil || got.Temp != 1 {
		t.Fatalf("within ttl: got=%v err=%v", got, err)
	}
	clk.Advance(2 * time.Second) // age 11s >= ttl 10s
	got, err := p.Get(ctx, "oslo")
	if err != nil || got.Temp != 2 {
		t.Fatalf("after ttl: got=%v err=%v", got, err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("generator invoked %d times, want 2", n)
	}
}

// ==============================
// Single flight
// ==============================

// Concurrent callers for the same missing key trigger exactly one
// generation and all receive its result.
func TestConcurrentMissSingleFlight(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		calls.Add(1)
		<-gate
		return weather{City: id, Temp: 42}, nil
	}, nil)
	defer p.Close(ctx)

	const n = 8
	results := make([]weather, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Get(ctx, "oslo")
		}(i)
	}
	time.Sleep(100 * time.Millisecond) // let everyone join the flight
	close(gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != (weather{City: "oslo", Temp: 42}) {
			t.Fatalf("caller %d got %v", i, results[i])
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("generator invoked %d times, want 1", got)
	}
}

// A generator failure propagates to every joined caller and nothing is
// cached.
func TestGenerationErrorPropagatesToJoinedCallers(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	sentinel := errors.New("upstream down")
	ms := newMemStore()
	p := newTestPolicy(t, func(context.Context, string) (weather, error) {
		<-gate
		return weather{}, sentinel
	}, func(o *Options[weather]) { o.Store = ms })
	defer p.Close(ctx)

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Get(ctx, "oslo")
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Fatalf("caller %d: expected error", i)
		}
		var ge *GenerationError
		if !errors.As(err, &ge) || !errors.Is(err, sentinel) {
			t.Fatalf("caller %d: got %T %v", i, err, err)
		}
	}
	if ms.len() != 0 {
		t.Fatalf("failed generation must not cache anything, store has %d entries", ms.len())
	}
}

// ==============================
// Stale-while-revalidate
// ==============================

// Stale hits are served immediately, and a burst of concurrent stale hits
// schedules exactly one background regeneration.
func TestStaleServesImmediatelyAndRefreshesOnce(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	gate := make(chan struct{})
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		n := calls.Add(1)
		if n > 1 {
			<-gate // block only background refreshes
		}
		return weather{City: id, Temp: int(n)}, nil
	}, func(o *Options[weather]) {
		o.TTL = 10 * time.Second
		o.StaleWindow = 2 * time.Second
		o.Now = clk.Now
	})

	if _, err := p.Get(ctx, "oslo"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(9 * time.Second) // stale, not expired

	const n = 6
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			got, err := p.Get(ctx, "oslo")
			if err != nil || got.Temp != 1 {
				t.Errorf("stale hit: got=%v err=%v", got, err)
			}
		}()
	}
	wg.Wait() // serving callers never block on the refresh

	close(gate)
	if err := p.Close(ctx); err != nil { // waits for the background refresh
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("generator invoked %d times, want 2 (initial + one refresh)", got)
	}

	// refreshed value is now served fresh
	got, err := p.Get(ctx, "oslo")
	if err != nil || got.Temp != 2 {
		t.Fatalf("after refresh: got=%v err=%v", got, err)
	}
}

// A failed background refresh is never surfaced; the stale value stays
// servable until hard TTL expiry.
func TestStaleRefreshFailureKeepsServingStale(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	var calls atomic.Int64
	var refreshErrs atomic.Int64
	hooks := &recordingHooks{refreshErrs: &refreshErrs}
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		if calls.Add(1) > 1 {
			return weather{}, errors.New("flaky upstream")
		}
		return weather{City: id, Temp: 1}, nil
	}, func(o *Options[weather]) {
		o.TTL = 10 * time.Second
		o.StaleWindow = 2 * time.Second
		o.Now = clk.Now
		o.Hooks = hooks
	})

	if _, err := p.Get(ctx, "oslo"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(9 * time.Second)

	got, err := p.Get(ctx, "oslo")
	if err != nil || got.Temp != 1 {
		t.Fatalf("stale serve: got=%v err=%v", got, err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if refreshErrs.Load() != 1 {
		t.Fatalf("expected 1 refresh error hook, got %d", refreshErrs.Load())
	}

	// still inside hard TTL: stale value remains servable
	got, err = p.Get(ctx, "oslo")
	if err != nil || got.Temp != 1 {
		t.Fatalf("stale after failed refresh: got=%v err=%v", got, err)
	}
}

type recordingHooks struct {
	NopHooks
	refreshErrs *atomic.Int64
}

func (h *recordingHooks) RefreshError(string, error) { h.refreshErrs.Add(1) }

// ==============================
// Generation timeout
// ==============================

// A generation exceeding the bound fails fast with ErrGenerationTimeout and
// writes nothing.
func TestGenerationTimeout(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	p := newTestPolicy(t, func(ctx context.Context, _ string) (weather, error) {
		select {
		case <-time.After(5 * time.Second):
			return weather{Temp: 99}, nil
		case <-ctx.Done():
			return weather{}, ctx.Err()
		}
	}, func(o *Options[weather]) {
		o.Store = ms
		o.GenerateTimeout = 100 * time.Millisecond
	})
	defer p.Close(ctx)

	start := time.Now()
	_, err := p.Get(ctx, "oslo")
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("expected ErrGenerationTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, call took %v", elapsed)
	}
	if ms.len() != 0 {
		t.Fatalf("timed-out generation must not write, store has %d entries", ms.len())
	}
}

// The timeout also bounds generators that ignore their context.
func TestGenerationTimeoutIgnoringContext(t *testing.T) {
	ctx := context.Background()
	p := newTestPolicy(t, func(context.Context, string) (weather, error) {
		time.Sleep(3 * time.Second)
		return weather{Temp: 99}, nil
	}, func(o *Options[weather]) {
		o.GenerateTimeout = 50 * time.Millisecond
	})
	defer p.Close(ctx)

	start := time.Now()
	_, err := p.Get(ctx, "oslo")
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("expected ErrGenerationTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not enforced, call took %v", elapsed)
	}
}

// ==============================
// Store failure behavior
// ==============================

// Read failures degrade to generation instead of failing the caller.
func TestStoreReadFailureDegradesToGeneration(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.getErr = errors.New("backend unreachable")
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		calls.Add(1)
		return weather{City: id, Temp: 7}, nil
	}, func(o *Options[weather]) { o.Store = ms })
	defer p.Close(ctx)

	res, err := p.GetResult(ctx, "oslo")
	if err != nil {
		t.Fatalf("read failure must not surface: %v", err)
	}
	if res.Value.Temp != 7 || !res.Report.ReadDegraded {
		t.Fatalf("degraded read: value=%v degraded=%v", res.Value, res.Report.ReadDegraded)
	}
	if calls.Load() != 1 {
		t.Fatalf("generator invoked %d times, want 1", calls.Load())
	}
}

// Write failures surface to the caller as a StoreError.
func TestStoreWriteFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.setErr = errors.New("disk full")
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		return weather{City: id}, nil
	}, func(o *Options[weather]) { o.Store = ms })
	defer p.Close(ctx)

	_, err := p.Get(ctx, "oslo")
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "set" {
		t.Fatalf("expected StoreError{Op:set}, got %T %v", err, err)
	}
}

// ==============================
// Peek / Invalidate / self-heal
// ==============================

func TestPeekNeverGenerates(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		calls.Add(1)
		return weather{City: id}, nil
	}, nil)
	defer p.Close(ctx)

	if _, ok, err := p.Peek(ctx, "oslo"); ok || err != nil {
		t.Fatalf("Peek on miss: ok=%v err=%v", ok, err)
	}
	if calls.Load() != 0 {
		t.Fatalf("Peek must not generate")
	}

	if _, err := p.Get(ctx, "oslo"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := p.Peek(ctx, "oslo")
	if err != nil || !ok || v.City != "oslo" {
		t.Fatalf("Peek after Get: v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestInvalidateForcesRegeneration(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		calls.Add(1)
		return weather{City: id}, nil
	}, nil)
	defer p.Close(ctx)

	if _, err := p.Get(ctx, "oslo"); err != nil {
		t.Fatal(err)
	}
	if err := p.Invalidate(ctx, "oslo"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, "oslo"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("generator invoked %d times, want 2", calls.Load())
	}
}

// Corrupt store bytes are dropped (self-heal) and the call regenerates.
func TestSelfHealOnCorrupt(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		return weather{City: id, Temp: 5}, nil
	}, func(o *Options[weather]) { o.Store = ms })
	defer p.Close(ctx)

	key := "entry:weather:oslo"
	if ok, err := ms.Set(ctx, key, []byte("not-wire-format"), 1, time.Minute); err != nil || !ok {
		t.Fatalf("inject corrupt: ok=%v err=%v", ok, err)
	}

	got, err := p.Get(ctx, "oslo")
	if err != nil || got.Temp != 5 {
		t.Fatalf("corrupt entry should regenerate: got=%v err=%v", got, err)
	}
	// regenerated entry replaced the corrupt bytes
	if v, ok, _ := p.Peek(ctx, "oslo"); !ok || v.Temp != 5 {
		t.Fatalf("expected healed entry, got ok=%v v=%v", ok, v)
	}
}

// ==============================
// Structured ids
// ==============================

type sumParams struct {
	A int `json:"a" cbor:"a"`
	B int `json:"b" cbor:"b"`
}

// Structured params with a parseable KeyFunc: the generator reconstructs
// the inputs from the id.
func TestGetByWithParseableKey(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p, err := New[int](Options[int]{
		Segment: "sum",
		Store:   newMemStore(),
		Codec:   c.JSON[int]{},
		KeyFunc: func(params any) (string, error) {
			sp, ok := params.(sumParams)
			if !ok {
				return "", fmt.Errorf("want sumParams, got %T", params)
			}
			return fmt.Sprintf("%d,%d", sp.A, sp.B), nil
		},
		Generate: func(_ context.Context, id string) (int, error) {
			calls.Add(1)
			parts := strings.SplitN(id, ",", 2)
			a, _ := strconv.Atoi(parts[0])
			b, _ := strconv.Atoi(parts[1])
			return a + b, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	got, err := p.GetBy(ctx, sumParams{A: 1, B: 5})
	if err != nil || got != 6 {
		t.Fatalf("first GetBy: got=%v err=%v", got, err)
	}
	got, err = p.GetBy(ctx, sumParams{A: 1, B: 5})
	if err != nil || got != 6 {
		t.Fatalf("second GetBy: got=%v err=%v", got, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("identical params must hit the same entry; %d generations", calls.Load())
	}

	// distinct params produce a distinct entry
	if got, err := p.GetBy(ctx, sumParams{A: 2, B: 5}); err != nil || got != 7 {
		t.Fatalf("distinct params: got=%v err=%v", got, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 generations, got %d", calls.Load())
	}
}

// The default KeyFunc (deterministic hash) maps identical params to the
// same entry without any caller-supplied key derivation.
func TestGetByDefaultKeyFuncDeterministic(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		calls.Add(1)
		return weather{City: id, Temp: 11}, nil
	}, nil)
	defer p.Close(ctx)

	params := map[string]any{"city": "oslo", "units": "metric"}
	if _, err := p.GetBy(ctx, params); err != nil {
		t.Fatal(err)
	}
	if _, err := p.GetBy(ctx, map[string]any{"units": "metric", "city": "oslo"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("identical logical params must produce one entry; %d generations", calls.Load())
	}
}

// ==============================
// Options validation / disabled mode
// ==============================

func TestOptionsValidation(t *testing.T) {
	gen := func(_ context.Context, id string) (weather, error) { return weather{}, nil }
	base := func() Options[weather] {
		return Options[weather]{
			Segment:  "w",
			Store:    newMemStore(),
			Codec:    c.JSON[weather]{},
			Generate: gen,
		}
	}

	cases := []struct {
		name string
		mod  func(*Options[weather])
	}{
		{"missing segment", func(o *Options[weather]) { o.Segment = "" }},
		{"segment with separator", func(o *Options[weather]) { o.Segment = "a:b" }},
		{"segment with whitespace", func(o *Options[weather]) { o.Segment = "a b" }},
		{"missing store", func(o *Options[weather]) { o.Store = nil }},
		{"missing codec", func(o *Options[weather]) { o.Codec = nil }},
		{"missing generate", func(o *Options[weather]) { o.Generate = nil }},
		{"stale window equals ttl", func(o *Options[weather]) {
			o.TTL = time.Second
			o.StaleWindow = time.Second
		}},
		{"stale window exceeds ttl", func(o *Options[weather]) {
			o.TTL = time.Second
			o.StaleWindow = 2 * time.Second
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := base()
			tc.mod(&opts)
			if _, err := New[weather](opts); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDisabledPolicyBypassesStore(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	var calls atomic.Int64
	p := newTestPolicy(t, func(_ context.Context, id string) (weather, error) {
		calls.Add(1)
		return weather{City: id}, nil
	}, func(o *Options[weather]) {
		o.Store = ms
		o.Disabled = true
	})
	defer p.Close(ctx)

	if p.Enabled() {
		t.Fatalf("policy should report disabled")
	}
	for i := 0; i < 3; i++ {
		res, err := p.GetResult(ctx, "oslo")
		if err != nil {
			t.Fatal(err)
		}
		if res.Report.Outcome != OutcomeBypass || res.Cached != nil {
			t.Fatalf("bypass: outcome=%v cached=%v", res.Report.Outcome, res.Cached)
		}
	}
	if calls.Load() != 3 {
		t.Fatalf("disabled policy must generate on every call; got %d", calls.Load())
	}
	if ms.len() != 0 {
		t.Fatalf("disabled policy must not touch the store")
	}
}
