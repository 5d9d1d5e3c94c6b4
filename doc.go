// Package swrcache implements a caching policy engine over a pluggable byte
// store. A Policy wraps a caller-supplied generation function with TTL
// caching, stale-while-revalidate, timeout-bounded generation and per-key
// single-flight collapse.
//
// Components:
//   - store.Store: byte store with TTL (e.g. memory, Ristretto, BigCache,
//     Redis, SQLite).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - Generate: caller function producing the value on a miss.
//
// Keys:
//
//	entry:<segment>:<id>
//
// Freshness model (age = now - storedAt):
//
//	age <  ttl-staleWindow  fresh hit, returned as-is
//	age >= ttl-staleWindow  stale hit: returned immediately, one background
//	                        regeneration is scheduled for the key
//	age >= ttl              expired: treated as absent, regenerated on the
//	                        critical path (single-flight per key)
//
// Typical use:
//
//	p, _ := swrcache.New[Weather](swrcache.Options[Weather]{
//	    Segment:     "weather",
//	    Store:       mem,
//	    Codec:       codec.JSON[Weather]{},
//	    TTL:         10 * time.Minute,
//	    StaleWindow: time.Minute,
//	    Generate: func(ctx context.Context, id string) (Weather, error) {
//	        return fetchWeather(ctx, id)
//	    },
//	})
//	w, err := p.Get(ctx, "oslo")
package swrcache
