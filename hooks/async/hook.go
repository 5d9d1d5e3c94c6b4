// Package asynchook decouples hook handlers from hot cache paths.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:     10, // sample logs: ~every 10th self-heal
//	    ReadDegradedEvery: 1,  // log every degraded read
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	p, _ := swrcache.New[User](swrcache.Options[User]{
//	    Segment: "user",
//	    Store:   store,
//	    Codec:   codec.JSON[User]{},
//	    Hooks:   hooks, // or `raw` if you don't want async
//	    ...
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/swrcache"
)

type Hooks struct {
	inner swrcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(inner swrcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)        { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) StoreSetRejected(k string)   { h.try(func() { h.inner.StoreSetRejected(k) }) }
func (h *Hooks) RefreshScheduled(k string)   { h.try(func() { h.inner.RefreshScheduled(k) }) }
func (h *Hooks) StoreReadDegraded(k string, err error) {
	h.try(func() { h.inner.StoreReadDegraded(k, err) })
}
func (h *Hooks) RefreshError(k string, err error) {
	h.try(func() { h.inner.RefreshError(k, err) })
}
func (h *Hooks) GenerationTimedOut(k string, limit time.Duration) {
	h.try(func() { h.inner.GenerationTimedOut(k, limit) })
}
