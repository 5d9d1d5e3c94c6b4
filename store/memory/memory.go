// Package memory provides an in-process store.Store backed by a map.
// Expired entries are treated as absent on read and swept by an optional
// background janitor.
package memory

import (
	"context"
	"sync"
	"time"

	st "github.com/unkn0wn-root/swrcache/store"
)

type entry struct {
	value []byte
	exp   time.Time // zero => no expiry
}

type Store struct {
	mu sync.RWMutex
	m  map[string]entry

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ st.Store = (*Store)(nil)

// New creates a memory store. If sweepInterval > 0, a janitor goroutine
// prunes physically expired entries on that cadence; reads never return
// expired entries either way.
func New(sweepInterval time.Duration) *Store {
	s := &Store{m: make(map[string]entry)}
	if sweepInterval > 0 {
		s.ticker = time.NewTicker(sweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.sweep(time.Now())
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		s.mu.Lock()
		// re-check under the write lock; a Set may have raced us
		if cur, ok := s.m[key]; ok && !cur.exp.IsZero() && time.Now().After(cur.exp) {
			delete(s.m, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	// copy: callers may mutate the returned slice, the cached bytes must not
	// change underneath later readers
	return append([]byte(nil), e.value...), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.m[key] = entry{value: value, exp: exp}
	s.mu.Unlock()
	return true, nil
}

func (s *Store) Drop(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close(context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	for k, e := range s.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}
