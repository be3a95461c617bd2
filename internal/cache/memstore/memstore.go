// Package memstore is an in-process cache driver bounded by an LRU.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/observability"
)

const driver = "memory"

// Store keeps entries keyed by insertion sequence; the oldest insertion is evicted
// once maxEntries is reached.
type Store struct {
	mu      sync.Mutex
	seq     uint64
	entries *lru.Cache[uint64, cache.Entry]
}

func New(maxEntries int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	c, err := lru.New[uint64, cache.Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("memstore lru: %w", err)
	}
	return &Store{entries: c}, nil
}

func (s *Store) FindFresh(_ context.Context, q cache.Query) (cache.Entry, bool, error) {
	start := time.Now()
	var (
		best  cache.Entry
		found bool
	)
	// Values does not touch recency, so lookups never keep an entry alive.
	for _, e := range s.entries.Values() {
		if !q.Matches(e) {
			continue
		}
		if !found || cache.Newer(e, best) {
			best, found = e, true
		}
	}
	observability.ObserveStoreOp(driver, "find_fresh", nil, time.Since(start).Seconds())
	return best, found, nil
}

func (s *Store) Insert(_ context.Context, e cache.Entry) error {
	start := time.Now()
	if err := e.Validate(); err != nil {
		observability.ObserveStoreOp(driver, "insert", err, time.Since(start).Seconds())
		return err
	}
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.mu.Unlock()
	s.entries.Add(id, e)
	observability.ObserveStoreOp(driver, "insert", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	start := time.Now()
	n := s.removeIf(func(e cache.Entry) bool { return !e.ExpiresAt.After(now) })
	observability.ObserveStoreOp(driver, "purge", nil, time.Since(start).Seconds())
	return n, nil
}

func (s *Store) DeleteRegion(_ context.Context, d model.DataType, bb model.BBox) (int64, error) {
	start := time.Now()
	n := s.removeIf(func(e cache.Entry) bool { return e.DataType == d && bb.Contains(e.Point) })
	observability.ObserveStoreOp(driver, "delete_region", nil, time.Since(start).Seconds())
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Len() int { return s.entries.Len() }

func (s *Store) removeIf(pred func(cache.Entry) bool) int64 {
	var n int64
	for _, k := range s.entries.Keys() {
		e, ok := s.entries.Peek(k)
		if !ok || !pred(e) {
			continue
		}
		if s.entries.Remove(k) {
			n++
		}
	}
	return n
}
