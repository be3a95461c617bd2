package kafkaconsumer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// seenIDs remembers recently applied event ids so redelivered events are skipped.
type seenIDs struct {
	mu  sync.Mutex
	lru *lru.Cache[string, struct{}]
}

func newSeenIDs(size int) *seenIDs {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, struct{}](size)
	return &seenIDs{lru: c}
}

func (s *seenIDs) seen(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Contains(id)
}

func (s *seenIDs) add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.lru.Add(id, struct{}{})
	s.mu.Unlock()
}
