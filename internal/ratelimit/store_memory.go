package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps one sliding window of hit times per key. It is not
// shared between processes.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{windows: make(map[string][]time.Time)}
}

func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := prune(s.windows[key], now.Add(-window))
	if len(hits) < limit {
		hits = append(hits, now)
		s.windows[key] = hits
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(hits),
			ResetAt:   hits[0].Add(window),
		}, nil
	}
	s.windows[key] = hits
	reset := now.Add(window)
	if len(hits) > 0 {
		reset = hits[0].Add(window)
	}
	return Result{Limit: limit, ResetAt: reset}, nil
}

// prune drops hits at or before cutoff. hits is in arrival order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0:0], hits[i:]...)
}
