package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-memory KeyedWindowStore. It is suitable for tests and
// single-instance development runs; production deployments share a Redis
// instance across processes instead.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	values   map[string]string
	sets     map[string][]time.Time
	lists    map[string][]string
	expiries map[string]time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock builds a Memory store with an injectable clock so
// tests can step time deterministically.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		now:      now,
		values:   make(map[string]string),
		sets:     make(map[string][]time.Time),
		lists:    make(map[string][]string),
		expiries: make(map[string]time.Time),
	}
}

// Increment treats the value as an integer string, matching Redis INCR
// semantics: counters and plain values share one namespace.
func (s *Memory) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	n, err := strconv.ParseInt(s.values[key], 10, 64)
	if s.values[key] != "" && err != nil {
		return 0, fmt.Errorf("increment %s: not an integer", key)
	}
	n++
	s.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *Memory) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.expiries[key] = s.now().Add(ttl)
	return nil
}

func (s *Memory) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	val, ok := s.values[key]
	return val, ok, nil
}

func (s *Memory) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.drop(key)
	}
	return nil
}

func (s *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	if s.exists(key) {
		s.expiries[key] = s.now().Add(ttl)
	}
	return nil
}

func (s *Memory) AddTimestamp(_ context.Context, key string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	set := append(s.sets[key], ts)
	sort.Slice(set, func(i, j int) bool { return set[i].Before(set[j]) })
	s.sets[key] = set
	return nil
}

func (s *Memory) CountSince(_ context.Context, key string, min time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	var n int64
	for _, ts := range s.sets[key] {
		if !ts.Before(min) {
			n++
		}
	}
	return n, nil
}

func (s *Memory) OldestSince(_ context.Context, key string, min time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	for _, ts := range s.sets[key] {
		if !ts.Before(min) {
			return ts, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (s *Memory) PruneOlderThan(_ context.Context, key string, min time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	kept := s.sets[key][:0]
	for _, ts := range s.sets[key] {
		if !ts.Before(min) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(s.sets, key)
		return nil
	}
	s.sets[key] = kept
	return nil
}

func (s *Memory) PushCapped(_ context.Context, key, value string, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	list := append([]string{value}, s.lists[key]...)
	if int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	s.lists[key] = list
	return nil
}

func (s *Memory) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropIfExpired(key)
	list := s.lists[key]
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	out = append(out, list[start:stop+1]...)
	return out, nil
}

// dropIfExpired purges a key whose TTL has passed. Must hold the lock.
func (s *Memory) dropIfExpired(key string) {
	exp, ok := s.expiries[key]
	if ok && s.now().After(exp) {
		s.drop(key)
	}
}

func (s *Memory) drop(key string) {
	delete(s.values, key)
	delete(s.sets, key)
	delete(s.lists, key)
	delete(s.expiries, key)
}

func (s *Memory) exists(key string) bool {
	if _, ok := s.values[key]; ok {
		return true
	}
	if _, ok := s.sets[key]; ok {
		return true
	}
	_, ok := s.lists[key]
	return ok
}
