package cache

import (
	"strings"
	"sync"
	"time"
)

// Stats is an observability snapshot; reading it has no side effects.
type Stats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is an in-process TTL cache keyed by (category, subKey). TTL is the
// only eviction policy: the working set (courses and assignments for one
// session) is small enough that no size bound is needed. Values must be
// plain snapshots; the store never hands back anything that references the
// HTTP layer.
type Store struct {
	defaultTTL time.Duration
	ttls       map[string]time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	hits    uint64
	misses  uint64
}

// Option adjusts a Store at construction time.
type Option func(*Store)

// WithCategoryTTL overrides the default TTL for a single category.
func WithCategoryTTL(category string, ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttls[category] = ttl
		}
	}
}

// WithClock injects the time source, used by tests instead of sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Store with the given default TTL (30 minutes when
// non-positive, matching the tightest upstream refresh interval).
func New(defaultTTL time.Duration, opts ...Option) *Store {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	s := &Store{
		defaultTTL: defaultTTL,
		ttls:       make(map[string]time.Duration),
		now:        time.Now,
		entries:    make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored value only while it is fresh. Stale entries are
// evicted on lookup and count as misses.
func (s *Store) Get(category, subKey string) (any, bool) {
	k := compositeKey(category, subKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok {
		s.misses++
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, k)
		s.misses++
		return nil, false
	}
	s.hits++
	return e.value, true
}

// Set stores value under (category, subKey) with the category's TTL,
// overwriting any existing entry for the same key.
func (s *Store) Set(category, subKey string, value any) {
	s.SetWithTTL(category, subKey, value, s.ttlFor(category))
}

// SetWithTTL stores value with an explicit TTL. Non-positive TTLs fall back
// to the category TTL so a misconfigured zero never produces an entry that
// is born expired.
func (s *Store) SetWithTTL(category, subKey string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttlFor(category)
	}
	k := compositeKey(category, subKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = entry{value: value, expiresAt: s.now().Add(ttl)}
}

// Clear removes every entry unconditionally. Hit and miss counters survive
// so observability is not reset by a cache flush.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
}

// Stats reports the current size and lifetime hit/miss counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Size: len(s.entries), Hits: s.hits, Misses: s.misses}
}

func (s *Store) ttlFor(category string) time.Duration {
	if ttl, ok := s.ttls[category]; ok {
		return ttl
	}
	return s.defaultTTL
}

// compositeKey joins category and subKey so uniqueness of the pair implies
// uniqueness of the cached artifact.
func compositeKey(category, subKey string) string {
	if subKey == "" {
		return category
	}
	return strings.Join([]string{category, subKey}, "|")
}
