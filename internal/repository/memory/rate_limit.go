package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arklim/authcore/internal/core/port"
)

type rateLimitEntry struct {
	count       int
	windowStart time.Time
	windowEnd   time.Time
	deniedUntil time.Time
}

// RateLimitStore is an in-process implementation of the login guard state,
// suitable for single-node deployments and tests. A single mutex guards the
// per-key read-modify-write cycle.
type RateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

// NewRateLimitStore constructs an empty in-memory store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{
		entries: make(map[string]*rateLimitEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (s *RateLimitStore) WithClock(clock func() time.Time) *RateLimitStore {
	if clock != nil {
		s.mu.Lock()
		s.now = clock
		s.mu.Unlock()
	}
	return s
}

// Increment adds one attempt within the window and returns the new count.
// An expired window restarts at one.
func (s *RateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || !entry.windowEnd.After(now) {
		entry = &rateLimitEntry{windowStart: now, windowEnd: now.Add(window)}
		if ok {
			entry.deniedUntil = s.entries[key].deniedUntil
		}
		s.entries[key] = entry
	}

	entry.count++
	return entry.count, nil
}

// Count returns the attempt count within the active window.
func (s *RateLimitStore) Count(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.windowEnd.After(s.now()) {
		return 0, nil
	}
	return entry.count, nil
}

// Blacklist denies the key until the supplied deadline.
func (s *RateLimitStore) Blacklist(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !until.After(s.now()) {
		return errors.New("blacklist deadline must be in the future")
	}

	entry, ok := s.entries[key]
	if !ok {
		entry = &rateLimitEntry{}
		s.entries[key] = entry
	}
	entry.deniedUntil = until.UTC()
	return nil
}

// BlacklistedUntil reports the active deny-state for the key, if any.
func (s *RateLimitStore) BlacklistedUntil(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.deniedUntil.After(s.now()) {
		return time.Time{}, false, nil
	}
	return entry.deniedUntil, true, nil
}

// Reset returns the key to a clean state.
func (s *RateLimitStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)
