package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-memory implementation of the Store interface.
// Expired entries are dropped lazily on read.
type MemoryStore struct {
	data              map[string]memoryEntry
	invalidatedTokens map[string]time.Time
	mu                sync.RWMutex
	now               func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:              make(map[string]memoryEntry),
		invalidatedTokens: make(map[string]time.Time),
		now:               time.Now,
	}
}

var _ ports.Store = (*MemoryStore)(nil)

func (s *MemoryStore) entry(value string, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return "", core.ErrNotFound
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return "", core.ErrNotFound
	}
	return e.value, nil
}

// Set stores a key with a value and expiration time
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = s.entry(value, ttl)
	return nil
}

// SetMany stores all values under one lock
func (s *MemoryStore) SetMany(ctx context.Context, values map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		s.data[k] = s.entry(v, ttl)
	}
	return nil
}

// Delete removes keys, ignoring missing ones
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// InvalidateToken marks a token as invalidated
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invalidatedTokens[tokenID] = s.now().Add(expiry)
	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiryTime, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}

	// Check if the token invalidation has expired
	if s.now().After(expiryTime) {
		return false, nil
	}

	return true, nil
}

// ConsumeToken invalidates a token unless it already is
func (s *MemoryStore) ConsumeToken(ctx context.Context, tokenID string, expiry time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiryTime, exists := s.invalidatedTokens[tokenID]; exists && !now.After(expiryTime) {
		return false, nil
	}

	s.invalidatedTokens[tokenID] = now.Add(expiry)
	return true, nil
}
