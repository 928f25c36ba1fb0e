package ports

import (
	"context"
	"time"
)

// Store interface for key/value state and token invalidation
type Store interface {
	// Get returns core.ErrNotFound when the key is absent
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetMany writes every key or none
	SetMany(ctx context.Context, values map[string]string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
	// ConsumeToken invalidates a token and reports whether this call did it.
	// Of concurrent callers for one token exactly one gets true.
	ConsumeToken(ctx context.Context, tokenID string, expiry time.Duration) (bool, error)
}

// KV is a namespaced view over a Store
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}
