package store

import (
	"context"
	"time"

	"github.com/layer-3/walletgate/ports"
)

// Scoped is a namespaced view over a Store. Every write carries the same TTL,
// so a session-scoped view expires with its browser session.
type Scoped struct {
	store  ports.Store
	prefix string
	ttl    time.Duration
}

// NewScoped creates a view whose keys live under prefix.
// A zero ttl makes the view durable.
func NewScoped(store ports.Store, prefix string, ttl time.Duration) *Scoped {
	return &Scoped{store: store, prefix: prefix, ttl: ttl}
}

var _ ports.KV = (*Scoped)(nil)

// SessionPrefix is the key namespace of one browser session
func SessionPrefix(sessionID string) string {
	return "session:" + sessionID + ":"
}

// DurablePrefix is the key namespace of state that outlives browser sessions
const DurablePrefix = "durable:"

func (s *Scoped) Get(ctx context.Context, key string) (string, error) {
	return s.store.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.prefix+key, value, s.ttl)
}

func (s *Scoped) SetMany(ctx context.Context, values map[string]string) error {
	prefixed := make(map[string]string, len(values))
	for k, v := range values {
		prefixed[s.prefix+k] = v
	}
	return s.store.SetMany(ctx, prefixed, s.ttl)
}

func (s *Scoped) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefix + k
	}
	return s.store.Delete(ctx, prefixed...)
}

// DevicePrefix is the durable key namespace of one browser device
func DevicePrefix(deviceID string) string {
	return DurablePrefix + "device:" + deviceID + ":"
}
