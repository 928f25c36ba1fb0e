package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/internal/metrics"
	"github.com/layer-3/walletgate/ports"
	"github.com/rs/zerolog/log"
)

// Live-session bounds applied when ManagerConfig leaves them zero
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultMaxSessions   = 10000
	DefaultSweepInterval = time.Minute
)

// KVFactory returns a namespaced view of storage
type KVFactory func(id string) ports.KV

// ManagerConfig wires the collaborators shared by all browser sessions
type ManagerConfig struct {
	ZkLogin  ZkLoginConfig
	Keys     *EphemeralKeyManager
	Decoder  ports.IdentityTokenDecoder
	Prover   ports.Prover
	Salts    ports.SaltProvider
	Events   ports.EventPublisher
	Clock    clock.Clock
	Unlock   UnlockConfig
	Observe  time.Duration
	Sessions KVFactory // session-scoped storage by session id
	Devices  KVFactory // durable storage by device id
	Wallets  func(sessionID string) ports.WalletRegistry

	IdleTimeout   time.Duration // evicts a locked bundle nobody touched for this long
	MaxSessions   int           // bounds live bundles; the least recently used goes first
	SweepInterval time.Duration
	OnEvict       func(sessionID string) // runs after a bundle is torn down, however it left
}

// Bundle is the per-browser-session set of flows
type Bundle struct {
	SessionID string
	DeviceID  string
	Wallet    *WalletSession
	Unlock    *UnlockSession

	cancel    context.CancelFunc
	expiresAt time.Time // zero never expires
	lastSeen  time.Time
}

// Manager owns the live flows of every browser session. Bundles hold only
// in-memory flows; evicting one loses nothing a page load cannot restore
// except a running unlock window, which idle eviction therefore waits out.
type Manager struct {
	cfg ManagerConfig

	mu      sync.Mutex
	bundles *lru.Cache[string, *Bundle]
	stop    context.CancelFunc
}

// NewManager creates a session manager and starts its eviction sweep
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Observe <= 0 {
		cfg.Observe = time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	m := &Manager{cfg: cfg}
	// Only a non-positive size fails
	m.bundles, _ = lru.NewWithEvict[string, *Bundle](cfg.MaxSessions, m.evicted)

	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	go m.sweepLoop(ctx, cfg.Clock.Ticker(cfg.SweepInterval))

	return m
}

// Get returns the bundle of a browser session, creating and restoring it on
// first use. This is the page-load entry point.
func (m *Manager) Get(ctx context.Context, session *core.Session, deviceID string) *Bundle {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	if b, ok := m.bundles.Get(session.ID); ok {
		b.lastSeen = now
		m.mu.Unlock()
		return b
	}

	b := m.build(session.ID, deviceID)
	b.expiresAt = session.ExpiresAt
	b.lastSeen = now
	m.bundles.Add(session.ID, b)
	m.mu.Unlock()

	metrics.SessionOpened()

	b.Wallet.ZkLogin().RestoreOnMount(ctx)
	b.Wallet.Extension().Restore(ctx)

	return b
}

// Len reports the number of live bundles
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bundles.Len()
}

func (m *Manager) build(sessionID, deviceID string) *Bundle {
	zk := NewZkLoginFlow(m.cfg.ZkLogin, m.cfg.Keys, m.cfg.Sessions(sessionID), m.cfg.Decoder, m.cfg.Prover, m.cfg.Salts)
	ext := NewExtensionFlow(m.cfg.Wallets(sessionID), m.cfg.Devices(deviceID))
	wallet := NewWalletSession(sessionID, zk, ext, m.cfg.Events)

	unlockCfg := m.cfg.Unlock
	userExpired := unlockCfg.OnSessionExpired
	unlockCfg.OnSessionExpired = func() {
		log.Info().Str("session", sessionID).Msg("unlock session expired")
		if m.cfg.Events != nil {
			if err := m.cfg.Events.PublishUnlockExpired(context.Background(), sessionID); err != nil {
				log.Warn().Err(err).Str("session", sessionID).Msg("failed to publish unlock expiry")
			}
		}
		if userExpired != nil {
			userExpired()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go ext.Observe(ctx, m.cfg.Clock, m.cfg.Observe)

	return &Bundle{
		SessionID: sessionID,
		DeviceID:  deviceID,
		Wallet:    wallet,
		Unlock:    NewUnlockSession(m.cfg.Clock, unlockCfg),
		cancel:    cancel,
	}
}

// End tears down a browser session: timers stop and session-scoped state is deleted
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	m.bundles.Remove(sessionID)
	m.mu.Unlock()

	store := m.cfg.Sessions(sessionID)
	return store.Delete(ctx, append(pendingKeys(), keyZkIdentitySession)...)
}

// Sweep evicts bundles whose session expired and locked bundles idle past
// IdleTimeout. It returns how many were evicted.
func (m *Manager) Sweep() int {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []string
	for _, id := range m.bundles.Keys() {
		b, ok := m.bundles.Peek(id)
		if !ok {
			continue
		}
		expired := !b.expiresAt.IsZero() && !now.Before(b.expiresAt)
		idle := now.Sub(b.lastSeen) >= m.cfg.IdleTimeout && !b.Unlock.State().IsUnlocked
		if expired || idle {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		m.bundles.Remove(id)
	}
	return len(stale)
}

func (m *Manager) sweepLoop(ctx context.Context, ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("evicted idle browser sessions")
			}
		}
	}
}

// Close stops the sweep and tears down every live session without touching storage
func (m *Manager) Close() {
	m.stop()

	m.mu.Lock()
	m.bundles.Purge()
	m.mu.Unlock()
}

func (m *Manager) evicted(sessionID string, b *Bundle) {
	b.teardown()
	metrics.SessionClosed()
	if m.cfg.OnEvict != nil {
		m.cfg.OnEvict(sessionID)
	}
}

func (b *Bundle) teardown() {
	b.cancel()
	b.Unlock.Close()
}
