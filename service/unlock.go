package service

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/internal/metrics"
)

// Default unlock session configuration values.
const (
	DefaultUnlockDuration = 30 * time.Minute
	DefaultWarningTime    = 5 * time.Minute
	DefaultTickInterval   = time.Second
)

// UnlockConfig configures an UnlockSession
type UnlockConfig struct {
	SessionDuration time.Duration
	WarningTime     time.Duration
	TickInterval    time.Duration
	// OnSessionExpired fires once when the remaining time reaches zero
	OnSessionExpired func()
	// OnWarning fires once per unlock cycle when the warning threshold is crossed
	OnWarning func()
}

// UnlockSession is a time-boxed unlock window, independent of wallet identity.
// Remaining time is recomputed from elapsed wall-clock time on every tick.
type UnlockSession struct {
	clock clock.Clock
	cfg   UnlockConfig

	mu         sync.Mutex
	unlocked   bool
	startedAt  time.Time
	remaining  time.Duration
	warning    bool
	warned     bool
	generation uint64
	expiry     *clock.Timer
	stop       chan struct{}
}

// NewUnlockSession creates a locked session
func NewUnlockSession(clk clock.Clock, cfg UnlockConfig) *UnlockSession {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = DefaultUnlockDuration
	}
	if cfg.WarningTime < 0 {
		cfg.WarningTime = 0
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &UnlockSession{clock: clk, cfg: cfg}
}

// Unlock starts a new window. Calling it while unlocked restarts the window.
func (s *UnlockSession) Unlock() {
	s.mu.Lock()
	gen := s.startLocked()
	s.mu.Unlock()

	metrics.UnlockEvent("started")
	s.tick(gen)
}

// ExtendSession restarts the window; no-op while locked
func (s *UnlockSession) ExtendSession() {
	s.mu.Lock()
	if !s.unlocked {
		s.mu.Unlock()
		return
	}
	gen := s.startLocked()
	s.mu.Unlock()

	metrics.UnlockEvent("extended")
	s.tick(gen)
}

// Lock cancels all timers without firing callbacks
func (s *UnlockSession) Lock() {
	s.mu.Lock()
	wasUnlocked := s.unlocked
	s.generation++
	s.resetLocked()
	s.mu.Unlock()

	if wasUnlocked {
		metrics.UnlockEvent("locked")
	}
}

// Close releases the session's timers
func (s *UnlockSession) Close() {
	s.Lock()
}

// State returns a snapshot of the session
func (s *UnlockSession) State() core.UnlockState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := core.UnlockState{
		IsUnlocked:       s.unlocked,
		Remaining:        s.remaining,
		RemainingSeconds: int(s.remaining / time.Second),
		IsWarning:        s.warning,
	}
	if s.unlocked {
		started := s.startedAt
		state.StartedAt = &started
	}
	return state
}

func (s *UnlockSession) startLocked() uint64 {
	s.resetLocked()
	s.generation++
	gen := s.generation

	s.unlocked = true
	s.startedAt = s.clock.Now()
	s.remaining = s.cfg.SessionDuration

	s.expiry = s.clock.AfterFunc(s.cfg.SessionDuration, func() { s.expire(gen) })

	stop := make(chan struct{})
	s.stop = stop
	ticker := s.clock.Ticker(s.cfg.TickInterval)
	go s.run(gen, ticker, stop)

	return gen
}

// resetLocked stops timers and zeroes the state; the warning latch resets here
func (s *UnlockSession) resetLocked() {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.unlocked = false
	s.startedAt = time.Time{}
	s.remaining = 0
	s.warning = false
	s.warned = false
}

func (s *UnlockSession) run(gen uint64, ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick(gen)
		}
	}
}

func (s *UnlockSession) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.unlocked {
		s.mu.Unlock()
		return
	}

	remaining := s.cfg.SessionDuration - s.clock.Since(s.startedAt)
	if remaining <= 0 {
		s.mu.Unlock()
		s.expire(gen)
		return
	}

	s.remaining = remaining
	s.warning = remaining <= s.cfg.WarningTime
	fire := s.warning && !s.warned
	if fire {
		s.warned = true
	}
	onWarning := s.cfg.OnWarning
	s.mu.Unlock()

	if fire && onWarning != nil {
		onWarning()
	}
}

func (s *UnlockSession) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || !s.unlocked {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.resetLocked()
	onExpired := s.cfg.OnSessionExpired
	s.mu.Unlock()

	metrics.UnlockEvent("expired")
	if onExpired != nil {
		onExpired()
	}
}
