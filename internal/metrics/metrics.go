// Package metrics holds the prometheus collectors of walletgate.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	loginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletgate",
		Name:      "login_attempts_total",
		Help:      "Wallet login attempts by flow and outcome.",
	}, []string{"flow", "outcome"})

	unlockSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletgate",
		Name:      "unlock_sessions_total",
		Help:      "Unlock session transitions by event.",
	}, []string{"event"})

	staleExtensionCleared = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walletgate",
		Name:      "extension_stale_cleared_total",
		Help:      "Extension wallet connections cleared after the provider reported disconnection.",
	})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletgate",
		Name:      "browser_sessions_active",
		Help:      "Browser sessions with live in-memory flows.",
	})
)

// Register adds the collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(loginAttempts, unlockSessions, staleExtensionCleared, activeSessions)
	})
}

// LoginAttempt counts a finished login attempt
func LoginAttempt(flow, outcome string) {
	loginAttempts.WithLabelValues(flow, outcome).Inc()
}

// UnlockEvent counts an unlock session transition (started, extended, expired, locked)
func UnlockEvent(event string) {
	unlockSessions.WithLabelValues(event).Inc()
}

// StaleExtensionCleared counts a reconciliation that dropped stale local state
func StaleExtensionCleared() {
	staleExtensionCleared.Inc()
}

// SessionOpened and SessionClosed track live browser sessions
func SessionOpened() { activeSessions.Inc() }
func SessionClosed() { activeSessions.Dec() }
