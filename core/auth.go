package core

import "time"

// Challenge represents an extension wallet ownership challenge
type Challenge struct {
	ID        string    // Unique identifier for the challenge
	SessionID string    // Browser session the challenge was issued to
	Nonce     string    // Random nonce to be signed by the wallet
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge expires
}

// Session represents a browser session. Session-scoped storage lives and dies with it.
type Session struct {
	ID        string    // Unique session identifier
	IssuedAt  time.Time // When the session was created
	ExpiresAt time.Time // When the session token expires
}
