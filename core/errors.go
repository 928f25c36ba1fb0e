package core

import "errors"

var (
	// Login (zk identity path)
	ErrEpochFetch            = errors.New("failed to read current network epoch")
	ErrMissingEphemeralState = errors.New("ephemeral login material is missing")
	ErrDecode                = errors.New("malformed or tampered identity token")
	ErrProver                = errors.New("proving service rejected the request")
	ErrUnknownProvider       = errors.New("unknown identity provider")

	// Extension wallet path
	ErrNoWalletInstalled = errors.New("no wallet extension installed")
	ErrProviderRejected  = errors.New("wallet provider rejected the connection")

	// Storage
	ErrStorageCorrupt = errors.New("persisted state is corrupt")
	ErrNotFound       = errors.New("key not found")

	// Browser session and challenge tokens
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidChallenge = errors.New("invalid challenge")
)

// UserMessage maps an error to the message shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEpochFetch):
		return "Could not reach the network. Please try again."
	case errors.Is(err, ErrMissingEphemeralState):
		return "Your login session was lost. Please sign in again."
	case errors.Is(err, ErrDecode):
		return "The sign-in response could not be verified. Please try again."
	case errors.Is(err, ErrProver):
		return "We could not verify your login. Please try again."
	case errors.Is(err, ErrNoWalletInstalled):
		return "No wallet extension found. Install a wallet and try again."
	case errors.Is(err, ErrProviderRejected):
		return "The wallet connection was rejected. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
