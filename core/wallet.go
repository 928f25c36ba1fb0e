package core

import (
	"encoding/json"
	"time"
)

// WalletType discriminates which flow owns a WalletConnection
type WalletType string

const (
	WalletTypeZkIdentity WalletType = "zk-identity"
	WalletTypeExtension  WalletType = "extension-wallet"
)

// WalletConnection is the unified identity record published to consumers
type WalletConnection struct {
	Address string     `json:"address"`
	Type    WalletType `json:"type"`
	Name    string     `json:"name,omitempty"`
	Email   string     `json:"email,omitempty"`
	Avatar  string     `json:"avatar,omitempty"`
}

// Valid reports whether the record is fully formed.
func (w *WalletConnection) Valid() bool {
	if w == nil || w.Address == "" {
		return false
	}
	return w.Type == WalletTypeZkIdentity || w.Type == WalletTypeExtension
}

// EphemeralLoginMaterial is the per-login-attempt secret state
type EphemeralLoginMaterial struct {
	PrivateKey                 []byte // ed25519 seed
	MaxEpoch                   uint64
	Randomness                 string // decimal big integer
	ExtendedEphemeralPublicKey string // decimal big integer of flag || public key
}

// ZkAuthResult is derived once per successful zk login
type ZkAuthResult struct {
	Address       string          `json:"address"`
	UserSalt      string          `json:"user_salt"`
	ZkProof       json.RawMessage `json:"zk_proof"`
	IdentityToken string          `json:"identity_token"`
	MaxEpoch      uint64          `json:"max_epoch"`
}

// IdentityClaims are the identity-token fields the login flow consumes
type IdentityClaims struct {
	Issuer   string
	Subject  string
	Audience string
	Nonce    string
	Name     string
	Email    string
	Picture  string
}

// ExtensionWalletDescriptor describes a wallet extension known to the client
type ExtensionWalletDescriptor struct {
	Name        string `json:"name"`
	Installed   bool   `json:"installed"`
	IconURL     string `json:"icon_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// ExtensionAccount is what a wallet provider reports for a connected account
type ExtensionAccount struct {
	Address  string
	Provider string
}

// UnlockState is a snapshot of a time-boxed unlock session
type UnlockState struct {
	IsUnlocked       bool          `json:"is_unlocked"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int           `json:"remaining_seconds"`
	IsWarning        bool          `json:"is_warning"`
	StartedAt        *time.Time    `json:"started_at"`
}
