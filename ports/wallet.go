package ports

import (
	"context"

	"github.com/layer-3/walletgate/core"
)

// WalletEventType enumerates provider-driven state changes
type WalletEventType string

const (
	WalletEventDisconnected   WalletEventType = "disconnected"
	WalletEventAccountChanged WalletEventType = "accountChanged"
)

// WalletEvent is emitted by a provider when its state changes
type WalletEvent struct {
	Type    WalletEventType
	Address string
}

// WalletProvider is an injected or discoverable wallet extension
type WalletProvider interface {
	Name() string
	// Connect performs the connection handshake and waits for the connected signal
	Connect(ctx context.Context) (core.ExtensionAccount, error)
	Disconnect(ctx context.Context) error
	// Account reports the provider's authoritative connection state
	Account(ctx context.Context) (core.ExtensionAccount, bool, error)
	// Events may return nil if the provider does not push changes
	Events() <-chan WalletEvent
}

// WalletRegistry discovers wallet providers
type WalletRegistry interface {
	// Configured lists known wallets that may not be present
	Configured() []core.ExtensionWalletDescriptor
	// Detected lists providers present in the client
	Detected() []WalletProvider
}

// Clipboard receives copied text
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}
