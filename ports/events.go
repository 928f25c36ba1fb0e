package ports

import (
	"context"

	"github.com/layer-3/walletgate/core"
)

// EventPublisher publishes session events to other instances
type EventPublisher interface {
	// PublishWallet announces the resolved wallet of a session; nil means disconnected
	PublishWallet(ctx context.Context, sessionID string, wallet *core.WalletConnection) error
	PublishUnlockExpired(ctx context.Context, sessionID string) error
}
