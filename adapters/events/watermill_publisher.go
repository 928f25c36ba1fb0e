package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

const (
	WalletTopic = "walletgate.wallet"
	UnlockTopic = "walletgate.unlock"
)

// WalletEvent announces the resolved wallet of a browser session
type WalletEvent struct {
	SessionID string                 `json:"session_id"`
	Connected bool                   `json:"connected"`
	Wallet    *core.WalletConnection `json:"wallet,omitempty"`
}

// UnlockEvent announces an unlock session transition
type UnlockEvent struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishWallet publishes a wallet change event
func (p *WatermillPublisher) PublishWallet(ctx context.Context, sessionID string, wallet *core.WalletConnection) error {
	return p.publish(ctx, WalletTopic, WalletEvent{
		SessionID: sessionID,
		Connected: wallet != nil,
		Wallet:    wallet,
	})
}

// PublishUnlockExpired publishes an unlock expiry event
func (p *WatermillPublisher) PublishUnlockExpired(ctx context.Context, sessionID string) error {
	return p.publish(ctx, UnlockTopic, UnlockEvent{SessionID: sessionID, State: "expired"})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
