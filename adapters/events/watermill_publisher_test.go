package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/walletgate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillPublisher_PublishWallet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(ctx, WalletTopic)
	require.NoError(t, err)

	pub := NewWatermillPublisher(pubSub)
	wallet := &core.WalletConnection{Address: "0xabc", Type: core.WalletTypeZkIdentity}
	require.NoError(t, pub.PublishWallet(ctx, "sid", wallet))

	select {
	case msg := <-messages:
		var event WalletEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		msg.Ack()
		assert.Equal(t, "sid", event.SessionID)
		assert.True(t, event.Connected)
		assert.Equal(t, wallet, event.Wallet)
	case <-time.After(time.Second):
		t.Fatal("wallet event not delivered")
	}
}

func TestWatermillPublisher_PublishUnlockExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(ctx, UnlockTopic)
	require.NoError(t, err)

	require.NoError(t, NewWatermillPublisher(pubSub).PublishUnlockExpired(ctx, "sid"))

	select {
	case msg := <-messages:
		var event UnlockEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		msg.Ack()
		assert.Equal(t, UnlockEvent{SessionID: "sid", State: "expired"}, event)
	case <-time.After(time.Second):
		t.Fatal("unlock event not delivered")
	}
}
