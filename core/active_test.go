package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveWallet(t *testing.T) {
	t.Parallel()

	zk := &WalletConnection{Address: "0xaaa", Type: WalletTypeZkIdentity, Name: "Alice"}
	ext := &WalletConnection{Address: "0xbbb", Type: WalletTypeExtension, Name: "Slush"}

	tests := []struct {
		name      string
		zk        *WalletConnection
		extension *WalletConnection
		wantKind  ActiveKind
		want      *WalletConnection
	}{
		{name: "nothing active", wantKind: ActiveNone},
		{name: "zk only", zk: zk, wantKind: ActiveZk, want: zk},
		{name: "extension only", extension: ext, wantKind: ActiveExtension, want: ext},
		{name: "both active, zk wins", zk: zk, extension: ext, wantKind: ActiveZk, want: zk},
		{
			name:      "incomplete zk record falls through",
			zk:        &WalletConnection{Type: WalletTypeZkIdentity},
			extension: ext,
			wantKind:  ActiveExtension,
			want:      ext,
		},
		{
			name:     "unknown type is ignored",
			zk:       &WalletConnection{Address: "0xccc", Type: "other"},
			wantKind: ActiveNone,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResolveWallet(tt.zk, tt.extension)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.want, got.Wallet)
		})
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(fmt.Errorf("callback: %w", ErrMissingEphemeralState)), "sign in again")
	assert.Contains(t, UserMessage(ErrNoWalletInstalled), "Install a wallet")
	assert.Contains(t, UserMessage(errors.New("boom")), "try again")
}
