package service

import (
	"context"
	"errors"
	"sync"

	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
	"github.com/rs/zerolog/log"
)

// WalletSession composes the zk and extension flows into one published wallet
type WalletSession struct {
	sessionID string
	zk        *ZkLoginFlow
	extension *ExtensionFlow
	events    ports.EventPublisher

	mu        sync.Mutex
	published string // address last announced, "" for none
}

// NewWalletSession wires both flows so that any change republishes the resolved wallet
func NewWalletSession(sessionID string, zk *ZkLoginFlow, extension *ExtensionFlow, events ports.EventPublisher) *WalletSession {
	s := &WalletSession{
		sessionID: sessionID,
		zk:        zk,
		extension: extension,
		events:    events,
	}
	zk.OnChange(s.sync)
	extension.OnChange(s.sync)
	return s
}

// Active returns the tagged wallet state
func (s *WalletSession) Active() core.ActiveWallet {
	return core.ResolveWallet(s.zk.Wallet(), s.extension.Wallet())
}

// Wallet returns the resolved wallet, nil when neither flow is active
func (s *WalletSession) Wallet() *core.WalletConnection {
	return s.Active().Wallet
}

// IsConnecting reports whether either flow is mid-login
func (s *WalletSession) IsConnecting() bool {
	return s.zk.IsConnecting() || s.extension.IsConnecting()
}

// Err returns the first error reported by either flow
func (s *WalletSession) Err() error {
	if err := s.zk.Err(); err != nil {
		return err
	}
	return s.extension.Err()
}

// ZkLogin exposes the zk login flow
func (s *WalletSession) ZkLogin() *ZkLoginFlow {
	return s.zk
}

// Extension exposes the extension wallet flow
func (s *WalletSession) Extension() *ExtensionFlow {
	return s.extension
}

// Disconnect tears down whichever flow is active. When both or neither
// report a session, both are torn down.
func (s *WalletSession) Disconnect(ctx context.Context) error {
	zkActive := s.zk.Wallet() != nil
	extActive := s.extension.Wallet() != nil

	switch {
	case zkActive && !extActive:
		return s.zk.Disconnect(ctx)
	case extActive && !zkActive:
		return s.extension.Disconnect(ctx)
	default:
		return errors.Join(s.zk.Disconnect(ctx), s.extension.Disconnect(ctx))
	}
}

// CopyAddress writes the wallet address to the clipboard; no-op without a wallet
func (s *WalletSession) CopyAddress(ctx context.Context, clipboard ports.Clipboard) error {
	wallet := s.Wallet()
	if wallet == nil {
		return nil
	}
	return clipboard.WriteText(ctx, wallet.Address)
}

func (s *WalletSession) sync() {
	wallet := s.Wallet()
	address := ""
	if wallet != nil {
		address = wallet.Address
	}

	s.mu.Lock()
	if address == s.published {
		s.mu.Unlock()
		return
	}
	s.published = address
	s.mu.Unlock()

	if s.events == nil {
		return
	}
	if err := s.events.PublishWallet(context.Background(), s.sessionID, wallet); err != nil {
		log.Warn().Err(err).Str("session", s.sessionID).Msg("failed to publish wallet event")
	}
}
