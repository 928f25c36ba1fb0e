package extension

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

// Proof is a signed challenge submitted by the browser-side wallet
type Proof struct {
	Address   string `json:"address" binding:"required"`
	Challenge string `json:"challenge" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// Provider is a browser wallet extension seen through the bridge. Its
// connection state changes only through verified proofs and reported events.
type Provider struct {
	name   string
	bridge *Bridge

	proofs chan Proof
	events chan ports.WalletEvent

	mu        sync.Mutex
	account   core.ExtensionAccount
	connected bool
}

func newProvider(name string, bridge *Bridge) *Provider {
	return &Provider{
		name:   name,
		bridge: bridge,
		proofs: make(chan Proof, 1),
		events: make(chan ports.WalletEvent, 8),
	}
}

var _ ports.WalletProvider = (*Provider)(nil)

// Name returns the wallet name
func (p *Provider) Name() string {
	return p.name
}

// Offer hands a connection proof to a pending or future Connect. A newer
// proof replaces an unconsumed one.
func (p *Provider) Offer(proof Proof) {
	for {
		select {
		case p.proofs <- proof:
			return
		default:
		}
		select {
		case <-p.proofs:
		default:
		}
	}
}

// Connect waits for a proof and verifies it. The proof's challenge must have
// been issued to this bridge's session and is spent by the attempt.
func (p *Provider) Connect(ctx context.Context) (core.ExtensionAccount, error) {
	var proof Proof
	select {
	case <-ctx.Done():
		return core.ExtensionAccount{}, ctx.Err()
	case proof = <-p.proofs:
	}

	challenge, err := p.bridge.challenges.ConsumeChallenge(ctx, p.bridge.sessionID, proof.Challenge)
	if err != nil {
		return core.ExtensionAccount{}, fmt.Errorf("%w: %v", core.ErrProviderRejected, err)
	}
	if err := p.bridge.tokenizer.VerifySignature(challenge, proof.Signature, proof.Address); err != nil {
		return core.ExtensionAccount{}, fmt.Errorf("%w: %v", core.ErrProviderRejected, err)
	}

	account := core.ExtensionAccount{Address: proof.Address, Provider: p.name}

	p.mu.Lock()
	p.account = account
	p.connected = true
	p.mu.Unlock()

	return account, nil
}

// Disconnect drops the provider's connection
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected = false
	p.account = core.ExtensionAccount{}
	return nil
}

// Account reports the provider's connection state
func (p *Provider) Account(ctx context.Context) (core.ExtensionAccount, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.account, p.connected, nil
}

// Events returns the provider's event stream
func (p *Provider) Events() <-chan ports.WalletEvent {
	return p.events
}

// Notify applies an event reported by the browser. A switch to an account
// that has not proven ownership drops the connection.
func (p *Provider) Notify(event ports.WalletEvent) {
	p.mu.Lock()
	switch event.Type {
	case ports.WalletEventDisconnected:
		p.connected = false
		p.account = core.ExtensionAccount{}
	case ports.WalletEventAccountChanged:
		if !strings.EqualFold(event.Address, p.account.Address) {
			p.connected = false
			p.account = core.ExtensionAccount{}
		}
	}
	p.mu.Unlock()

	select {
	case p.events <- event:
	default:
		// Observers reconcile on their next tick anyway
	}
}
