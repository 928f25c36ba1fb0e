package extension

import (
	"fmt"
	"strings"
	"sync"

	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

// Detected is a wallet extension the browser reported as present
type Detected struct {
	Name string `json:"name" binding:"required"`
}

// Bridge exposes the wallets a browser reports to the server-side extension flow
type Bridge struct {
	sessionID  string
	configured []core.ExtensionWalletDescriptor
	tokenizer  ports.Tokenizer
	challenges ports.ChallengeConsumer

	mu        sync.Mutex
	providers []*Provider
}

// NewBridge creates the bridge of one browser session with the configured wallet list
func NewBridge(sessionID string, configured []core.ExtensionWalletDescriptor, tokenizer ports.Tokenizer, challenges ports.ChallengeConsumer) *Bridge {
	return &Bridge{
		sessionID:  sessionID,
		configured: configured,
		tokenizer:  tokenizer,
		challenges: challenges,
	}
}

var _ ports.WalletRegistry = (*Bridge)(nil)

// Configured lists known wallets that may not be installed
func (b *Bridge) Configured() []core.ExtensionWalletDescriptor {
	out := make([]core.ExtensionWalletDescriptor, len(b.configured))
	copy(out, b.configured)
	return out
}

// Detected lists the providers of wallets the browser reported
func (b *Bridge) Detected() []ports.WalletProvider {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ports.WalletProvider, len(b.providers))
	for i, p := range b.providers {
		out[i] = p
	}
	return out
}

// Detect replaces the detected set. Providers that disappear report disconnection.
func (b *Bridge) Detect(wallets []Detected) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := make(map[string]*Provider, len(b.providers))
	for _, p := range b.providers {
		existing[key(p.name)] = p
	}

	next := make([]*Provider, 0, len(wallets))
	seen := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		k := key(w.Name)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		if p, ok := existing[k]; ok {
			next = append(next, p)
			delete(existing, k)
			continue
		}
		next = append(next, newProvider(strings.TrimSpace(w.Name), b))
	}

	for _, gone := range existing {
		gone.Notify(ports.WalletEvent{Type: ports.WalletEventDisconnected})
	}
	b.providers = next
}

// Provider returns the detected provider with the given name
func (b *Bridge) Provider(name string) (*Provider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.providers {
		if key(p.name) == key(name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%q is not installed: %w", name, core.ErrNoWalletInstalled)
}

// First returns the first detected provider
func (b *Bridge) First() (*Provider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.providers) == 0 {
		return nil, core.ErrNoWalletInstalled
	}
	return b.providers[0], nil
}

// Bridges holds one bridge per browser session
type Bridges struct {
	configured []core.ExtensionWalletDescriptor
	tokenizer  ports.Tokenizer
	challenges ports.ChallengeConsumer

	mu      sync.Mutex
	bridges map[string]*Bridge
}

// NewBridges creates an empty bridge set
func NewBridges(configured []core.ExtensionWalletDescriptor, tokenizer ports.Tokenizer, challenges ports.ChallengeConsumer) *Bridges {
	return &Bridges{
		configured: configured,
		tokenizer:  tokenizer,
		challenges: challenges,
		bridges:    make(map[string]*Bridge),
	}
}

// For returns the bridge of a browser session, creating it if needed
func (s *Bridges) For(sessionID string) *Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bridges[sessionID]
	if !ok {
		b = NewBridge(sessionID, s.configured, s.tokenizer, s.challenges)
		s.bridges[sessionID] = b
	}
	return b
}

// Registry adapts For to the session manager's registry factory
func (s *Bridges) Registry(sessionID string) ports.WalletRegistry {
	return s.For(sessionID)
}

// Remove drops the bridge of an ended browser session
func (s *Bridges) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bridges, sessionID)
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
