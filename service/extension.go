package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/internal/metrics"
	"github.com/layer-3/walletgate/ports"
	"github.com/rs/zerolog/log"
)

// Durable storage key mirroring the extension wallet connection
const keyExtensionConnection = "extension_wallet_connection"

type extensionMirror struct {
	Provider string `json:"provider"`
	Address  string `json:"address"`
}

// ExtensionFlow connects browser wallet extensions. The provider's own
// connection state is authoritative: Reconcile drops local state the
// provider no longer backs.
type ExtensionFlow struct {
	registry ports.WalletRegistry
	mirror   ports.KV

	mu         sync.Mutex
	provider   ports.WalletProvider
	wallet     *core.WalletConnection
	connecting bool
	err        error
	onChange   func()
}

// NewExtensionFlow creates an extension wallet flow; mirror must be durable storage
func NewExtensionFlow(registry ports.WalletRegistry, mirror ports.KV) *ExtensionFlow {
	return &ExtensionFlow{
		registry: registry,
		mirror:   mirror,
	}
}

// OnChange registers a callback fired after the published wallet changes
func (f *ExtensionFlow) OnChange(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// Wallet returns the published wallet or nil
func (f *ExtensionFlow) Wallet() *core.WalletConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallet
}

// Err returns the error of the last failed connection
func (f *ExtensionFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// IsConnecting reports whether a connection handshake is in progress
func (f *ExtensionFlow) IsConnecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connecting
}

// ListAvailable merges configured and detected wallets, de-duplicated by name.
// Configured order comes first; detected-only wallets follow.
func (f *ExtensionFlow) ListAvailable() []core.ExtensionWalletDescriptor {
	detected := f.registry.Detected()
	installed := make(map[string]bool, len(detected))
	for _, p := range detected {
		installed[normalizeName(p.Name())] = true
	}

	var list []core.ExtensionWalletDescriptor
	seen := make(map[string]int)
	add := func(d core.ExtensionWalletDescriptor) {
		key := normalizeName(d.Name)
		if key == "" {
			return
		}
		if i, ok := seen[key]; ok {
			// Keep the richer descriptor fields of the first entry
			if list[i].IconURL == "" {
				list[i].IconURL = d.IconURL
			}
			if list[i].DownloadURL == "" {
				list[i].DownloadURL = d.DownloadURL
			}
			return
		}
		d.Installed = installed[key]
		seen[key] = len(list)
		list = append(list, d)
	}

	for _, d := range f.registry.Configured() {
		add(d)
	}
	for _, p := range detected {
		add(core.ExtensionWalletDescriptor{Name: p.Name()})
	}
	return list
}

// Connect connects the named wallet, or the first installed one when name is empty
func (f *ExtensionFlow) Connect(ctx context.Context, name string) (*core.WalletConnection, error) {
	provider, err := f.pick(name)
	if err != nil {
		f.fail(err)
		return nil, err
	}

	f.mu.Lock()
	f.connecting = true
	f.err = nil
	f.mu.Unlock()

	account, err := provider.Connect(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrProviderRejected) {
			err = fmt.Errorf("%w: %v", core.ErrProviderRejected, err)
		}
		f.fail(err)
		return nil, err
	}
	if account.Address == "" {
		err = fmt.Errorf("%s returned no account: %w", provider.Name(), core.ErrProviderRejected)
		f.fail(err)
		return nil, err
	}

	wallet := &core.WalletConnection{
		Address: account.Address,
		Type:    core.WalletTypeExtension,
		Name:    provider.Name(),
	}
	if err := f.saveMirror(ctx, provider.Name(), account.Address); err != nil {
		log.Warn().Err(err).Msg("failed to mirror extension wallet connection")
	}

	f.set(provider, wallet)
	metrics.LoginAttempt("extension", "success")
	log.Info().Str("wallet", provider.Name()).Str("address", account.Address).Msg("extension wallet connected")

	return wallet, nil
}

func (f *ExtensionFlow) pick(name string) (ports.WalletProvider, error) {
	detected := f.registry.Detected()
	if name == "" {
		if len(detected) == 0 {
			return nil, core.ErrNoWalletInstalled
		}
		return detected[0], nil
	}
	for _, p := range detected {
		if normalizeName(p.Name()) == normalizeName(name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%q is not installed: %w", name, core.ErrNoWalletInstalled)
}

// Restore republishes the mirrored connection if its provider still backs it
func (f *ExtensionFlow) Restore(ctx context.Context) {
	if f.Wallet() != nil {
		return
	}

	raw, err := f.mirror.Get(ctx, keyExtensionConnection)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to read extension wallet mirror")
		}
		return
	}

	var m extensionMirror
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.Provider == "" || m.Address == "" {
		log.Warn().Err(core.ErrStorageCorrupt).Msg("discarding malformed extension wallet mirror")
		f.clearMirror(ctx)
		return
	}

	provider, err := f.pick(m.Provider)
	if err != nil {
		// Not detected yet; keep the mirror until the client reports its wallets
		return
	}

	account, connected, err := provider.Account(ctx)
	if err != nil {
		log.Warn().Err(err).Str("wallet", m.Provider).Msg("failed to read provider state")
		return
	}
	if !connected || !strings.EqualFold(account.Address, m.Address) {
		f.clearMirror(ctx)
		return
	}

	f.set(provider, &core.WalletConnection{
		Address: account.Address,
		Type:    core.WalletTypeExtension,
		Name:    provider.Name(),
	})
}

// Reconcile is one observation tick: it aligns local state with the provider's
func (f *ExtensionFlow) Reconcile(ctx context.Context) error {
	f.mu.Lock()
	provider, wallet := f.provider, f.wallet
	f.mu.Unlock()

	if provider == nil || wallet == nil {
		return nil
	}

	account, connected, err := provider.Account(ctx)
	if err != nil {
		return fmt.Errorf("failed to read provider state: %w", err)
	}

	switch {
	case !connected || account.Address == "":
		f.clearMirror(ctx)
		f.set(nil, nil)
		metrics.StaleExtensionCleared()
		log.Info().Str("wallet", provider.Name()).Msg("extension wallet disconnected by provider")
	case !strings.EqualFold(account.Address, wallet.Address):
		if err := f.saveMirror(ctx, provider.Name(), account.Address); err != nil {
			log.Warn().Err(err).Msg("failed to mirror extension wallet connection")
		}
		f.set(provider, &core.WalletConnection{
			Address: account.Address,
			Type:    core.WalletTypeExtension,
			Name:    provider.Name(),
		})
		log.Info().Str("wallet", provider.Name()).Msg("extension wallet account changed")
	}
	return nil
}

// Observe reconciles on every provider event and every interval until ctx is done
func (f *ExtensionFlow) Observe(ctx context.Context, clk clock.Clock, interval time.Duration) {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	var closed ports.WalletProvider
	for {
		f.mu.Lock()
		provider := f.provider
		f.mu.Unlock()

		var events <-chan ports.WalletEvent
		if provider != nil && provider != closed {
			events = provider.Events()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				closed = provider
			}
		}

		if err := f.Reconcile(ctx); err != nil {
			log.Warn().Err(err).Msg("extension wallet reconciliation failed")
		}
	}
}

// Disconnect disconnects the provider and clears the local mirror
func (f *ExtensionFlow) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	var err error
	if provider != nil {
		if derr := provider.Disconnect(ctx); derr != nil {
			err = fmt.Errorf("failed to disconnect %s: %w", provider.Name(), derr)
		}
	}

	f.clearMirror(ctx)
	f.set(nil, nil)
	return err
}

func (f *ExtensionFlow) set(provider ports.WalletProvider, wallet *core.WalletConnection) {
	f.mu.Lock()
	changed := f.wallet != wallet
	f.provider = provider
	f.wallet = wallet
	f.connecting = false
	f.err = nil
	onChange := f.onChange
	f.mu.Unlock()

	if changed && onChange != nil {
		onChange()
	}
}

func (f *ExtensionFlow) fail(err error) {
	f.mu.Lock()
	f.connecting = false
	f.err = err
	f.mu.Unlock()

	metrics.LoginAttempt("extension", "error")
	log.Warn().Err(err).Msg("extension wallet connection failed")
}

func (f *ExtensionFlow) saveMirror(ctx context.Context, provider, address string) error {
	payload, err := json.Marshal(extensionMirror{Provider: provider, Address: address})
	if err != nil {
		return err
	}
	return f.mirror.Set(ctx, keyExtensionConnection, string(payload))
}

func (f *ExtensionFlow) clearMirror(ctx context.Context) {
	if err := f.mirror.Delete(ctx, keyExtensionConnection); err != nil {
		log.Warn().Err(err).Msg("failed to clear extension wallet mirror")
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
