package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/internal/metrics"
	"github.com/layer-3/walletgate/ports"
	"github.com/rs/zerolog/log"
)

// ZkState is the state of a zk login flow
type ZkState string

const (
	ZkIdle             ZkState = "idle"
	ZkAwaitingRedirect ZkState = "awaiting_redirect"
	ZkAwaitingCallback ZkState = "awaiting_callback"
	ZkProofRequested   ZkState = "proof_requested"
	ZkAuthenticated    ZkState = "authenticated"
	ZkError            ZkState = "error"
)

// Session-scoped storage keys
const (
	keyEphemeralPrivateKey = "ephemeral_private_key"
	keyMaxEpoch            = "max_epoch"
	keyRandomness          = "randomness"
	keyExtendedPublicKey   = "extended_ephemeral_public_key"
	keyPendingProvider     = "zklogin_provider"
	keyZkIdentitySession   = "zk_identity_session"

	statePrefix = "zklogin_"
)

// OAuthProvider is an OpenID Connect identity provider used for zk login
type OAuthProvider struct {
	Name     string
	AuthURL  string
	ClientID string
}

// ZkLoginConfig configures a ZkLoginFlow
type ZkLoginConfig struct {
	Providers    map[string]OAuthProvider
	RedirectURL  string
	KeyClaimName string
}

// zkIdentitySession is the persisted form of an authenticated zk identity
type zkIdentitySession struct {
	core.ZkAuthResult
	EphemeralPrivateKey string `json:"ephemeral_private_key"`
	Name                string `json:"name,omitempty"`
	Email               string `json:"email,omitempty"`
	Avatar              string `json:"avatar,omitempty"`
}

// ZkLoginFlow drives OAuth login with zero-knowledge proofs. beginLogin and
// handleCallback are independent entry points joined only through the
// session-scoped store.
type ZkLoginFlow struct {
	cfg     ZkLoginConfig
	keys    *EphemeralKeyManager
	store   ports.KV
	decoder ports.IdentityTokenDecoder
	prover  ports.Prover
	salts   ports.SaltProvider

	mu         sync.Mutex
	state      ZkState
	wallet     *core.WalletConnection
	result     *core.ZkAuthResult
	err        error
	connecting bool
	generation uint64
	onChange   func()
}

// NewZkLoginFlow creates a zk login flow over a session-scoped store
func NewZkLoginFlow(
	cfg ZkLoginConfig,
	keys *EphemeralKeyManager,
	store ports.KV,
	decoder ports.IdentityTokenDecoder,
	prover ports.Prover,
	salts ports.SaltProvider,
) *ZkLoginFlow {
	if cfg.KeyClaimName == "" {
		cfg.KeyClaimName = "sub"
	}
	return &ZkLoginFlow{
		cfg:     cfg,
		keys:    keys,
		store:   store,
		decoder: decoder,
		prover:  prover,
		salts:   salts,
		state:   ZkIdle,
	}
}

// OnChange registers a callback fired after the published wallet changes
func (f *ZkLoginFlow) OnChange(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

// State returns the current flow state
func (f *ZkLoginFlow) State() ZkState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Wallet returns the published wallet or nil
func (f *ZkLoginFlow) Wallet() *core.WalletConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallet
}

// Result returns the zk auth result of the authenticated identity or nil
func (f *ZkLoginFlow) Result() *core.ZkAuthResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Err returns the error of the last failed login
func (f *ZkLoginFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// IsConnecting reports whether a login is in progress
func (f *ZkLoginFlow) IsConnecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connecting
}

// BeginLogin prepares ephemeral material and returns the provider
// authorization URL the browser must be redirected to.
func (f *ZkLoginFlow) BeginLogin(ctx context.Context, providerName string) (string, error) {
	provider, ok := f.cfg.Providers[providerName]
	if !ok {
		return "", fmt.Errorf("%q: %w", providerName, core.ErrUnknownProvider)
	}

	material, err := f.loadMaterial(ctx)
	if err != nil {
		// Partial or absent state is regenerated, never patched
		material, err = f.keys.Generate(ctx)
		if err != nil {
			f.fail("begin", err)
			return "", err
		}
	}

	nonce, err := core.ComputeNonce(material)
	if err != nil {
		f.fail("begin", err)
		return "", err
	}

	// Material is complete before anything is written, and written in one batch.
	if err := f.store.SetMany(ctx, map[string]string{
		keyEphemeralPrivateKey: hex.EncodeToString(material.PrivateKey),
		keyMaxEpoch:            strconv.FormatUint(material.MaxEpoch, 10),
		keyRandomness:          material.Randomness,
		keyExtendedPublicKey:   material.ExtendedEphemeralPublicKey,
		keyPendingProvider:     provider.Name,
	}); err != nil {
		err = fmt.Errorf("failed to persist ephemeral material: %w", err)
		f.fail("begin", err)
		return "", err
	}

	f.mu.Lock()
	f.state = ZkAwaitingRedirect
	f.err = nil
	f.connecting = true
	f.mu.Unlock()

	log.Info().Str("provider", provider.Name).Uint64("max_epoch", material.MaxEpoch).Msg("zk login started")

	return f.authorizationURL(provider, nonce), nil
}

func (f *ZkLoginFlow) authorizationURL(p OAuthProvider, nonce string) string {
	q := url.Values{}
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", f.cfg.RedirectURL)
	q.Set("response_type", "id_token")
	q.Set("scope", "openid email profile")
	q.Set("nonce", nonce)
	q.Set("state", statePrefix+p.Name)

	sep := "?"
	if strings.Contains(p.AuthURL, "?") {
		sep = "&"
	}
	return p.AuthURL + sep + q.Encode()
}

// Mount runs on every page load: it processes a callback fragment if one is
// present and otherwise restores a previously authenticated identity. The
// returned bool reports whether the caller must clear the URL fragment.
func (f *ZkLoginFlow) Mount(ctx context.Context, fragment string) (bool, error) {
	handled, err := f.HandleCallback(ctx, fragment)
	if handled {
		return true, err
	}
	f.RestoreOnMount(ctx)
	return false, nil
}

// HandleCallback processes an identity-provider callback fragment. It is a
// no-op when the fragment carries no identity token.
func (f *ZkLoginFlow) HandleCallback(ctx context.Context, fragment string) (bool, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil || values.Get("id_token") == "" {
		return false, nil
	}
	idToken := values.Get("id_token")

	f.mu.Lock()
	f.state = ZkAwaitingCallback
	f.err = nil
	f.connecting = true
	gen := f.generation
	f.mu.Unlock()

	claims, err := f.decoder.Decode(idToken)
	if err != nil {
		f.failAt(gen, "callback", err)
		return true, err
	}

	material, err := f.loadMaterial(ctx)
	if err != nil {
		f.failAt(gen, "callback", err)
		return true, err
	}

	provider, err := f.store.Get(ctx, keyPendingProvider)
	if err != nil || values.Get("state") != statePrefix+provider {
		err = fmt.Errorf("callback state does not match the pending login: %w", core.ErrDecode)
		f.failAt(gen, "callback", err)
		return true, err
	}

	nonce, err := core.ComputeNonce(material)
	if err != nil {
		f.failAt(gen, "callback", err)
		return true, err
	}
	if claims.Nonce != nonce {
		err = fmt.Errorf("identity token nonce does not bind the ephemeral key: %w", core.ErrDecode)
		f.failAt(gen, "callback", err)
		return true, err
	}

	salt, err := f.salts.Salt(ctx, claims.Issuer, claims.Subject)
	if err != nil {
		f.failAt(gen, "callback", err)
		return true, err
	}

	address, err := core.DeriveAddress(claims, salt)
	if err != nil {
		f.failAt(gen, "callback", err)
		return true, err
	}

	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		return true, nil
	}
	f.state = ZkProofRequested
	f.mu.Unlock()

	proof, err := f.prover.Prove(ctx, ports.ProofRequest{
		JWT:                        idToken,
		ExtendedEphemeralPublicKey: material.ExtendedEphemeralPublicKey,
		MaxEpoch:                   strconv.FormatUint(material.MaxEpoch, 10),
		JWTRandomness:              material.Randomness,
		Salt:                       salt,
		KeyClaimName:               f.cfg.KeyClaimName,
	})
	if err != nil {
		if !errors.Is(err, core.ErrProver) {
			err = fmt.Errorf("%w: %v", core.ErrProver, err)
		}
		f.failAt(gen, "callback", err)
		return true, err
	}

	result := core.ZkAuthResult{
		Address:       address,
		UserSalt:      salt,
		ZkProof:       proof,
		IdentityToken: idToken,
		MaxEpoch:      material.MaxEpoch,
	}
	wallet := &core.WalletConnection{
		Address: address,
		Type:    core.WalletTypeZkIdentity,
		Name:    claims.Name,
		Email:   claims.Email,
		Avatar:  claims.Picture,
	}

	payload, err := json.Marshal(zkIdentitySession{
		ZkAuthResult:        result,
		EphemeralPrivateKey: hex.EncodeToString(material.PrivateKey),
		Name:                wallet.Name,
		Email:               wallet.Email,
		Avatar:              wallet.Avatar,
	})
	if err != nil {
		f.failAt(gen, "callback", err)
		return true, err
	}

	if f.stale(gen) {
		// Disconnected while the proof was in flight
		return true, nil
	}

	if err := f.store.Set(ctx, keyZkIdentitySession, string(payload)); err != nil {
		err = fmt.Errorf("failed to persist zk identity: %w", err)
		f.failAt(gen, "callback", err)
		return true, err
	}
	if !f.publishAt(gen, ZkAuthenticated, wallet, &result) {
		// Disconnected while persisting: the write must not outlive it
		if err := f.store.Delete(ctx, keyZkIdentitySession); err != nil {
			log.Warn().Err(err).Msg("failed to discard zk identity after disconnect")
		}
		return true, nil
	}
	if err := f.store.Delete(ctx, pendingKeys()...); err != nil {
		log.Warn().Err(err).Msg("failed to clear consumed ephemeral material")
	}

	metrics.LoginAttempt("zk", "success")
	log.Info().Str("address", address).Msg("zk identity authenticated")

	return true, nil
}

// RestoreOnMount republishes a previously persisted identity without
// re-deriving it. Malformed state is discarded.
func (f *ZkLoginFlow) RestoreOnMount(ctx context.Context) {
	raw, err := f.store.Get(ctx, keyZkIdentitySession)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to read zk identity session")
		}
		return
	}

	var persisted zkIdentitySession
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil || !persisted.wellFormed() {
		log.Warn().Err(core.ErrStorageCorrupt).Msg("discarding malformed zk identity session")
		if err := f.store.Delete(ctx, keyZkIdentitySession); err != nil {
			log.Warn().Err(err).Msg("failed to discard zk identity session")
		}
		f.mu.Lock()
		f.state = ZkIdle
		f.mu.Unlock()
		return
	}

	result := persisted.ZkAuthResult
	f.publish(ZkAuthenticated, &core.WalletConnection{
		Address: persisted.Address,
		Type:    core.WalletTypeZkIdentity,
		Name:    persisted.Name,
		Email:   persisted.Email,
		Avatar:  persisted.Avatar,
	}, &result)
}

func (s *zkIdentitySession) wellFormed() bool {
	if !core.IsAddress(s.Address) || s.UserSalt == "" || s.IdentityToken == "" || s.MaxEpoch == 0 || len(s.ZkProof) == 0 {
		return false
	}
	key, err := hex.DecodeString(s.EphemeralPrivateKey)
	return err == nil && len(key) == 32
}

// Disconnect clears all persisted ephemeral and authenticated state
func (f *ZkLoginFlow) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.generation++
	f.mu.Unlock()

	keys := append(pendingKeys(), keyZkIdentitySession)
	err := f.store.Delete(ctx, keys...)

	f.publish(ZkIdle, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to clear zk identity state: %w", err)
	}
	return nil
}

func (f *ZkLoginFlow) publish(state ZkState, wallet *core.WalletConnection, result *core.ZkAuthResult) {
	f.mu.Lock()
	onChange := f.setLocked(state, wallet, result)
	f.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

// publishAt publishes only when no Disconnect happened since gen was read
func (f *ZkLoginFlow) publishAt(gen uint64, state ZkState, wallet *core.WalletConnection, result *core.ZkAuthResult) bool {
	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		return false
	}
	onChange := f.setLocked(state, wallet, result)
	f.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return true
}

// setLocked returns the change callback to run once the lock is released
func (f *ZkLoginFlow) setLocked(state ZkState, wallet *core.WalletConnection, result *core.ZkAuthResult) func() {
	changed := f.wallet != wallet
	f.state = state
	f.wallet = wallet
	f.result = result
	f.err = nil
	f.connecting = false
	if !changed {
		return nil
	}
	return f.onChange
}

func (f *ZkLoginFlow) stale(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gen != f.generation
}

func (f *ZkLoginFlow) fail(stage string, err error) {
	f.mu.Lock()
	f.state = ZkError
	f.err = err
	f.connecting = false
	f.mu.Unlock()

	metrics.LoginAttempt("zk", "error")
	log.Warn().Str("stage", stage).Err(err).Msg("zk login failed")
}

// failAt records a failure unless a Disconnect superseded the attempt
func (f *ZkLoginFlow) failAt(gen uint64, stage string, err error) {
	f.mu.Lock()
	superseded := gen != f.generation
	if !superseded {
		f.state = ZkError
		f.err = err
		f.connecting = false
	}
	f.mu.Unlock()

	metrics.LoginAttempt("zk", "error")
	if superseded {
		log.Debug().Str("stage", stage).Err(err).Msg("zk login abandoned after disconnect")
		return
	}
	log.Warn().Str("stage", stage).Err(err).Msg("zk login failed")
}

// loadMaterial reads the four pre-callback entries; anything partial or
// inconsistent counts as missing.
func (f *ZkLoginFlow) loadMaterial(ctx context.Context) (*core.EphemeralLoginMaterial, error) {
	read := func(key string) (string, error) {
		v, err := f.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return "", fmt.Errorf("%s absent: %w", key, core.ErrMissingEphemeralState)
			}
			return "", fmt.Errorf("failed to read %s: %w", key, err)
		}
		return v, nil
	}

	privHex, err := read(keyEphemeralPrivateKey)
	if err != nil {
		return nil, err
	}
	epochStr, err := read(keyMaxEpoch)
	if err != nil {
		return nil, err
	}
	randomness, err := read(keyRandomness)
	if err != nil {
		return nil, err
	}
	extPub, err := read(keyExtendedPublicKey)
	if err != nil {
		return nil, err
	}

	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("ephemeral key is not hex: %w", core.ErrMissingEphemeralState)
	}
	maxEpoch, err := strconv.ParseUint(epochStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("max epoch is not a number: %w", core.ErrMissingEphemeralState)
	}

	material := &core.EphemeralLoginMaterial{
		PrivateKey:                 priv,
		MaxEpoch:                   maxEpoch,
		Randomness:                 randomness,
		ExtendedEphemeralPublicKey: extPub,
	}
	if !core.MaterialConsistent(material) {
		return nil, fmt.Errorf("ephemeral material is inconsistent: %w", core.ErrMissingEphemeralState)
	}
	return material, nil
}

func pendingKeys() []string {
	return []string{
		keyEphemeralPrivateKey,
		keyMaxEpoch,
		keyRandomness,
		keyExtendedPublicKey,
		keyPendingProvider,
	}
}
