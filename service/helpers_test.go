package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/layer-3/walletgate/adapters/store"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
	"github.com/stretchr/testify/require"
)

type fakeEpochs struct {
	epoch uint64
	err   error
}

func (f *fakeEpochs) CurrentEpoch(ctx context.Context) (uint64, error) {
	return f.epoch, f.err
}

// fakeDecoder maps raw identity tokens to claims
type fakeDecoder struct {
	mu     sync.Mutex
	tokens map[string]*core.IdentityClaims
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{tokens: make(map[string]*core.IdentityClaims)}
}

func (d *fakeDecoder) add(raw string, claims *core.IdentityClaims) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[raw] = claims
}

func (d *fakeDecoder) Decode(raw string) (*core.IdentityClaims, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	claims, ok := d.tokens[raw]
	if !ok {
		return nil, core.ErrDecode
	}
	c := *claims
	return &c, nil
}

type fakeProver struct {
	mu       sync.Mutex
	err      error
	requests []ports.ProofRequest
	block    chan struct{}
}

func (p *fakeProver) Prove(ctx context.Context, req ports.ProofRequest) (json.RawMessage, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	err, block := p.err, p.block
	p.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{"proofPoints":{"a":["1"]},"issBase64Details":{"value":"x","indexMod4":1},"headerBase64":"h"}`), nil
}

func (p *fakeProver) calls() []ports.ProofRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.ProofRequest(nil), p.requests...)
}

type publishedWallet struct {
	sessionID string
	wallet    *core.WalletConnection
}

type recordingPublisher struct {
	mu      sync.Mutex
	wallets []publishedWallet
	expired []string
}

func (p *recordingPublisher) PublishWallet(ctx context.Context, sessionID string, wallet *core.WalletConnection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallets = append(p.wallets, publishedWallet{sessionID: sessionID, wallet: wallet})
	return nil
}

func (p *recordingPublisher) PublishUnlockExpired(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, sessionID)
	return nil
}

func (p *recordingPublisher) walletEvents() []publishedWallet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedWallet(nil), p.wallets...)
}

func (p *recordingPublisher) expiredSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.expired...)
}

// fakeProvider is a wallet extension whose state tests drive directly
type fakeProvider struct {
	name string

	mu         sync.Mutex
	address    string
	connected  bool
	connectErr error
	events     chan ports.WalletEvent
}

func newFakeProvider(name, address string) *fakeProvider {
	return &fakeProvider{name: name, address: address, events: make(chan ports.WalletEvent, 4)}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Connect(ctx context.Context) (core.ExtensionAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return core.ExtensionAccount{}, p.connectErr
	}
	p.connected = true
	return core.ExtensionAccount{Address: p.address, Provider: p.name}, nil
}

func (p *fakeProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *fakeProvider) Account(ctx context.Context) (core.ExtensionAccount, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return core.ExtensionAccount{}, false, nil
	}
	return core.ExtensionAccount{Address: p.address, Provider: p.name}, true, nil
}

func (p *fakeProvider) Events() <-chan ports.WalletEvent { return p.events }

func (p *fakeProvider) setConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

func (p *fakeProvider) setAddress(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.address = address
}

type fakeRegistry struct {
	configured []core.ExtensionWalletDescriptor
	detected   []ports.WalletProvider
}

func (r *fakeRegistry) Configured() []core.ExtensionWalletDescriptor { return r.configured }
func (r *fakeRegistry) Detected() []ports.WalletProvider { return r.detected }

type fakeClipboard struct {
	text   string
	writes int
}

func (c *fakeClipboard) WriteText(ctx context.Context, text string) error {
	c.text = text
	c.writes++
	return nil
}

// failingKV rejects every operation
type failingKV struct{}

var errStorageDown = errors.New("storage unavailable")

func (failingKV) Get(ctx context.Context, key string) (string, error) { return "", errStorageDown }
func (failingKV) Set(ctx context.Context, key, value string) error { return errStorageDown }
func (failingKV) SetMany(ctx context.Context, values map[string]string) error { return errStorageDown }
func (failingKV) Delete(ctx context.Context, keys ...string) error { return errStorageDown }

// gatedKV holds writes of one key until released
type gatedKV struct {
	ports.KV
	key     string
	entered chan struct{}
	release chan struct{}
}

func newGatedKV(kv ports.KV, key string) *gatedKV {
	return &gatedKV{KV: kv, key: key, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedKV) Set(ctx context.Context, key, value string) error {
	if key == g.key {
		close(g.entered)
		<-g.release
	}
	return g.KV.Set(ctx, key, value)
}

// zkFixture wires a zk login flow over in-memory storage
type zkFixture struct {
	backend *store.MemoryStore
	session ports.KV
	durable ports.KV
	epochs  *fakeEpochs
	decoder *fakeDecoder
	prover  *fakeProver
	flow    *ZkLoginFlow
}

var testProviders = map[string]OAuthProvider{
	"google": {Name: "google", AuthURL: "https://accounts.google.com/o/oauth2/v2/auth", ClientID: "client-123"},
}

func newZkFixture(t *testing.T) *zkFixture {
	t.Helper()
	backend := store.NewMemoryStore()
	fx := &zkFixture{
		backend: backend,
		session: store.NewScoped(backend, store.SessionPrefix("s1"), 0),
		durable: store.NewScoped(backend, store.DurablePrefix, 0),
		epochs:  &fakeEpochs{epoch: 100},
		decoder: newFakeDecoder(),
		prover:  &fakeProver{},
	}
	fx.flow = fx.newFlow(fx.session)
	return fx
}

func (fx *zkFixture) newFlow(session ports.KV) *ZkLoginFlow {
	return NewZkLoginFlow(
		ZkLoginConfig{Providers: testProviders, RedirectURL: "https://app.example/callback"},
		NewEphemeralKeyManager(fx.epochs, 0),
		session,
		fx.decoder,
		fx.prover,
		NewStoreSaltProvider(fx.durable),
	)
}

// login runs BeginLogin and returns a callback fragment carrying a token
// bound to the issued nonce.
func (fx *zkFixture) login(t *testing.T, flow *ZkLoginFlow, token, subject string) string {
	t.Helper()
	authURL, err := flow.BeginLogin(context.Background(), "google")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()

	fx.decoder.add(token, &core.IdentityClaims{
		Issuer:   "https://accounts.google.com",
		Subject:  subject,
		Audience: "client-123",
		Nonce:    q.Get("nonce"),
		Name:     "Ada",
		Email:    "ada@example.com",
	})
	return "#" + url.Values{"id_token": {token}, "state": {q.Get("state")}}.Encode()
}
