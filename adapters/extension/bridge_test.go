package extension

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/walletgate/adapters/store"
	"github.com/layer-3/walletgate/adapters/tokenizer"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
	"github.com/layer-3/walletgate/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridges(t *testing.T) (*Bridges, *service.AuthService) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tk := tokenizer.NewJWTTokenizer(key)
	auth := service.NewAuthService(tk, store.NewMemoryStore(), time.Hour)
	configured := []core.ExtensionWalletDescriptor{{Name: "MetaMask", DownloadURL: "https://metamask.io"}}
	return NewBridges(configured, tk, auth), auth
}

func newTestBridge(t *testing.T) (*Bridge, *service.AuthService) {
	t.Helper()
	set, auth := newTestBridges(t)
	return set.For("s1"), auth
}

// signedProof signs a fresh challenge issued to sessionID with a new wallet key
func signedProof(t *testing.T, auth *service.AuthService, sessionID string) Proof {
	t.Helper()
	wallet, err := crypto.GenerateKey()
	require.NoError(t, err)

	token, nonce, err := auth.CreateChallenge(sessionID)
	require.NoError(t, err)

	sig, err := crypto.Sign(accounts.TextHash([]byte(nonce)), wallet)
	require.NoError(t, err)
	sig[64] += 27

	return Proof{
		Address:   crypto.PubkeyToAddress(wallet.PublicKey).Hex(),
		Challenge: token,
		Signature: hexutil.Encode(sig),
	}
}

func TestBridge_DetectKeepsProvidersAndDropsMissing(t *testing.T) {
	b, _ := newTestBridge(t)

	b.Detect([]Detected{{Name: "MetaMask"}, {Name: "Rabby"}, {Name: "metamask "}})
	require.Len(t, b.Detected(), 2)

	first, err := b.First()
	require.NoError(t, err)
	assert.Equal(t, "MetaMask", first.Name())

	rabby, err := b.Provider("rabby")
	require.NoError(t, err)
	rabby.connected = true

	b.Detect([]Detected{{Name: "MetaMask"}})
	require.Len(t, b.Detected(), 1)
	same, err := b.Provider("MetaMask")
	require.NoError(t, err)
	assert.Same(t, first, same)

	_, connected, err := rabby.Account(context.Background())
	require.NoError(t, err)
	assert.False(t, connected)
	select {
	case ev := <-rabby.Events():
		assert.Equal(t, ports.WalletEventDisconnected, ev.Type)
	default:
		t.Fatal("removed provider did not report disconnection")
	}

	_, err = b.Provider("Rabby")
	assert.ErrorIs(t, err, core.ErrNoWalletInstalled)
}

func TestProvider_ConnectVerifiesProof(t *testing.T) {
	b, auth := newTestBridge(t)
	b.Detect([]Detected{{Name: "MetaMask"}})
	p, err := b.Provider("MetaMask")
	require.NoError(t, err)

	proof := signedProof(t, auth, "s1")
	p.Offer(proof)

	account, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, proof.Address, account.Address)

	got, connected, err := p.Account(context.Background())
	require.NoError(t, err)
	assert.True(t, connected)
	assert.Equal(t, account, got)
}

func TestProvider_ConnectRejectsForgedProof(t *testing.T) {
	b, auth := newTestBridge(t)
	b.Detect([]Detected{{Name: "MetaMask"}})
	p, err := b.Provider("MetaMask")
	require.NoError(t, err)

	proof := signedProof(t, auth, "s1")
	other := signedProof(t, auth, "s1")
	proof.Address = other.Address
	p.Offer(proof)

	_, err = p.Connect(context.Background())
	assert.ErrorIs(t, err, core.ErrProviderRejected)

	_, connected, err := p.Account(context.Background())
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestProvider_ConnectWaitsForProof(t *testing.T) {
	b, _ := newTestBridge(t)
	b.Detect([]Detected{{Name: "MetaMask"}})
	p, err := b.Provider("MetaMask")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvider_AccountChangedWithoutProofDisconnects(t *testing.T) {
	b, auth := newTestBridge(t)
	b.Detect([]Detected{{Name: "MetaMask"}})
	p, err := b.Provider("MetaMask")
	require.NoError(t, err)

	proof := signedProof(t, auth, "s1")
	p.Offer(proof)
	_, err = p.Connect(context.Background())
	require.NoError(t, err)

	p.Notify(ports.WalletEvent{Type: ports.WalletEventAccountChanged, Address: proof.Address})
	_, connected, _ := p.Account(context.Background())
	assert.True(t, connected, "same account keeps the connection")

	p.Notify(ports.WalletEvent{Type: ports.WalletEventAccountChanged, Address: "0x0000000000000000000000000000000000000001"})
	_, connected, _ = p.Account(context.Background())
	assert.False(t, connected)
}

func TestProvider_ConnectRejectsReplayedProof(t *testing.T) {
	set, auth := newTestBridges(t)
	ctx := context.Background()

	alice := set.For("alice")
	alice.Detect([]Detected{{Name: "MetaMask"}})
	p, err := alice.Provider("MetaMask")
	require.NoError(t, err)

	proof := signedProof(t, auth, "alice")
	p.Offer(proof)
	_, err = p.Connect(ctx)
	require.NoError(t, err)

	// The same proof again in the same session
	p.Offer(proof)
	_, err = p.Connect(ctx)
	assert.ErrorIs(t, err, core.ErrProviderRejected)

	// And in another session
	mallory := set.For("mallory")
	mallory.Detect([]Detected{{Name: "MetaMask"}})
	other, err := mallory.Provider("MetaMask")
	require.NoError(t, err)
	other.Offer(proof)
	_, err = other.Connect(ctx)
	assert.ErrorIs(t, err, core.ErrProviderRejected)

	_, connected, err := other.Account(ctx)
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestProvider_ConnectRejectsChallengeOfAnotherSession(t *testing.T) {
	set, auth := newTestBridges(t)
	ctx := context.Background()

	b := set.For("mallory")
	b.Detect([]Detected{{Name: "MetaMask"}})
	p, err := b.Provider("MetaMask")
	require.NoError(t, err)

	// Unspent, validly signed, but issued to alice
	p.Offer(signedProof(t, auth, "alice"))
	_, err = p.Connect(ctx)
	assert.ErrorIs(t, err, core.ErrProviderRejected)
}

func TestBridges_PerSession(t *testing.T) {
	set, _ := newTestBridges(t)

	one := set.For("one")
	assert.Same(t, one, set.For("one"))
	assert.NotSame(t, one, set.For("two"))

	set.Remove("one")
	assert.NotSame(t, one, set.For("one"))
}
