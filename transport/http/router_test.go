package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletgate/adapters/extension"
	"github.com/layer-3/walletgate/adapters/store"
	"github.com/layer-3/walletgate/adapters/tokenizer"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
	"github.com/layer-3/walletgate/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type staticEpochs struct{}

func (staticEpochs) CurrentEpoch(ctx context.Context) (uint64, error) { return 7, nil }

type staticProver struct{}

func (staticProver) Prove(ctx context.Context, req ports.ProofRequest) (json.RawMessage, error) {
	return json.RawMessage(`{"proofPoints":{}}`), nil
}

// nonceDecoder accepts any token and echoes the nonce it was primed with
type nonceDecoder struct {
	nonce string
}

func (d *nonceDecoder) Decode(raw string) (*core.IdentityClaims, error) {
	if raw != "good-token" {
		return nil, core.ErrDecode
	}
	return &core.IdentityClaims{
		Issuer:   "https://accounts.google.com",
		Subject:  "user-1",
		Audience: "client-123",
		Nonce:    d.nonce,
		Name:     "Ada",
	}, nil
}

type testServer struct {
	router  *gin.Engine
	decoder *nonceDecoder
	manager *service.Manager
	evicted atomic.Int64
}

func newTestServer(t *testing.T, opts ...func(*service.ManagerConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tk := tokenizer.NewJWTTokenizer(key)
	backend := store.NewMemoryStore()

	authService := service.NewAuthService(tk, backend, time.Hour)
	bridges := extension.NewBridges([]core.ExtensionWalletDescriptor{{Name: "MetaMask"}}, tk, authService)
	decoder := &nonceDecoder{}
	ts := &testServer{decoder: decoder}

	cfg := service.ManagerConfig{
		ZkLogin: service.ZkLoginConfig{
			Providers: map[string]service.OAuthProvider{
				"google": {Name: "google", AuthURL: "https://accounts.google.com/o/oauth2/v2/auth", ClientID: "client-123"},
			},
			RedirectURL: "https://app.example/callback",
		},
		Keys:    service.NewEphemeralKeyManager(staticEpochs{}, 0),
		Decoder: decoder,
		Prover:  staticProver{},
		Salts:   service.NewStoreSaltProvider(store.NewScoped(backend, store.DurablePrefix, 0)),
		Clock:   clock.NewMock(),
		Unlock:  service.UnlockConfig{SessionDuration: time.Minute, WarningTime: 10 * time.Second},
		Sessions: func(id string) ports.KV {
			return store.NewScoped(backend, store.SessionPrefix(id), time.Hour)
		},
		Devices: func(id string) ports.KV {
			return store.NewScoped(backend, store.DevicePrefix(id), 0)
		},
		Wallets: bridges.Registry,
		OnEvict: func(sessionID string) {
			bridges.Remove(sessionID)
			ts.evicted.Add(1)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ts.manager = service.NewManager(cfg)
	t.Cleanup(ts.manager.Close)

	ts.router = SetupRouter(authService, ts.manager, bridges, RouterOptions{RateLimit: rate.Inf, Burst: 1})
	return ts
}

// browser keeps cookies between requests
type browser struct {
	t       *testing.T
	server  *testServer
	cookies map[string]*http.Cookie
}

func (s *testServer) browser(t *testing.T) *browser {
	return &browser{t: t, server: s, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	b.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(b.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	b.server.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRouter_IssuesSessionAndDeviceCookies(t *testing.T) {
	s := newTestServer(t)
	b := s.browser(t)

	rec := b.do(http.MethodGet, "/wallet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", decode(t, rec)["kind"])
	assert.Contains(t, b.cookies, SessionCookie)
	assert.Contains(t, b.cookies, DeviceCookie)
	assert.Zero(t, b.cookies[SessionCookie].MaxAge)
	assert.Positive(t, b.cookies[DeviceCookie].MaxAge)

	session := b.cookies[SessionCookie].Value
	b.do(http.MethodGet, "/wallet", nil)
	assert.Equal(t, session, b.cookies[SessionCookie].Value)
}

func TestRouter_ZkLogin(t *testing.T) {
	s := newTestServer(t)
	b := s.browser(t)

	rec := b.do(http.MethodGet, "/auth/zklogin/myspace", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = b.do(http.MethodGet, "/auth/zklogin/google", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "zklogin_google", location.Query().Get("state"))

	// Tampered token is rejected
	s.decoder.nonce = "forged"
	rec = b.do(http.MethodPost, "/auth/zklogin/callback", gin.H{"fragment": "#id_token=good-token&state=zklogin_google"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, true, decode(t, rec)["clear_fragment"])

	// Material was kept, so a genuine callback still succeeds
	s.decoder.nonce = location.Query().Get("nonce")
	rec = b.do(http.MethodPost, "/auth/zklogin/callback", gin.H{"fragment": "#id_token=good-token&state=zklogin_google"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["clear_fragment"])
	assert.Equal(t, "authenticated", body["state"])

	rec = b.do(http.MethodGet, "/wallet", nil)
	body = decode(t, rec)
	assert.Equal(t, "zk", body["kind"])
	wallet := body["wallet"].(map[string]interface{})
	assert.Equal(t, "zk-identity", wallet["type"])
	assert.Equal(t, "Ada", wallet["name"])

	rec = b.do(http.MethodPost, "/wallet/copy", nil)
	assert.Equal(t, wallet["address"], decode(t, rec)["text"])

	rec = b.do(http.MethodPost, "/wallet/disconnect", nil)
	assert.Equal(t, "none", decode(t, rec)["kind"])
}

func TestRouter_ExtensionWallet(t *testing.T) {
	s := newTestServer(t)
	b := s.browser(t)

	rec := b.do(http.MethodPost, "/wallets/extension/connect", gin.H{"address": "0x1", "challenge": "c", "signature": "s"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = b.do(http.MethodPost, "/wallets/extension/detected", gin.H{"wallets": []gin.H{{"name": "MetaMask"}, {"name": "Rabby"}}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["wallets"], 2)

	rec = b.do(http.MethodGet, "/wallets/extension/challenge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	challenge := decode(t, rec)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(challenge["nonce"].(string))), key)
	require.NoError(t, err)
	sig[64] += 27
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	rec = b.do(http.MethodPost, "/wallets/extension/connect", gin.H{
		"name":      "MetaMask",
		"address":   address,
		"challenge": challenge["challenge"],
		"signature": hexutil.Encode(sig),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "extension", body["kind"])
	assert.Equal(t, address, body["wallet"].(map[string]interface{})["address"])

	rec = b.do(http.MethodPost, "/wallets/extension/events", gin.H{
		"name":    "MetaMask",
		"type":    "accountChanged",
		"address": "0x0000000000000000000000000000000000000001",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", decode(t, rec)["kind"])
}

func TestRouter_ExtensionRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	b := s.browser(t)

	b.do(http.MethodPost, "/wallets/extension/detected", gin.H{"wallets": []gin.H{{"name": "MetaMask"}}})
	challenge := decode(t, b.do(http.MethodGet, "/wallets/extension/challenge", nil))

	rec := b.do(http.MethodPost, "/wallets/extension/connect", gin.H{
		"address":   "0x0000000000000000000000000000000000000001",
		"challenge": challenge["challenge"],
		"signature": "0x" + string(bytes.Repeat([]byte("ab"), 65)),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = b.do(http.MethodGet, "/wallet", nil)
	assert.Equal(t, "none", decode(t, rec)["kind"])
}

// connectProof signs the challenge issued to b's session with a fresh wallet key
func connectProof(t *testing.T, b *browser) gin.H {
	t.Helper()
	rec := b.do(http.MethodGet, "/wallets/extension/challenge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	challenge := decode(t, rec)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(challenge["nonce"].(string))), key)
	require.NoError(t, err)
	sig[64] += 27

	return gin.H{
		"name":      "MetaMask",
		"address":   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		"challenge": challenge["challenge"],
		"signature": hexutil.Encode(sig),
	}
}

func TestRouter_ExtensionRejectsReplayedProof(t *testing.T) {
	s := newTestServer(t)
	alice := s.browser(t)
	mallory := s.browser(t)

	alice.do(http.MethodPost, "/wallets/extension/detected", gin.H{"wallets": []gin.H{{"name": "MetaMask"}}})
	mallory.do(http.MethodPost, "/wallets/extension/detected", gin.H{"wallets": []gin.H{{"name": "MetaMask"}}})

	proof := connectProof(t, alice)
	rec := alice.do(http.MethodPost, "/wallets/extension/connect", proof)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = mallory.do(http.MethodPost, "/wallets/extension/connect", proof)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = mallory.do(http.MethodGet, "/wallet", nil)
	assert.Equal(t, "none", decode(t, rec)["kind"])

	rec = alice.do(http.MethodPost, "/wallets/extension/connect", proof)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_ExtensionRejectsChallengeOfAnotherSession(t *testing.T) {
	s := newTestServer(t)
	alice := s.browser(t)
	mallory := s.browser(t)

	mallory.do(http.MethodPost, "/wallets/extension/detected", gin.H{"wallets": []gin.H{{"name": "MetaMask"}}})

	// Signed for alice's challenge but never submitted by her
	proof := connectProof(t, alice)
	rec := mallory.do(http.MethodPost, "/wallets/extension/connect", proof)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_CookielessRequestsAreBounded(t *testing.T) {
	s := newTestServer(t, func(cfg *service.ManagerConfig) { cfg.MaxSessions = 5 })

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wallet", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 5, s.manager.Len())
	assert.Equal(t, int64(45), s.evicted.Load())
}

func TestRouter_Unlock(t *testing.T) {
	s := newTestServer(t)
	b := s.browser(t)

	rec := b.do(http.MethodPost, "/unlock/extend", nil)
	assert.Equal(t, false, decode(t, rec)["is_unlocked"])

	rec = b.do(http.MethodPost, "/unlock", nil)
	body := decode(t, rec)
	assert.Equal(t, true, body["is_unlocked"])
	assert.Equal(t, float64(60), body["remaining_seconds"])
	assert.NotNil(t, body["started_at"])

	rec = b.do(http.MethodGet, "/unlock", nil)
	assert.Equal(t, true, decode(t, rec)["is_unlocked"])

	rec = b.do(http.MethodPost, "/lock", nil)
	body = decode(t, rec)
	assert.Equal(t, false, body["is_unlocked"])
	assert.Nil(t, body["started_at"])
}

func TestRouter_EndSession(t *testing.T) {
	s := newTestServer(t)
	b := s.browser(t)

	b.do(http.MethodPost, "/unlock", nil)
	old := b.cookies[SessionCookie]

	rec := b.do(http.MethodPost, "/session/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, b.cookies, SessionCookie)

	// Replaying the ended session cookie yields a fresh session
	b.cookies[SessionCookie] = old
	rec = b.do(http.MethodGet, "/unlock", nil)
	assert.Equal(t, false, decode(t, rec)["is_unlocked"])
	assert.NotEqual(t, old.Value, b.cookies[SessionCookie].Value)
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", RateLimitMiddleware(rate.Every(time.Hour), 1), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(core.ErrEpochFetch))
	assert.Equal(t, http.StatusBadGateway, statusFor(core.ErrProver))
	assert.Equal(t, http.StatusNotFound, statusFor(core.ErrNoWalletInstalled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
