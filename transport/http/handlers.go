package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletgate/adapters/extension"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
	"github.com/layer-3/walletgate/service"
	"github.com/rs/zerolog/log"
)

// Handlers contains HTTP handlers for wallet endpoints
type Handlers struct {
	authService *service.AuthService
	manager     *service.Manager
	bridges     *extension.Bridges
}

// NewHandlers creates new wallet handlers
func NewHandlers(authService *service.AuthService, manager *service.Manager, bridges *extension.Bridges) *Handlers {
	return &Handlers{
		authService: authService,
		manager:     manager,
		bridges:     bridges,
	}
}

// walletView is the wallet state returned to the browser
type walletView struct {
	Wallet       *core.WalletConnection `json:"wallet"`
	Kind         core.ActiveKind        `json:"kind"`
	IsConnecting bool                   `json:"is_connecting"`
	Error        string                 `json:"error,omitempty"`
}

func viewOf(s *service.WalletSession) walletView {
	active := s.Active()
	return walletView{
		Wallet:       active.Wallet,
		Kind:         active.Kind,
		IsConnecting: s.IsConnecting(),
		Error:        core.UserMessage(s.Err()),
	}
}

// BeginZkLogin prepares ephemeral material and redirects to the identity provider
func (h *Handlers) BeginZkLogin(c *gin.Context) {
	b := bundleFrom(c)

	authURL, err := b.Wallet.ZkLogin().BeginLogin(c.Request.Context(), c.Param("provider"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

// ZkCallback processes the fragment the identity provider redirected back with.
// Without a token in the fragment it restores a previous identity instead.
func (h *Handlers) ZkCallback(c *gin.Context) {
	var req struct {
		Fragment string `json:"fragment"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	b := bundleFrom(c)
	clearFragment, err := b.Wallet.ZkLogin().Mount(c.Request.Context(), req.Fragment)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":          core.UserMessage(err),
			"clear_fragment": clearFragment,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":         viewOf(b.Wallet),
		"state":          b.Wallet.ZkLogin().State(),
		"clear_fragment": clearFragment,
	})
}

// Wallet returns the resolved wallet of the session
func (h *Handlers) Wallet(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(bundleFrom(c).Wallet))
}

// Disconnect tears down the active wallet
func (h *Handlers) Disconnect(c *gin.Context) {
	b := bundleFrom(c)

	if err := b.Wallet.Disconnect(c.Request.Context()); err != nil {
		log.Warn().Err(err).Str("session", b.SessionID).Msg("wallet disconnect incomplete")
	}

	c.JSON(http.StatusOK, viewOf(b.Wallet))
}

// responseClipboard captures copied text for the response body
type responseClipboard struct {
	text string
}

func (r *responseClipboard) WriteText(ctx context.Context, text string) error {
	r.text = text
	return nil
}

var _ ports.Clipboard = (*responseClipboard)(nil)

// CopyAddress returns the wallet address for the browser to place on its clipboard
func (h *Handlers) CopyAddress(c *gin.Context) {
	clipboard := &responseClipboard{}

	if err := bundleFrom(c).Wallet.CopyAddress(c.Request.Context(), clipboard); err != nil {
		respondError(c, err)
		return
	}
	if clipboard.text == "" {
		c.JSON(http.StatusOK, gin.H{"copied": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"copied": true, "text": clipboard.text})
}

// ExtensionWallets lists configured and detected wallet extensions
func (h *Handlers) ExtensionWallets(c *gin.Context) {
	flow := bundleFrom(c).Wallet.Extension()

	c.JSON(http.StatusOK, gin.H{
		"wallets": flow.ListAvailable(),
		"wallet":  flow.Wallet(),
	})
}

// DetectedWallets records the wallet extensions the browser found
func (h *Handlers) DetectedWallets(c *gin.Context) {
	var req struct {
		Wallets []extension.Detected `json:"wallets" binding:"dive"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	b := bundleFrom(c)
	h.bridges.For(b.SessionID).Detect(req.Wallets)

	// A mirrored connection may be restorable now that its provider is known
	flow := b.Wallet.Extension()
	flow.Restore(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"wallets": flow.ListAvailable(),
		"wallet":  flow.Wallet(),
	})
}

// ExtensionChallenge issues a nonce for the wallet to sign
func (h *Handlers) ExtensionChallenge(c *gin.Context) {
	token, nonce, err := h.authService.CreateChallenge(sessionFrom(c).ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": token, "nonce": nonce})
}

// ConnectExtension connects a wallet extension with a signed challenge
func (h *Handlers) ConnectExtension(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		extension.Proof
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	b := bundleFrom(c)
	bridge := h.bridges.For(b.SessionID)

	var (
		provider *extension.Provider
		err      error
	)
	if req.Name == "" {
		provider, err = bridge.First()
	} else {
		provider, err = bridge.Provider(req.Name)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	provider.Offer(req.Proof)

	if _, err := b.Wallet.Extension().Connect(c.Request.Context(), provider.Name()); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, viewOf(b.Wallet))
}

// ExtensionEvent applies a provider event reported by the browser
func (h *Handlers) ExtensionEvent(c *gin.Context) {
	var req struct {
		Name    string                `json:"name" binding:"required"`
		Type    ports.WalletEventType `json:"type" binding:"required,oneof=disconnected accountChanged"`
		Address string                `json:"address"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	b := bundleFrom(c)
	provider, err := h.bridges.For(b.SessionID).Provider(req.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	provider.Notify(ports.WalletEvent{Type: req.Type, Address: req.Address})

	if err := b.Wallet.Extension().Reconcile(c.Request.Context()); err != nil {
		log.Warn().Err(err).Str("session", b.SessionID).Msg("extension wallet reconciliation failed")
	}

	c.JSON(http.StatusOK, viewOf(b.Wallet))
}

// UnlockState returns the unlock session snapshot
func (h *Handlers) UnlockState(c *gin.Context) {
	c.JSON(http.StatusOK, bundleFrom(c).Unlock.State())
}

// Unlock starts or restarts the unlock window
func (h *Handlers) Unlock(c *gin.Context) {
	u := bundleFrom(c).Unlock
	u.Unlock()
	c.JSON(http.StatusOK, u.State())
}

// ExtendUnlock restarts the unlock window if unlocked
func (h *Handlers) ExtendUnlock(c *gin.Context) {
	u := bundleFrom(c).Unlock
	u.ExtendSession()
	c.JSON(http.StatusOK, u.State())
}

// Lock ends the unlock window
func (h *Handlers) Lock(c *gin.Context) {
	u := bundleFrom(c).Unlock
	u.Lock()
	c.JSON(http.StatusOK, u.State())
}

// EndSession ends the browser session: flows stop, the extension bridge is
// released and session-scoped state is deleted
func (h *Handlers) EndSession(c *gin.Context) {
	ctx := c.Request.Context()
	session := sessionFrom(c)

	if err := h.manager.End(ctx, session.ID); err != nil {
		log.Warn().Err(err).Str("session", session.ID).Msg("failed to clear session state")
	}

	if err := h.authService.EndSession(ctx, session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
		return
	}

	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Session ended"})
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": core.UserMessage(err)})
}

// statusFor maps the error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownProvider), errors.Is(err, core.ErrNoWalletInstalled):
		return http.StatusNotFound
	case errors.Is(err, core.ErrMissingEphemeralState), errors.Is(err, core.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrProviderRejected):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrProver):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrEpochFetch):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
