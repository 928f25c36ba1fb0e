package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

// AuthService issues browser session tokens and extension wallet challenges
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.Store

	challengeTTL time.Duration
	sessionTTL   time.Duration
	deviceTTL    time.Duration
}

// NewAuthService creates a new authentication service
func NewAuthService(tokenizer ports.Tokenizer, store ports.Store, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		tokenizer:    tokenizer,
		store:        store,
		challengeTTL: 5 * time.Minute,
		sessionTTL:   sessionTTL,
		deviceTTL:    365 * 24 * time.Hour,
	}
}

// DeviceTTL is the lifetime of a device token
func (s *AuthService) DeviceTTL() time.Duration {
	return s.deviceTTL
}

var _ ports.ChallengeConsumer = (*AuthService)(nil)

// CreateChallenge generates a new extension wallet challenge bound to a browser session
func (s *AuthService) CreateChallenge(sessionID string) (token string, nonce string, err error) {
	// Generate random nonce
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Nonce:     hex.EncodeToString(nonceBytes),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	token, err = s.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return "", "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, challenge.Nonce, nil
}

// ConsumeChallenge parses a challenge token and redeems it. A challenge issued
// to another session, or one already redeemed, is rejected.
func (s *AuthService) ConsumeChallenge(ctx context.Context, sessionID, token string) (*core.Challenge, error) {
	challenge, err := s.tokenizer.TokenToChallenge(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidChallenge, err)
	}

	if challenge.SessionID == "" || challenge.SessionID != sessionID {
		return nil, fmt.Errorf("challenge was issued to another session: %w", core.ErrInvalidChallenge)
	}

	// Keep the record until the token itself can no longer be replayed
	remainingTime := time.Until(challenge.ExpiresAt) + time.Second
	if remainingTime < time.Second {
		remainingTime = time.Second
	}

	fresh, err := s.store.ConsumeToken(ctx, challenge.ID, remainingTime)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem challenge: %w", err)
	}
	if !fresh {
		return nil, fmt.Errorf("challenge already used: %w", core.ErrInvalidChallenge)
	}

	return challenge, nil
}

// StartSession issues a new browser session token
func (s *AuthService) StartSession() (string, *core.Session, error) {
	return s.issue(s.sessionTTL)
}

// StartDevice issues a new long-lived device token
func (s *AuthService) StartDevice() (string, *core.Session, error) {
	return s.issue(s.deviceTTL)
}

func (s *AuthService) issue(ttl time.Duration) (string, *core.Session, error) {
	now := time.Now()
	session := &core.Session{
		ID:        uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	token, err := s.tokenizer.SessionToToken(session)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session token: %w", err)
	}

	return token, session, nil
}

// ValidateSession parses a session token and checks that it has not been ended
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*core.Session, error) {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}

	invalidated, err := s.store.IsTokenInvalidated(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token invalidation: %w", err)
	}

	if invalidated {
		return nil, core.ErrTokenInvalidated
	}

	return session, nil
}

// EndSession invalidates a browser session token for the rest of its lifetime
func (s *AuthService) EndSession(ctx context.Context, session *core.Session) error {
	remainingTime := time.Until(session.ExpiresAt)
	if remainingTime <= 0 {
		// Keep the record briefly so clock skew cannot revive it
		remainingTime = time.Hour
	}

	if err := s.store.InvalidateToken(ctx, session.ID, remainingTime); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	return nil
}
