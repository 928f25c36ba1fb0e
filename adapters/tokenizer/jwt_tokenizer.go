package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

const AudienceChallenge = "walletgate:challenge"
const AudienceSession = "walletgate:session"

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// ChallengeToToken converts a Challenge to a JWT token
func (j *JWTTokenizer) ChallengeToToken(challenge *core.Challenge) (string, error) {
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        challenge.ID,
			Subject:   challenge.SessionID,
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(challenge.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce: challenge.Nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToChallenge converts a JWT token to a Challenge
func (j *JWTTokenizer) TokenToChallenge(tokenStr string) (*core.Challenge, error) {
	claims := &ChallengeClaims{}
	if err := j.parse(tokenStr, claims, AudienceChallenge); err != nil {
		return nil, err
	}

	if claims.Nonce == "" {
		return nil, core.ErrInvalidChallenge
	}

	return &core.Challenge{
		ID:        claims.ID,
		SessionID: claims.Subject,
		Nonce:     claims.Nonce,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SessionToToken converts a browser Session to a JWT token
func (j *JWTTokenizer) SessionToToken(session *core.Session) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceSession},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signedToken, nil
}

// TokenToSession parses a browser session token
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.Session, error) {
	claims := &SessionClaims{}
	if err := j.parse(tokenStr, claims, AudienceSession); err != nil {
		return nil, err
	}

	if claims.ID == "" {
		return nil, core.ErrInvalidToken
	}

	return &core.Session{
		ID:        claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(audience), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return core.ErrTokenExpired
		}
		return fmt.Errorf("failed to parse token: %v: %w", err, core.ErrInvalidToken)
	}

	if !token.Valid {
		return core.ErrInvalidToken
	}

	return nil
}

// VerifySignature verifies an EIP-191 personal_sign signature over the challenge nonce
func (j *JWTTokenizer) VerifySignature(challenge *core.Challenge, signatureStr string, addressStr string) error {
	if !common.IsHexAddress(addressStr) {
		return fmt.Errorf("malformed address: %w", core.ErrInvalidSignature)
	}
	decodedSig, err := hexutil.Decode(signatureStr)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(decodedSig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be 65 bytes: %w", core.ErrInvalidSignature)
	}

	sig := make([]byte, len(decodedSig))
	copy(sig, decodedSig)
	// Wallets produce V in {27, 28}; recovery expects {0, 1}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(challenge.Nonce)), sig)
	if err != nil {
		return fmt.Errorf("failed to recover public key: %w", core.ErrInvalidSignature)
	}

	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(addressStr) {
		return core.ErrInvalidSignature
	}

	return nil
}
