package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ChallengeClaims combines standard claims with challenge-specific ones
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// SessionClaims are just the standard claims for browser session tokens
type SessionClaims struct {
	jwt.RegisteredClaims
}

// IdentityClaims are the OpenID Connect claims read from a provider id_token
type IdentityClaims struct {
	jwt.RegisteredClaims
	Nonce   string `json:"nonce"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}
