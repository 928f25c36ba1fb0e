package ports

import (
	"context"

	"github.com/layer-3/walletgate/core"
)

// Tokenizer converts between domain objects and tokens
type Tokenizer interface {
	// Challenge token operations
	ChallengeToToken(challenge *core.Challenge) (string, error)
	TokenToChallenge(token string) (*core.Challenge, error)

	// Browser session token operations
	SessionToToken(session *core.Session) (string, error)
	TokenToSession(token string) (*core.Session, error)

	// Verification helpers
	VerifySignature(challenge *core.Challenge, signature string, address string) error
}

// IdentityTokenDecoder decodes an identity provider token without trusting it
type IdentityTokenDecoder interface {
	Decode(token string) (*core.IdentityClaims, error)
}

// ChallengeConsumer redeems an extension challenge once, for the browser
// session it was issued to
type ChallengeConsumer interface {
	ConsumeChallenge(ctx context.Context, sessionID, token string) (*core.Challenge, error)
}
