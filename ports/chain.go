package ports

import (
	"context"
	"encoding/json"
)

// EpochReader reads the current network epoch
type EpochReader interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
}

// ProofRequest is the input of the zero-knowledge proving service
type ProofRequest struct {
	JWT                        string `json:"jwt"`
	ExtendedEphemeralPublicKey string `json:"extendedEphemeralPublicKey"`
	MaxEpoch                   string `json:"maxEpoch"`
	JWTRandomness              string `json:"jwtRandomness"`
	Salt                       string `json:"salt"`
	KeyClaimName               string `json:"keyClaimName"`
}

// Prover requests a proof binding an ephemeral key to an identity token
type Prover interface {
	Prove(ctx context.Context, req ProofRequest) (json.RawMessage, error)
}

// SaltProvider returns the user salt for an (issuer, subject) pair
type SaltProvider interface {
	Salt(ctx context.Context, issuer, subject string) (string, error)
}
