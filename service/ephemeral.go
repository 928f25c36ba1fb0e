package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

// DefaultEpochMargin is how many epochs past the current one an ephemeral key stays valid
const DefaultEpochMargin = 2

// EphemeralKeyManager produces one-time signing material bound to a future epoch
type EphemeralKeyManager struct {
	epochs ports.EpochReader
	margin uint64
	random io.Reader
}

// NewEphemeralKeyManager creates a key manager; margin 0 selects DefaultEpochMargin
func NewEphemeralKeyManager(epochs ports.EpochReader, margin uint64) *EphemeralKeyManager {
	if margin == 0 {
		margin = DefaultEpochMargin
	}
	return &EphemeralKeyManager{
		epochs: epochs,
		margin: margin,
		random: rand.Reader,
	}
}

// Generate reads the current epoch and creates fresh login material.
// It fails with core.ErrEpochFetch when the epoch cannot be read.
func (m *EphemeralKeyManager) Generate(ctx context.Context) (*core.EphemeralLoginMaterial, error) {
	epoch, err := m.epochs.CurrentEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEpochFetch, err)
	}
	return m.GenerateAt(epoch)
}

// GenerateAt creates fresh login material for a known current epoch
func (m *EphemeralKeyManager) GenerateAt(currentEpoch uint64) (*core.EphemeralLoginMaterial, error) {
	pub, priv, err := ed25519.GenerateKey(m.random)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	randomness := make([]byte, core.RandomnessSize)
	if _, err := io.ReadFull(m.random, randomness); err != nil {
		return nil, fmt.Errorf("failed to generate randomness: %w", err)
	}

	return &core.EphemeralLoginMaterial{
		PrivateKey:                 priv.Seed(),
		MaxEpoch:                   currentEpoch + m.margin,
		Randomness:                 core.RandomDecimal(randomness),
		ExtendedEphemeralPublicKey: core.ExtendedPublicKey(pub),
	}, nil
}
