package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
	"golang.org/x/crypto/blake2b"
)

// StoreSaltProvider draws a random salt the first time an identity logs in
// and reuses it afterwards, so a returning user keeps the same address.
type StoreSaltProvider struct {
	store ports.KV
}

// NewStoreSaltProvider creates a salt provider backed by durable storage
func NewStoreSaltProvider(store ports.KV) *StoreSaltProvider {
	return &StoreSaltProvider{store: store}
}

var _ ports.SaltProvider = (*StoreSaltProvider)(nil)

// Salt returns the salt of (issuer, subject), creating it if needed
func (p *StoreSaltProvider) Salt(ctx context.Context, issuer, subject string) (string, error) {
	key := saltKey(issuer, subject)

	salt, err := p.store.Get(ctx, key)
	switch {
	case err == nil:
		return salt, nil
	case !errors.Is(err, core.ErrNotFound):
		return "", fmt.Errorf("failed to read user salt: %w", err)
	}

	raw := make([]byte, core.SaltSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate user salt: %w", err)
	}
	salt = core.RandomDecimal(raw)

	if err := p.store.Set(ctx, key, salt); err != nil {
		return "", fmt.Errorf("failed to persist user salt: %w", err)
	}
	return salt, nil
}

func saltKey(issuer, subject string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(issuer))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	return "user_salt:" + hex.EncodeToString(h.Sum(nil))
}
