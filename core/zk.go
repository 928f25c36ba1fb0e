package core

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

const (
	// ed25519 signature scheme flag prepended to public keys
	ed25519Flag byte = 0x00
	// zkLogin signature scheme flag used in address derivation
	zkLoginFlag byte = 0x05

	// SaltSize is the size in bytes of a user salt
	SaltSize = 16
	// RandomnessSize is the size in bytes of nonce randomness
	RandomnessSize = 16
	nonceSize      = 20
)

// ExtendedPublicKey encodes flag || public key as a decimal big integer
func ExtendedPublicKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, ed25519Flag)
	buf = append(buf, pub...)
	return new(big.Int).SetBytes(buf).String()
}

// ComputeNonce binds the ephemeral public key, max epoch and randomness into
// the OAuth nonce.
func ComputeNonce(m *EphemeralLoginMaterial) (string, error) {
	ext, ok := new(big.Int).SetString(m.ExtendedEphemeralPublicKey, 10)
	if !ok {
		return "", fmt.Errorf("extended public key is not a decimal integer: %w", ErrMissingEphemeralState)
	}
	randomness, err := decimalBytes(m.Randomness, RandomnessSize)
	if err != nil {
		return "", fmt.Errorf("randomness: %v: %w", err, ErrMissingEphemeralState)
	}

	// Leading flag byte is zero; pin the width so it survives the big-int round trip.
	extBytes := make([]byte, 1+ed25519.PublicKeySize)
	if len(ext.Bytes()) > len(extBytes) {
		return "", fmt.Errorf("extended public key too long: %w", ErrMissingEphemeralState)
	}
	ext.FillBytes(extBytes)

	var epoch [8]byte
	binary.BigEndian.PutUint64(epoch[:], m.MaxEpoch)

	h, _ := blake2b.New256(nil)
	h.Write(extBytes)
	h.Write(epoch[:])
	h.Write(randomness)

	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)[:nonceSize]), nil
}

// MaterialConsistent reports whether all four fields are present and were
// produced together.
func MaterialConsistent(m *EphemeralLoginMaterial) bool {
	if m == nil || len(m.PrivateKey) != ed25519.SeedSize || m.MaxEpoch == 0 || m.Randomness == "" {
		return false
	}
	pub := ed25519.NewKeyFromSeed(m.PrivateKey).Public().(ed25519.PublicKey)
	if ExtendedPublicKey(pub) != m.ExtendedEphemeralPublicKey {
		return false
	}
	_, err := decimalBytes(m.Randomness, RandomnessSize)
	return err == nil
}

// DeriveAddress computes the chain address of an identity from its
// (issuer, subject, audience) claims and the user salt. Same inputs, same address.
func DeriveAddress(claims *IdentityClaims, userSalt string) (string, error) {
	if claims == nil || claims.Issuer == "" || claims.Subject == "" {
		return "", fmt.Errorf("identity claims lack iss or sub: %w", ErrDecode)
	}
	salt, err := decimalBytes(userSalt, SaltSize)
	if err != nil {
		return "", fmt.Errorf("user salt: %w", err)
	}

	seed, _ := blake2b.New256(nil)
	writeLenPrefixed(seed, []byte("sub"))
	writeLenPrefixed(seed, []byte(claims.Subject))
	writeLenPrefixed(seed, []byte(claims.Audience))
	seed.Write(salt)

	h, _ := blake2b.New256(nil)
	h.Write([]byte{zkLoginFlag})
	writeLenPrefixed(h, []byte(claims.Issuer))
	h.Write(seed.Sum(nil))

	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// IsAddress reports whether s looks like a derived address
func IsAddress(s string) bool {
	if len(s) != 2+2*blake2b.Size256 || s[:2] != "0x" {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeLenPrefixed(w byteWriter, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	w.Write(l[:])
	w.Write(b)
}

// decimalBytes parses a non-negative decimal integer into a fixed-width big-endian buffer
func decimalBytes(s string, size int) ([]byte, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%q is not a non-negative decimal integer", s)
	}
	if n.BitLen() > size*8 {
		return nil, fmt.Errorf("value exceeds %d bytes", size)
	}
	buf := make([]byte, size)
	n.FillBytes(buf)
	return buf, nil
}

// RandomDecimal renders b as a decimal big integer
func RandomDecimal(b []byte) string {
	return new(big.Int).SetBytes(b).String()
}
