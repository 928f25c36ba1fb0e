package tokenizer

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/ports"
)

// IDTokenDecoder reads identity-provider tokens without verifying them.
// The proving service checks the provider signature; the login flow checks the nonce.
type IDTokenDecoder struct {
	parser *jwt.Parser
}

// NewIDTokenDecoder creates a new identity token decoder
func NewIDTokenDecoder() ports.IdentityTokenDecoder {
	return &IDTokenDecoder{parser: jwt.NewParser()}
}

// Decode extracts identity claims; any missing binding claim is a decode error
func (d *IDTokenDecoder) Decode(raw string) (*core.IdentityClaims, error) {
	claims := &IdentityClaims{}
	if _, _, err := d.parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("failed to parse identity token: %v: %w", err, core.ErrDecode)
	}

	if claims.Issuer == "" || claims.Subject == "" || claims.Nonce == "" || len(claims.Audience) == 0 {
		return nil, fmt.Errorf("identity token lacks iss, sub, aud or nonce: %w", core.ErrDecode)
	}

	return &core.IdentityClaims{
		Issuer:   claims.Issuer,
		Subject:  claims.Subject,
		Audience: claims.Audience[0],
		Nonce:    claims.Nonce,
		Name:     claims.Name,
		Email:    claims.Email,
		Picture:  claims.Picture,
	}, nil
}
