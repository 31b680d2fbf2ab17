package auth

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Claims is the verified payload of an authorization token.
type Claims struct {
	Subject  string           `json:"sub"`
	Issuer   string           `json:"iss"`
	Audience jwt.Audience     `json:"aud"`
	Expiry   *jwt.NumericDate `json:"exp"`

	Roles           []string `json:"roles"`
	ReleaseChannels []string `json:"releaseChannels"`

	// Entitlement flags, named as the auth service emits them
	AccountLinked      bool `json:"IsPatreonAccountLinked"`
	SubscriptionActive bool `json:"IsPatreonSubscriptionActive"`
}

// registered returns the registered claims for validation.
func (c *Claims) registered() jwt.Claims {
	return jwt.Claims{
		Subject:  c.Subject,
		Issuer:   c.Issuer,
		Audience: c.Audience,
		Expiry:   c.Expiry,
	}
}

// normalize replaces nil lists with empty ones.
func (c *Claims) normalize() {
	if c.Roles == nil {
		c.Roles = []string{}
	}
	if c.ReleaseChannels == nil {
		c.ReleaseChannels = []string{}
	}
}

// cachedTokenAlgorithms are accepted when re-reading a cached token.
var cachedTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

// CachedClaims decodes a token previously accepted by Authenticate without
// checking it again. It must only be used on tokens taken from a
// CredentialStore.
func CachedClaims(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, cachedTokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("parse cached token: %w", err)
	}
	claims := &Claims{}
	if err := tok.UnsafeClaimsWithoutVerification(claims); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	claims.normalize()
	return claims, nil
}
