// Copyright 2026 The Homecam API Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified result of a primary token. Derived purely from
// verified claims, reconstructed per request, never persisted.
type Identity struct {
	Subject   string
	Issuer    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// VerifierConfig controls primary-token validation policy.
type VerifierConfig struct {
	// AllowedIssuers is an optional issuer allow-list. Empty accepts any
	// issuer whose key set resolves.
	AllowedIssuers []string
	// AllowedAlgs restricts accepted signature algorithms, preventing
	// downgrade/confusion attacks (a symmetric streaming token can never
	// pass here).
	AllowedAlgs []string
	// Audience is checked only when VerifyAudience is set. Off by default:
	// providers do not populate aud consistently, and tightening it is a
	// deployment decision.
	Audience       string
	VerifyAudience bool
	Leeway         time.Duration
}

// Verifier validates primary bearer tokens against dynamically fetched
// provider keys.
type Verifier struct {
	keys           *KeyCache
	cfg            VerifierConfig
	allowedIssuers map[string]struct{}
}

// NewVerifier creates a primary token verifier backed by the key cache.
func NewVerifier(keys *KeyCache, cfg VerifierConfig) *Verifier {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 60 * time.Second
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedIssuers) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedIssuers))
		for _, iss := range cfg.AllowedIssuers {
			allowed[iss] = struct{}{}
		}
	}
	return &Verifier{keys: keys, cfg: cfg, allowedIssuers: allowed}
}

// Verify validates a raw primary token and returns the identity carried
// by its claims.
//
// The token is first parsed WITHOUT signature verification, only to read
// the header kid and issuer claim that locate the verification key. Those
// unverified strings select the key and nothing else; trust is
// established solely by the signature check against the located key.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	issuer, keyID, err := locateKeyRef(raw)
	if err != nil {
		return nil, err
	}

	if v.allowedIssuers != nil {
		if _, ok := v.allowedIssuers[issuer]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIssuer, issuer)
		}
	}

	key, err := v.keys.Key(ctx, issuer, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLookupFailed, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.VerifyAudience {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	parsed, err := jwt.NewParser(opts...).Parse(raw, func(t *jwt.Token) (any, error) {
		return key.Key, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformed)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMalformed)
	}

	identity := &Identity{
		Subject: sub,
		Issuer:  issuer,
	}
	if email, _ := claims["email"].(string); email != "" {
		identity.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}

	return identity, nil
}

// locateKeyRef structurally parses a token, without verifying it, to
// extract the header kid and payload issuer.
func locateKeyRef(raw string) (issuer, keyID string, err error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	keyID, _ = token.Header["kid"].(string)
	if keyID == "" {
		return "", "", fmt.Errorf("%w: missing kid header", ErrMalformed)
	}

	claims := token.Claims.(jwt.MapClaims)
	issuer, _ = claims["iss"].(string)
	if issuer == "" {
		return "", "", fmt.Errorf("%w: missing iss claim", ErrMalformed)
	}

	return issuer, keyID, nil
}

// classifyJWTError maps golang-jwt parse failures onto the domain
// taxonomy. Anything not recognizably structural or temporal counts as a
// signature failure.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrNotYetValid, err)
	default:
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}
