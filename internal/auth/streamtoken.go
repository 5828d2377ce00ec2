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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StreamTokenType is the token_type discriminator carried by every
// streaming token. It keeps the symmetric signing domain from being
// replayed as anything else signed with the same secret.
const StreamTokenType = "streaming"

// streamTokenAlg is the only signature algorithm accepted for streaming
// tokens. Asymmetric primary tokens can never satisfy it, so the two
// signing domains stay non-interchangeable in both directions.
var streamTokenAlg = []string{"HS256"}

type streamClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// StreamTokenService mints and verifies short-lived streaming tokens.
// Issuance and verification are pure in-memory computation; the remote
// key cache is never involved, keeping per-request overhead low on the
// hot streaming path.
type StreamTokenService struct {
	secret   []byte
	lifetime time.Duration

	now func() time.Time
}

// NewStreamTokenService creates a streaming token service. The secret is
// a process-wide value loaded once at startup; rotating it invalidates
// all previously issued streaming tokens.
func NewStreamTokenService(secret string, lifetime time.Duration) *StreamTokenService {
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	return &StreamTokenService{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Lifetime returns the configured token lifetime.
func (s *StreamTokenService) Lifetime() time.Duration {
	return s.lifetime
}

// Issue mints a streaming token for an already-verified identity. Callers
// must only pass identities produced by the primary verifier (or the
// admin login path).
func (s *StreamTokenService) Issue(identity *Identity) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.lifetime)

	claims := streamClaims{
		TokenType: StreamTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign streaming token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks a raw streaming token and returns the subject it was
// issued for. Validity is solely signature plus expiry; there is no
// server-side revocation list.
func (s *StreamTokenService) Verify(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty token", ErrMalformed)
	}

	var claims streamClaims
	_, err := jwt.NewParser(
		jwt.WithValidMethods(streamTokenAlg),
		jwt.WithExpirationRequired(),
	).ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", classifyJWTError(err)
	}

	if claims.TokenType != StreamTokenType {
		return "", fmt.Errorf("%w: got %q", ErrWrongTokenType, claims.TokenType)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrMalformed)
	}

	return claims.Subject, nil
}
