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

import "errors"

// Domain errors. Every verification failure maps to exactly one of these;
// the transport layer collapses them all into a generic 401 and keeps the
// specific kind for server-side logs only.
var (
	// ErrMalformed indicates the token could not be structurally parsed or
	// is missing the header kid / issuer claim needed to locate a key.
	ErrMalformed = errors.New("token is malformed")

	// ErrUnknownIssuer indicates the token's issuer is not in the
	// configured allow-list.
	ErrUnknownIssuer = errors.New("token issuer is not allowed")

	// ErrKeyNotFound indicates the issuer's key set, after a fresh fetch,
	// does not contain the referenced key id. Definitive; never retried
	// within the same request.
	ErrKeyNotFound = errors.New("signing key not found in provider key set")

	// ErrProviderUnreachable indicates the provider's key set could not be
	// fetched or parsed. The only condition where a caller-visible retry
	// of the whole request makes sense.
	ErrProviderUnreachable = errors.New("key provider unreachable")

	// ErrKeyLookupFailed wraps a key cache failure during primary token
	// verification; the underlying cause is attached.
	ErrKeyLookupFailed = errors.New("signing key lookup failed")

	// ErrSignatureInvalid indicates the signature did not verify against
	// the located key.
	ErrSignatureInvalid = errors.New("token signature is invalid")

	// ErrExpired indicates the current time is at or past the exp claim.
	ErrExpired = errors.New("token has expired")

	// ErrNotYetValid indicates the current time is before the nbf/iat claim.
	ErrNotYetValid = errors.New("token is not valid yet")

	// ErrWrongTokenType indicates a token signed in the right domain but
	// carrying the wrong token_type discriminator (e.g. some other token
	// kind minted with the same secret replayed against the stream).
	ErrWrongTokenType = errors.New("wrong token type")
)
