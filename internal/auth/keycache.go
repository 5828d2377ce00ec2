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
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/ptt3199/homecam-api/internal/observability/logger"
)

// wellKnownJWKSPath is the fixed suffix appended to an issuer to locate
// its published key set.
const wellKnownJWKSPath = "/.well-known/jwks.json"

// SigningKey is one public key published by an identity provider.
type SigningKey struct {
	KeyID     string
	Algorithm string
	Issuer    string
	Key       crypto.PublicKey
}

// providerKeySet is the cached key collection for one issuer. Replaced
// wholesale on refresh, never partially updated.
type providerKeySet struct {
	keys      map[string]SigningKey
	fetchedAt time.Time
	expiresAt time.Time
}

// KeyCacheConfig holds key cache tuning parameters.
type KeyCacheConfig struct {
	// TTL is how long a fetched key set stays valid.
	TTL time.Duration
	// MinRefresh is the negative-cache window: a key id absent from a set
	// fetched within this window is a definitive miss with no new fetch.
	MinRefresh time.Duration
	// FetchTimeout bounds one key set fetch round-trip.
	FetchTimeout time.Duration
	// HTTPClient overrides the client used for fetches (tests).
	HTTPClient *http.Client
	// OnFetch, when set, is invoked once per network fetch attempt.
	OnFetch func()
}

// KeyCache fetches and caches provider key sets. Reads of a valid entry
// take only a read lock; refreshes are coalesced per issuer so concurrent
// misses share a single network call.
type KeyCache struct {
	mu   sync.RWMutex
	sets map[string]*providerKeySet

	group        singleflight.Group
	client       *http.Client
	ttl          time.Duration
	minRefresh   time.Duration
	fetchTimeout time.Duration
	onFetch      func()

	now func() time.Time
}

// NewKeyCache creates a key cache.
func NewKeyCache(cfg KeyCacheConfig) *KeyCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MinRefresh <= 0 {
		cfg.MinRefresh = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &KeyCache{
		sets:         make(map[string]*providerKeySet),
		client:       client,
		ttl:          cfg.TTL,
		minRefresh:   cfg.MinRefresh,
		fetchTimeout: cfg.FetchTimeout,
		onFetch:      cfg.OnFetch,
		now:          time.Now,
	}
}

// jwksURL derives the published-key-set endpoint from an issuer.
func jwksURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + wellKnownJWKSPath
}

// Key returns the signing key with the given id for the issuer, fetching
// or refreshing the issuer's key set as needed. A key id still absent
// after a fresh fetch fails with ErrKeyNotFound; fetch failures fail with
// ErrProviderUnreachable.
func (c *KeyCache) Key(ctx context.Context, issuer, keyID string) (SigningKey, error) {
	c.mu.RLock()
	set := c.sets[issuer]
	c.mu.RUnlock()

	if set != nil && c.now().Before(set.expiresAt) {
		if key, ok := set.keys[keyID]; ok {
			return key, nil
		}
		// Negative cache: the set was fetched recently and does not have
		// this kid. Re-fetching would not change the answer and a burst of
		// unknown-kid tokens must not turn into a fetch storm.
		if c.now().Sub(set.fetchedAt) < c.minRefresh {
			return SigningKey{}, fmt.Errorf("%w: kid %q from issuer %q", ErrKeyNotFound, keyID, issuer)
		}
	}

	set, err := c.refresh(ctx, issuer)
	if err != nil {
		return SigningKey{}, err
	}
	if key, ok := set.keys[keyID]; ok {
		return key, nil
	}
	return SigningKey{}, fmt.Errorf("%w: kid %q from issuer %q", ErrKeyNotFound, keyID, issuer)
}

// Invalidate drops the cached key set for an issuer.
func (c *KeyCache) Invalidate(issuer string) {
	c.mu.Lock()
	delete(c.sets, issuer)
	c.mu.Unlock()
}

// refresh performs a single-flight fetch of the issuer's key set. The
// fetch itself runs on a context detached from the caller so that one
// cancelled request abandons only its own wait; the result still lands in
// the cache for the other waiters.
func (c *KeyCache) refresh(ctx context.Context, issuer string) (*providerKeySet, error) {
	ch := c.group.DoChan(issuer, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		set, err := c.fetch(fetchCtx, issuer)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.sets[issuer] = set
		c.mu.Unlock()
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*providerKeySet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, ctx.Err())
	}
}

func (c *KeyCache) fetch(ctx context.Context, issuer string) (*providerKeySet, error) {
	if c.onFetch != nil {
		c.onFetch()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL(issuer), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: key set endpoint returned %d", ErrProviderUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}

	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("%w: invalid key set document: %v", ErrProviderUnreachable, err)
	}

	now := c.now()
	set := &providerKeySet{
		keys:      make(map[string]SigningKey, len(jwks.Keys)),
		fetchedAt: now,
		expiresAt: now.Add(c.ttl),
	}
	for _, jwk := range jwks.Keys {
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			// A provider can publish keys this verifier cannot use.
			// They are skipped, not fatal, but worth a trace when a
			// token later fails with an unknown kid.
			slog.DebugContext(ctx, "skipping unusable published key",
				logger.Issuer(issuer),
				logger.KeyID(jwk.KeyID),
			)
			continue
		}
		set.keys[jwk.KeyID] = SigningKey{
			KeyID:     jwk.KeyID,
			Algorithm: jwk.Algorithm,
			Issuer:    issuer,
			Key:       jwk.Key,
		}
	}
	return set, nil
}
