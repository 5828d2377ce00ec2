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
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

// newJWKSServer serves a JWKS document at the well-known path and counts
// fetches. The server URL doubles as the issuer.
func newJWKSServer(t *testing.T, keys map[string]*rsa.PrivateKey) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var fetches atomic.Int64
	var jwks jose.JSONWebKeySet
	for kid, key := range keys {
		jwks.Keys = append(jwks.Keys, jose.JSONWebKey{
			Key:       key.Public(),
			KeyID:     kid,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wellKnownJWKSPath {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func TestKeyCache_ReturnsCachedKeyWithoutRefetch(t *testing.T) {
	key := generateTestKey(t)
	srv, fetches := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-1": key})

	cache := NewKeyCache(KeyCacheConfig{})
	ctx := context.Background()

	got, err := cache.Key(ctx, srv.URL, "key-1")
	if err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}
	if got.KeyID != "key-1" || got.Issuer != srv.URL {
		t.Errorf("unexpected key: %+v", got)
	}

	if _, err := cache.Key(ctx, srv.URL, "key-1"); err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestKeyCache_UnknownKidIsDefinitiveAfterRefresh(t *testing.T) {
	key := generateTestKey(t)
	srv, fetches := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-1": key})

	cache := NewKeyCache(KeyCacheConfig{})
	ctx := context.Background()

	_, err := cache.Key(ctx, srv.URL, "no-such-kid")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", n)
	}

	// Negative cache: a second miss inside the min-refresh window must
	// not hit the network again.
	_, err = cache.Key(ctx, srv.URL, "no-such-kid")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("negative cache bypassed: %d fetches", n)
	}
}

func TestKeyCache_ProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewKeyCache(KeyCacheConfig{})
	if _, err := cache.Key(context.Background(), srv.URL, "key-1"); !errors.Is(err, ErrProviderUnreachable) {
		t.Fatalf("expected ErrProviderUnreachable, got %v", err)
	}

	// A dead endpoint is the same condition, not KeyNotFound.
	srv.Close()
	if _, err := cache.Key(context.Background(), srv.URL, "key-1"); !errors.Is(err, ErrProviderUnreachable) {
		t.Fatalf("expected ErrProviderUnreachable after close, got %v", err)
	}
}

func TestKeyCache_TTLExpiryTriggersRefetch(t *testing.T) {
	key := generateTestKey(t)
	srv, fetches := newJWKSServer(t, map[string]*rsa.PrivateKey{"key-1": key})

	cache := NewKeyCache(KeyCacheConfig{TTL: time.Hour})
	base := time.Now()
	cache.now = func() time.Time { return base }

	ctx := context.Background()
	if _, err := cache.Key(ctx, srv.URL, "key-1"); err != nil {
		t.Fatalf("initial lookup failed: %v", err)
	}

	// Advance past the TTL; the entry is stale and must be replaced.
	cache.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := cache.Key(ctx, srv.URL, "key-1"); err != nil {
		t.Fatalf("post-expiry lookup failed: %v", err)
	}
	if n := fetches.Load(); n != 2 {
		t.Errorf("expected 2 fetches across TTL boundary, got %d", n)
	}
}

func TestKeyCache_SingleFlight(t *testing.T) {
	key := generateTestKey(t)

	var fetches atomic.Int64
	var jwks jose.JSONWebKeySet
	jwks.Keys = append(jwks.Keys, jose.JSONWebKey{
		Key: key.Public(), KeyID: "key-1", Algorithm: "RS256", Use: "sig",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond) // force caller overlap
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	cache := NewKeyCache(KeyCacheConfig{})
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Key(ctx, srv.URL, "key-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d failed: %v", i, err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("single-flight violated: %d fetches for %d concurrent callers", n, callers)
	}
}

func TestKeyCache_CancelledCallerDoesNotAbortSharedFetch(t *testing.T) {
	key := generateTestKey(t)

	var fetches atomic.Int64
	var jwks jose.JSONWebKeySet
	jwks.Keys = append(jwks.Keys, jose.JSONWebKey{
		Key: key.Public(), KeyID: "key-1", Algorithm: "RS256", Use: "sig",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		time.Sleep(100 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	cache := NewKeyCache(KeyCacheConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := cache.Key(ctx, srv.URL, "key-1"); !errors.Is(err, ErrProviderUnreachable) {
		t.Fatalf("expected ErrProviderUnreachable for cancelled wait, got %v", err)
	}

	// The fetch keeps running on a detached context and its result still
	// populates the cache for everyone else.
	time.Sleep(200 * time.Millisecond)
	if _, err := cache.Key(context.Background(), srv.URL, "key-1"); err != nil {
		t.Fatalf("cache not populated by abandoned fetch: %v", err)
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("expected the abandoned fetch to be the only one, got %d", n)
	}
}
