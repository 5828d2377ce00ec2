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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptt3199/homecam-api/internal/audit"
	"github.com/ptt3199/homecam-api/internal/auth"
	"github.com/ptt3199/homecam-api/internal/camera"
	"github.com/ptt3199/homecam-api/internal/identity"
)

type fakeVerifier struct {
	identities map[string]*auth.Identity
	err        error
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (*auth.Identity, error) {
	if id, ok := f.identities[raw]; ok {
		return id, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, auth.ErrSignatureInvalid
}

type fakeStreamTokens struct {
	issued   string
	subjects map[string]string
	issueErr error
}

func (f *fakeStreamTokens) Issue(id *auth.Identity) (string, time.Time, error) {
	if f.issueErr != nil {
		return "", time.Time{}, f.issueErr
	}
	return f.issued, time.Now().Add(5 * time.Minute), nil
}

func (f *fakeStreamTokens) Verify(raw string) (string, error) {
	if sub, ok := f.subjects[raw]; ok {
		return sub, nil
	}
	return "", auth.ErrSignatureInvalid
}

func (f *fakeStreamTokens) Lifetime() time.Duration {
	return 5 * time.Minute
}

type testEnv struct {
	handler *Handler
	router  http.Handler
	camera  *camera.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	verifier := &fakeVerifier{
		identities: map[string]*auth.Identity{
			"good-primary": {
				Subject: "user-42",
				Issuer:  "https://issuer.test",
				Email:   "user@example.com",
			},
		},
	}
	streamTokens := &fakeStreamTokens{
		issued:   "minted-stream-token",
		subjects: map[string]string{"good-stream": "user-42"},
	}

	hasher := identity.NewPasswordHasher()
	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	admin := identity.NewAdminService("admin", "admin@example.com", hash, hasher)

	cam := camera.NewService(camera.NewSyntheticSource(160, 120), camera.Config{
		DeviceID: 0,
		Width:    160,
		Height:   120,
		FPS:      30,
	})
	t.Cleanup(cam.Stop)

	h := NewHandler(verifier, streamTokens, admin, cam, audit.NewSlogLogger(), nil)
	router := NewRouter(h, NewRateLimiter(1000, 1000))

	return &testEnv{handler: h, router: router, camera: cam}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/auth/info", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), genericAuthError)
}

// Every auth failure must produce an identical response so callers
// cannot tell which check failed.
func TestAuthMiddleware_UniformRejections(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no header", func(r *http.Request) {}},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not-a-jwt") }},
		{"stream token on primary route", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-stream") }},
	}

	var bodies []string
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/info", nil)
		tc.setup(req)
		w := env.do(req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.name)
		bodies = append(bodies, w.Body.String())
	}

	for i := 1; i < len(bodies); i++ {
		assert.Equal(t, bodies[0], bodies[i], "rejection bodies must be indistinguishable")
	}
}

func TestAuthInfo_WithValidToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/info", nil)
	req.Header.Set("Authorization", "Bearer good-primary")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, true, resp["authenticated"])
	assert.Equal(t, "user-42", resp["subject"])
	assert.Equal(t, "https://issuer.test", resp["issuer"])
	assert.Equal(t, "user@example.com", resp["email"])
}

func TestIssueStreamToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/stream-token", nil)
	req.Header.Set("Authorization", "Bearer good-primary")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "minted-stream-token", resp["token"])
	assert.EqualValues(t, 300, resp["expires_in"])
	assert.NotEmpty(t, resp["expires_at"])
}

func TestIssueStreamToken_RequiresPrimaryToken(t *testing.T) {
	env := newTestEnv(t)

	// A streaming token must not be able to mint further streaming tokens.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/stream-token", nil)
	req.Header.Set("Authorization", "Bearer good-stream")
	w := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(LoginRequest{Username: "admin", Password: "correct horse battery staple"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "minted-stream-token", resp["access_token"])
	assert.Equal(t, "bearer", resp["token_type"])
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(LoginRequest{Username: "admin", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	w := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid credentials")
}

func TestLogin_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{not json"))
	w := env.do(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamAuth_QueryToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.camera.Start(context.Background()))
	waitForFrame(t, env.camera)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/camera/snapshot?token=good-stream", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	body := w.Body.Bytes()
	require.True(t, len(body) > 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, body[:2])
}

func TestStreamAuth_RejectsMissingAndPrimaryTokens(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/camera/snapshot", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A primary token is not valid currency on streaming routes.
	w = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/camera/snapshot?token=good-primary", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), genericAuthError)
}

func TestSnapshot_NotStreaming(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/camera/snapshot?token=good-stream", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCameraStatusAndFormats(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/camera/status", nil)
	req.Header.Set("Authorization", "Bearer good-primary")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.EqualValues(t, 0, status["camera_id"])
	assert.Equal(t, false, status["is_streaming"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/camera/formats", nil)
	req.Header.Set("Authorization", "Bearer good-primary")
	w = env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "jpeg")
}

func TestStreamStartStop(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/camera/stream/start", nil)
	req.Header.Set("Authorization", "Bearer good-primary")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_streaming":true`)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/camera/stream/stop", nil)
	req.Header.Set("Authorization", "Bearer good-primary")
	w = env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_streaming":false`)
}

func TestStreamStatus(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/camera/stream/status", nil)
	req.Header.Set("Authorization", "Bearer good-primary")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, false, resp["is_streaming"])
	assert.EqualValues(t, 0, resp["viewers"])
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer good-primary")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "logged out successfully")

	// Logout requires a valid primary token like every other
	// authenticated route.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	w = env.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVideoFeed_ServesMultipartFrames(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/camera/video_feed?token=good-stream", nil)
	req = req.WithContext(ctx)
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "--frame")
	assert.Contains(t, body, "Content-Type: image/jpeg")
	// At least one JPEG start-of-image marker made it onto the wire.
	assert.Contains(t, body, string([]byte{0xFF, 0xD8}))
}

func TestGetClientIP_UsesFirstForwardedEntry(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	assert.Equal(t, "10.0.0.9:1234", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1, 10.0.0.2")
	assert.Equal(t, "203.0.113.7", getClientIP(req))
}

func TestRateLimiter_Returns429(t *testing.T) {
	env := newTestEnv(t)
	router := NewRouter(env.handler, NewRateLimiter(1, 2))

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		lastCode = w.Code
	}

	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func waitForFrame(t *testing.T, cam *camera.Service) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if _, err := cam.Snapshot(); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("no frame captured before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
