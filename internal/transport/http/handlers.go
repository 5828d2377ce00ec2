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
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ptt3199/homecam-api/internal/audit"
	"github.com/ptt3199/homecam-api/internal/auth"
	"github.com/ptt3199/homecam-api/internal/camera"
	"github.com/ptt3199/homecam-api/internal/identity"
	"github.com/ptt3199/homecam-api/internal/observability/metrics"
)

// TokenVerifier validates a primary bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.Identity, error)
}

// StreamTokenService mints and validates short-lived streaming tokens.
type StreamTokenService interface {
	Issue(identity *auth.Identity) (string, time.Time, error)
	Verify(raw string) (string, error)
	Lifetime() time.Duration
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	verifier     TokenVerifier
	streamTokens StreamTokenService
	adminService *identity.AdminService
	cameraSvc    *camera.Service
	auditLogger  audit.Logger
	meter        *metrics.Meter
}

// NewHandler creates a new HTTP handler
func NewHandler(
	verifier TokenVerifier,
	streamTokens StreamTokenService,
	adminService *identity.AdminService,
	cameraSvc *camera.Service,
	auditLogger audit.Logger,
	meter *metrics.Meter,
) *Handler {
	return &Handler{
		verifier:     verifier,
		streamTokens: streamTokens,
		adminService: adminService,
		cameraSvc:    cameraSvc,
		auditLogger:  auditLogger,
		meter:        meter,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)

	// Health check
	r.Get("/health", h.HealthCheck)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public, rate-limited by the router-level limiter
		r.Post("/auth/login", h.Login)

		// Primary-token routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/auth/info", h.AuthInfo)
			r.Post("/auth/logout", h.Logout)
			r.Post("/auth/stream-token", h.IssueStreamToken)

			r.Get("/camera/status", h.CameraStatus)
			r.Get("/camera/formats", h.CameraFormats)
			r.Get("/camera/stream/status", h.StreamStatus)
			r.Post("/camera/stream/start", h.StreamStart)
			r.Post("/camera/stream/stop", h.StreamStop)
		})

		// Streaming-token routes. No request timeout here: the MJPEG
		// feed is a deliberately long-lived response.
		r.Group(func(r chi.Router) {
			r.Use(h.StreamAuthMiddleware)

			r.Get("/camera/video_feed", h.VideoFeed)
			r.Get("/camera/snapshot", h.Snapshot)
		})
	})

	return r
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "homecam-api",
	})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
