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
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ptt3199/homecam-api/internal/audit"
	"github.com/ptt3199/homecam-api/internal/auth"
	"github.com/ptt3199/homecam-api/internal/observability/logger"
)

// LoginRequest is the admin fallback login payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates the local admin account and returns a streaming
// token. This is a fallback path for deployments without an external
// identity provider; the regular path is a primary bearer token plus
// the stream-token endpoint.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	subject, err := h.adminService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeLoginFailed,
			Resource:  req.Username,
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"reason": "invalid_credentials"},
		})
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.streamTokens.Issue(&auth.Identity{Subject: subject})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue stream token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLoginSuccess,
		ActorID:   subject,
		Resource:  "stream_token",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	if h.meter != nil {
		h.meter.StreamTokensIssued.Add(r.Context(), 1)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.streamTokens.Lifetime().Seconds()),
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
	})
}

// AuthInfo echoes the verified identity of the caller
func (h *Handler) AuthInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"subject":       GetSubject(r.Context()),
		"issuer":        GetIssuer(r.Context()),
		"email":         GetEmail(r.Context()),
	})
}

// Logout records the end of a session. Both token kinds are stateless
// and expire on their own, so there is nothing to revoke server-side;
// clients call this so the audit trail shows an explicit sign-out.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeLogout,
		ActorID:   GetSubject(r.Context()),
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// IssueStreamToken exchanges a verified primary token for a short-lived
// streaming token bound to the same subject.
func (h *Handler) IssueStreamToken(w http.ResponseWriter, r *http.Request) {
	identity := &auth.Identity{
		Subject: GetSubject(r.Context()),
		Issuer:  GetIssuer(r.Context()),
		Email:   GetEmail(r.Context()),
	}

	token, expiresAt, err := h.streamTokens.Issue(identity)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue stream token", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	slog.DebugContext(r.Context(), "stream token issued",
		logger.Subject(identity.Subject),
		logger.Email(identity.Email),
	)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeStreamTokenIssued,
		ActorID:   identity.Subject,
		Resource:  "stream_token",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"issuer": identity.Issuer},
	})

	if h.meter != nil {
		h.meter.StreamTokensIssued.Add(r.Context(), 1)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(h.streamTokens.Lifetime().Seconds()),
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
