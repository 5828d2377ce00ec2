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
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ptt3199/homecam-api/internal/audit"
	"github.com/ptt3199/homecam-api/internal/auth"
	"github.com/ptt3199/homecam-api/internal/observability/logger"
)

// Rejections are deliberately uniform on the wire: every authentication
// failure is a 401 with the same body. The precise failure kind goes to
// the server log and the audit trail only, so a caller probing the gate
// cannot distinguish "expired" from "wrong key" from "unknown issuer".
const genericAuthError = "invalid or missing token"

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware validates a primary bearer token and adds the verified
// identity to the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			h.rejectAuth(w, r, "primary", "missing_bearer_token", nil)
			return
		}

		identity, err := h.verifier.Verify(r.Context(), raw)
		if err != nil {
			h.rejectAuth(w, r, "primary", rejectionReason(err), err)
			return
		}

		if h.meter != nil {
			h.meter.TokenVerifications.Add(r.Context(), 1)
		}

		slog.DebugContext(r.Context(), "primary token verified",
			logger.Subject(identity.Subject),
			logger.Issuer(identity.Issuer),
		)

		ctx := context.WithValue(r.Context(), subjectKey, identity.Subject)
		ctx = context.WithValue(ctx, issuerKey, identity.Issuer)
		ctx = context.WithValue(ctx, emailKey, identity.Email)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StreamAuthMiddleware validates a short-lived streaming token carried
// as a query parameter. Browser media elements cannot set an
// Authorization header on <img>/<video> sources, hence the query form.
// A bearer header is accepted as a fallback for non-browser clients.
func (h *Handler) StreamAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			raw = bearerToken(r)
		}
		if raw == "" {
			h.rejectAuth(w, r, "streaming", "missing_stream_token", nil)
			return
		}

		subject, err := h.streamTokens.Verify(raw)
		if err != nil {
			h.rejectAuth(w, r, "streaming", rejectionReason(err), err)
			return
		}

		slog.DebugContext(r.Context(), "streaming token verified",
			logger.Subject(subject),
			logger.Path(r.URL.Path),
		)

		ctx := context.WithValue(r.Context(), subjectKey, subject)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rejectAuth writes the uniform 401 while recording the real reason
// server-side.
func (h *Handler) rejectAuth(w http.ResponseWriter, r *http.Request, tokenType, reason string, err error) {
	attrs := []any{
		logger.TokenType(tokenType),
		logger.Path(r.URL.Path),
		logger.RemoteAddr(r.RemoteAddr),
		logger.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, logger.Error(err))
	}
	slog.WarnContext(r.Context(), "authentication rejected", attrs...)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeAuthRejected,
		Resource:  r.URL.Path,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"token_type": tokenType, "reason": reason},
	})

	if h.meter != nil {
		h.meter.AuthRejections.Add(r.Context(), 1)
	}

	respondError(w, http.StatusUnauthorized, genericAuthError)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// rejectionReason maps a verification error to a stable label for logs
// and audit metadata. Never sent to the client.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMalformed):
		return "malformed_token"
	case errors.Is(err, auth.ErrUnknownIssuer):
		return "unknown_issuer"
	case errors.Is(err, auth.ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, auth.ErrProviderUnreachable):
		return "provider_unreachable"
	case errors.Is(err, auth.ErrKeyLookupFailed):
		return "key_lookup_failed"
	case errors.Is(err, auth.ErrExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrNotYetValid):
		return "token_not_yet_valid"
	case errors.Is(err, auth.ErrWrongTokenType):
		return "wrong_token_type"
	case errors.Is(err, auth.ErrSignatureInvalid):
		return "signature_invalid"
	default:
		return "verification_failed"
	}
}
