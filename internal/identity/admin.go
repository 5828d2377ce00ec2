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

package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ptt3199/homecam-api/internal/observability/logger"
)

// Domain errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginDisabled      = errors.New("backend login is disabled")
)

// AdminService authenticates the single local admin account. Regular
// users authenticate through the external identity provider; this is the
// only credential the backend checks itself.
type AdminService struct {
	username     string
	email        string
	passwordHash string
	hasher       *PasswordHasher
}

// NewAdminService creates the admin login service. An empty password
// hash disables backend login entirely.
func NewAdminService(username, email, passwordHash string, hasher *PasswordHasher) *AdminService {
	return &AdminService{
		username:     username,
		email:        email,
		passwordHash: passwordHash,
		hasher:       hasher,
	}
}

// Enabled reports whether backend login is configured.
func (s *AdminService) Enabled() bool {
	return s.passwordHash != ""
}

// Login checks the identifier (username or email) and password against
// the configured admin account and returns the admin subject id.
func (s *AdminService) Login(ctx context.Context, identifier, password string) (string, error) {
	if !s.Enabled() {
		return "", ErrLoginDisabled
	}
	if identifier != s.username && identifier != s.email {
		// Still burn a hash comparison so the response time does not
		// reveal whether the account name matched.
		_, _ = s.hasher.Verify(password, s.passwordHash)
		return "", ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, s.passwordHash)
	if err != nil {
		slog.ErrorContext(ctx, "admin password hash unusable", logger.Error(err))
		return "", ErrInvalidCredentials
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	return s.username, nil
}
