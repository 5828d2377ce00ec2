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
	"testing"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	ok, err := hasher.Verify("correct horse battery staple", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong password", hash)
	if err != nil {
		t.Fatalf("verify errored: %v", err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
}

func TestPasswordHasher_RejectsBadFormat(t *testing.T) {
	hasher := NewPasswordHasher()
	for _, bad := range []string{"", "plaintext", "$bcrypt$x$y"} {
		if _, err := hasher.Verify("pw", bad); err == nil {
			t.Errorf("%q: expected format error", bad)
		}
	}
}

func TestAdminService_Login(t *testing.T) {
	hasher := NewPasswordHasher()
	hash, err := hasher.Hash("s3cret-admin-pw")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	svc := NewAdminService("admin", "admin@ptt-home.local", hash, hasher)
	ctx := context.Background()

	for _, identifier := range []string{"admin", "admin@ptt-home.local"} {
		sub, err := svc.Login(ctx, identifier, "s3cret-admin-pw")
		if err != nil {
			t.Fatalf("%s: login failed: %v", identifier, err)
		}
		if sub != "admin" {
			t.Errorf("%s: expected subject admin, got %q", identifier, sub)
		}
	}

	if _, err := svc.Login(ctx, "admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "somebody-else", "s3cret-admin-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown identifier, got %v", err)
	}
}

func TestAdminService_DisabledWithoutHash(t *testing.T) {
	svc := NewAdminService("admin", "admin@ptt-home.local", "", NewPasswordHasher())
	if svc.Enabled() {
		t.Fatal("service should be disabled without a password hash")
	}
	if _, err := svc.Login(context.Background(), "admin", "anything"); !errors.Is(err, ErrLoginDisabled) {
		t.Fatalf("expected ErrLoginDisabled, got %v", err)
	}
}
