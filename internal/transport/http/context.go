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

import "context"

type contextKey string

const (
	subjectKey contextKey = "subject"
	issuerKey  contextKey = "issuer"
	emailKey   contextKey = "email"
)

// GetSubject retrieves the authenticated subject from context.
func GetSubject(ctx context.Context) string {
	if val, ok := ctx.Value(subjectKey).(string); ok {
		return val
	}
	return ""
}

// GetIssuer retrieves the token issuer from context.
func GetIssuer(ctx context.Context) string {
	if val, ok := ctx.Value(issuerKey).(string); ok {
		return val
	}
	return ""
}

// GetEmail retrieves the authenticated email from context.
func GetEmail(ctx context.Context) string {
	if val, ok := ctx.Value(emailKey).(string); ok {
		return val
	}
	return ""
}
