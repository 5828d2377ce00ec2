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

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ptt3199/homecam-api/internal/audit"
)

// AuditRepository implements audit.EventStore
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit event repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert persists an audit event
func (r *AuditRepository) Insert(ctx context.Context, event audit.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO audit_events (
			id, event_type, actor_id, resource, metadata,
			ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		uuid.NewString(), event.Type, event.ActorID, event.Resource, metadata,
		event.IPAddress, event.UserAgent, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}
