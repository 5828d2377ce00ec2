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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter

	// Auth counters, registered up front so handlers never pay the
	// instrument-creation cost per request.
	TokenVerifications metric.Int64Counter
	StreamTokensIssued metric.Int64Counter
	AuthRejections     metric.Int64Counter
	KeySetFetches      metric.Int64Counter
	FramesServed       metric.Int64Counter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	var meter metric.Meter
	if !cfg.Enabled {
		meter = otel.Meter("noop")
	} else {
		meter = otel.Meter(serviceName)
	}

	m := &Meter{meter: meter}

	var err error
	if m.TokenVerifications, err = m.counter("auth.token_verifications", "Primary token verification attempts"); err != nil {
		return nil, err
	}
	if m.StreamTokensIssued, err = m.counter("auth.stream_tokens_issued", "Streaming tokens minted"); err != nil {
		return nil, err
	}
	if m.AuthRejections, err = m.counter("auth.rejections", "Requests rejected by the auth gate"); err != nil {
		return nil, err
	}
	if m.KeySetFetches, err = m.counter("auth.keyset_fetches", "JWKS fetches performed by the key cache"); err != nil {
		return nil, err
	}
	if m.FramesServed, err = m.counter("camera.frames_served", "MJPEG frames written to clients"); err != nil {
		return nil, err
	}

	return m, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

func (m *Meter) counter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}
