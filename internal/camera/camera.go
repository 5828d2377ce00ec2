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

package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ptt3199/homecam-api/internal/observability/logger"
)

// Domain errors
var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrNotStreaming      = errors.New("camera is not streaming")
	ErrNoFrame           = errors.New("no frame captured yet")
)

// Frame is one encoded image produced by a Source.
type Frame struct {
	Data       []byte
	Format     string // "jpeg", "webp", "png"
	CapturedAt time.Time
}

// Source produces encoded frames from some capture backend. Implementations
// that lose the device should return ErrCameraUnavailable (possibly wrapped)
// from ReadFrame.
type Source interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// Config holds capture parameters.
type Config struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// Status describes the camera and streaming state.
type Status struct {
	DeviceID    int     `json:"camera_id"`
	State       string  `json:"status"` // "active", "inactive", "error"
	IsStreaming bool    `json:"is_streaming"`
	FrameRate   float64 `json:"frame_rate,omitempty"`
	Resolution  string  `json:"resolution,omitempty"`
}

// Service owns the capture loop. One background goroutine pulls frames
// from the Source at the configured rate, keeps the most recent frame for
// snapshots, and fans frames out to stream subscribers. Subscriber
// channels are small and lossy: a slow client drops frames instead of
// backing up capture, mirroring latest-frame-wins semantics.
type Service struct {
	source Source
	cfg    Config

	mu        sync.Mutex
	streaming bool
	failed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	latest    *Frame

	subsMu sync.Mutex
	subs   map[chan *Frame]struct{}
}

// NewService creates a camera service over the given source.
func NewService(source Source, cfg Config) *Service {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	return &Service{
		source: source,
		cfg:    cfg,
		subs:   make(map[chan *Frame]struct{}),
	}
}

// Start opens the source and begins the capture loop. Starting an
// already-streaming service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return nil
	}

	if err := s.source.Open(ctx); err != nil {
		s.failed = true
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.streaming = true
	s.failed = false

	go s.captureLoop(loopCtx)

	slog.InfoContext(ctx, "camera streaming started",
		logger.Component("camera"),
		logger.DeviceID(s.cfg.DeviceID),
	)
	return nil
}

// Stop halts the capture loop and releases the source so the device
// light goes off. Stopping a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return
	}
	s.streaming = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	if err := s.source.Close(); err != nil {
		slog.Error("failed to release camera source", logger.Error(err))
	}

	slog.Info("camera streaming stopped", logger.Component("camera"))
}

// IsStreaming reports whether the capture loop is running.
func (s *Service) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Snapshot returns the most recent captured frame. Streaming must be
// active; a stopped camera has no current frame to serve.
func (s *Service) Snapshot() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.streaming {
		return nil, ErrNotStreaming
	}
	if s.latest == nil {
		return nil, ErrNoFrame
	}
	return s.latest, nil
}

// Status returns the current camera state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := "inactive"
	switch {
	case s.failed:
		state = "error"
	case s.streaming:
		state = "active"
	}

	st := Status{
		DeviceID:    s.cfg.DeviceID,
		State:       state,
		IsStreaming: s.streaming,
	}
	if s.streaming {
		st.FrameRate = float64(s.cfg.FPS)
		st.Resolution = fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height)
	}
	return st
}

// Formats lists the snapshot formats the service can serve.
func (s *Service) Formats() []string {
	return []string{"jpeg"}
}

// Viewers reports how many stream subscribers are currently attached.
func (s *Service) Viewers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// Subscribe registers a stream consumer. The returned channel carries
// frames until unsubscribe is called or the service stops; it is buffered
// and lossy.
func (s *Service) Subscribe() (<-chan *Frame, func()) {
	ch := make(chan *Frame, 2)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	unsubscribe := func() {
		s.subsMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subsMu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Service) captureLoop(ctx context.Context) {
	defer close(s.done)

	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := s.source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("frame capture failed", logger.Error(err), logger.DeviceID(s.cfg.DeviceID))
			s.mu.Lock()
			s.failed = true
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		s.latest = frame
		s.failed = false
		s.mu.Unlock()

		s.broadcast(frame)
	}
}

func (s *Service) broadcast(frame *Frame) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- frame:
		default:
			// Drop the oldest buffered frame and retry once so slow
			// clients see fresh frames rather than a growing backlog.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}
