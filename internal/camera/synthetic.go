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
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// SyntheticSource produces generated JPEG frames: a moving gradient with
// a frame counter baked into the pixel data. It stands in for a real
// capture device in development and tests; device capture is deliberately
// out of scope for this service.
type SyntheticSource struct {
	width  int
	height int

	mu      sync.Mutex
	open    bool
	counter uint64
}

// NewSyntheticSource creates a generated-frame source.
func NewSyntheticSource(width, height int) *SyntheticSource {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	return &SyntheticSource{width: width, height: height}
}

func (s *SyntheticSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *SyntheticSource) ReadFrame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrCameraUnavailable
	}
	n := s.counter
	s.counter++
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	shift := uint8(n % 256)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x) + shift,
				G: uint8(y) + shift,
				B: shift,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}

	return &Frame{
		Data:       buf.Bytes(),
		Format:     "jpeg",
		CapturedAt: time.Now(),
	}, nil
}
