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
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/ptt3199/homecam-api/internal/audit"
	"github.com/ptt3199/homecam-api/internal/camera"
	"github.com/ptt3199/homecam-api/internal/observability/logger"
)

// CameraStatus returns the current camera state
func (h *Handler) CameraStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cameraSvc.Status())
}

// CameraFormats lists the frame formats the camera can serve
func (h *Handler) CameraFormats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"formats": h.cameraSvc.Formats(),
	})
}

// StreamStatus reports whether the capture loop is running and how
// many stream consumers are attached, without the device details that
// CameraStatus carries.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"is_streaming": h.cameraSvc.IsStreaming(),
		"viewers":      h.cameraSvc.Viewers(),
	})
}

// StreamStart opens the camera source and starts the capture loop
func (h *Handler) StreamStart(w http.ResponseWriter, r *http.Request) {
	if err := h.cameraSvc.Start(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "failed to start camera stream", logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, "camera unavailable")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeStreamStarted,
		ActorID:   GetSubject(r.Context()),
		Resource:  "camera",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, h.cameraSvc.Status())
}

// StreamStop stops the capture loop and releases the camera source
func (h *Handler) StreamStop(w http.ResponseWriter, r *http.Request) {
	h.cameraSvc.Stop()

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeStreamStopped,
		ActorID:   GetSubject(r.Context()),
		Resource:  "camera",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, h.cameraSvc.Status())
}

// VideoFeed serves the live camera stream as multipart/x-mixed-replace.
// The response stays open until the client disconnects or the capture
// loop stops.
func (h *Handler) VideoFeed(w http.ResponseWriter, r *http.Request) {
	// Browsers hit this endpoint directly via an <img> source, so the
	// stream starts on demand instead of requiring a prior start call.
	if !h.cameraSvc.IsStreaming() {
		if err := h.cameraSvc.Start(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "failed to start camera stream", logger.Error(err))
			respondError(w, http.StatusServiceUnavailable, "camera unavailable")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	frames, unsubscribe := h.cameraSvc.Subscribe()
	defer unsubscribe()

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary("frame"); err != nil {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-frames:
			if !open {
				return
			}

			header := textproto.MIMEHeader{}
			header.Set("Content-Type", "image/"+frame.Format)
			header.Set("Content-Length", strconv.Itoa(len(frame.Data)))

			part, err := mw.CreatePart(header)
			if err != nil {
				return
			}
			if _, err := part.Write(frame.Data); err != nil {
				return
			}
			flusher.Flush()

			if h.meter != nil {
				h.meter.FramesServed.Add(r.Context(), 1)
			}
		}
	}
}

// Snapshot returns the most recent captured frame as a single image
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	frame, err := h.cameraSvc.Snapshot()
	if err != nil {
		switch {
		case errors.Is(err, camera.ErrNotStreaming):
			respondError(w, http.StatusConflict, "camera is not streaming")
		case errors.Is(err, camera.ErrNoFrame):
			respondError(w, http.StatusServiceUnavailable, "no frame captured yet")
		default:
			slog.ErrorContext(r.Context(), "failed to take snapshot", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "snapshot failed")
		}
		return
	}

	slog.DebugContext(r.Context(), "snapshot served",
		logger.Subject(GetSubject(r.Context())),
		logger.FrameFormat(frame.Format),
	)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeSnapshotTaken,
		ActorID:   GetSubject(r.Context()),
		Resource:  "camera",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"format": frame.Format},
	})

	w.Header().Set("Content-Type", "image/"+frame.Format)
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(frame.Data)
}
