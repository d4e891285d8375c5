// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// SSE Writer
// =============================================================================

// sseStream writes Server-Sent Events to an HTTP response.
//
// # Description
//
// Wraps an http.ResponseWriter to emit SSE-formatted frames. Payloads
// are written as received; the writer does not re-serialize them.
// Each frame is flushed immediately:
//
//	event: {type}
//	data: {json}
//
// # Thread Safety
//
// Safe for concurrent use. The stream loop and the heartbeat ticker
// may write from different goroutines.
type sseStream struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// newSSEStream wraps w for SSE writing.
//
// # Outputs
//
//   - *sseStream: ready to write frames.
//   - error: non-nil if w does not support http.Flusher.
func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseStream{writer: w, flusher: flusher}, nil
}

// WriteRaw writes one SSE frame with the given event name and payload.
// An empty event name omits the event line.
func (s *sseStream) WriteRaw(event string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event != "" {
		if _, err := fmt.Fprintf(s.writer, "event: %s\n", event); err != nil {
			return fmt.Errorf("write event line: %w", err)
		}
	}
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write data line: %w", err)
	}

	s.flusher.Flush()
	return nil
}

// WriteKeepAlive sends an SSE comment to keep the connection alive.
//
// Comments are ignored by clients but reset load balancer timeout
// counters (AWS ALB, Nginx default 60s).
func (s *sseStream) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	s.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
// Must be called before any writes to the response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
