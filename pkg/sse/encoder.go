// Package sse frames event payloads as a Server-Sent Events stream.
//
// Each frame is one "event:" line naming the kind, one "data:" line per
// source line of the JSON payload (multi-line payloads keep their framing),
// and a terminating blank line. The encoder flushes after every frame so
// clients receive events without waiting for the connection to close.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/pkg/events"
)

// Encoder writes SSE frames to a long-lived HTTP response.
// It owns no state beyond the response handle.
type Encoder struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewEncoder prepares w for event streaming and returns the encoder.
// It sets the SSE response headers; the status line is committed by the
// first write (or by an explicit WriteHeader from the caller).
func NewEncoder(w http.ResponseWriter) *Encoder {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // prevents nginx from buffering the stream

	return &Encoder{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent marshals p and writes one complete frame, then flushes.
func (e *Encoder) WriteEvent(p events.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sse: marshal %s payload: %w", p.Kind(), err)
	}

	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(string(p.Kind()))
	b.WriteByte('\n')
	// One data: line per source line so payloads containing newlines
	// survive the wire format.
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := fmt.Fprint(e.w, b.String()); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	return e.flush()
}

// WriteHeartbeat writes a comment frame that keeps idle connections alive.
// Clients ignore comment lines per the SSE specification.
func (e *Encoder) WriteHeartbeat() error {
	if _, err := fmt.Fprint(e.w, ": heartbeat\n\n"); err != nil {
		return fmt.Errorf("sse: write heartbeat: %w", err)
	}
	return e.flush()
}

func (e *Encoder) flush() error {
	if err := e.rc.Flush(); err != nil && err != http.ErrNotSupported {
		return fmt.Errorf("sse: flush: %w", err)
	}
	return nil
}
