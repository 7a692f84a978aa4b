package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter streams server-sent events to one client.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event streaming. Fails when the
// underlying writer cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &sseWriter{w: w, flusher: flusher}, nil
}

// sendDelta writes one content delta event and flushes it immediately.
func (s *sseWriter) sendDelta(content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sendStreamError writes a terminal error event. It replaces the done
// sentinel when the upstream stream is cut off mid-completion.
func (s *sseWriter) sendStreamError(message string) error {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sendDone writes the terminating sentinel event.
func (s *sseWriter) sendDone() error {
	if _, err := fmt.Fprint(s.w, "event: done\ndata: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
