package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter wraps a ResponseWriter for event-stream framing. Callers must
// confirm Flusher support before starting a stream; http.ResponseWriter
// implementations that don't support it (rare outside tests) get a 500
// instead of silently buffering the whole stream.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

// send writes one SSE frame and flushes immediately; progress and
// conversation streams both need sub-second delivery, not buffering.
func (s *sseWriter) send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
