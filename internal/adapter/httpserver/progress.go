package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StreamJobProgress streams one job's events as SSE: row starts, rates,
// ships, failures, skips, and batch-progress snapshots, ending with the
// terminal job.completed or job.failed event.
func (s *Server) StreamJobProgress(w http.ResponseWriter, r *http.Request) {
	streamJobEvents(w, r, s.Bus, chi.URLParam(r, "jobID"))
}
