package httpserver

import "net/http"

// Health is the liveness probe: it reports healthy as soon as the process
// can handle HTTP at all, independent of subprocess state.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is the readiness probe: it fails if the data-source subprocess,
// the carrier subprocess, or the state store is not ready, per §6.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]ReadinessCheck{
		"datasource": s.DataSourceReady,
		"carrier":    s.CarrierReady,
		"store":      s.StoreReady,
	}
	result := make(map[string]string, len(checks))
	ready := true
	for name, check := range checks {
		if check == nil {
			result[name] = "skipped"
			continue
		}
		if err := check(r.Context()); err != nil {
			result[name] = err.Error()
			ready = false
			continue
		}
		result[name] = "ok"
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": ready, "checks": result})
}
