package httpserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/matt-hans/shipagent/internal/domain"
)

// APIKeyGuard rejects requests missing or presenting the wrong X-Api-Key
// header when cfg.APIKey is set. A zero-value APIKey disables the gate
// entirely, per §6's "optional" framing — ShipAgent has no multi-user
// session concept (Non-goal: multi-tenant isolation), just a single
// shared process-wide key.
func (s *Server) APIKeyGuard() func(http.Handler) http.Handler {
	if s.Cfg.APIKey == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	want := []byte(s.Cfg.APIKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("X-Api-Key"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, r, domain.ErrUnauthorized, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
