// Package app wires application components and startup helpers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/matt-hans/shipagent/internal/adapter/httpserver"
	"github.com/matt-hans/shipagent/internal/config"
	"github.com/matt-hans/shipagent/internal/observability"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with every middleware and route
// the REST/SSE surface exposes (§6): conversation, job lifecycle,
// progress streaming, label downloads, and health.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	if cfg.HTTPWriteTimeout > 0 {
		r.Use(httpserver.TimeoutMiddleware(cfg.HTTPWriteTimeout))
	}
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every mutating/compute endpoint is rate-limited and, if an API key
	// is configured, gated behind it. Read-only endpoints (job/row
	// fetches, label downloads, health) stay outside this group.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		wr.Use(srv.APIKeyGuard())

		wr.Post("/v1/conversations", srv.OpenSession)
		wr.Post("/v1/conversations/{sessionID}/messages", srv.PostMessage)

		wr.Post("/v1/jobs/{jobID}/preview", srv.PreviewJob)
		wr.Post("/v1/jobs/{jobID}/approve", srv.ApproveJob)
		wr.Post("/v1/jobs/{jobID}/confirm", srv.ConfirmJob)
		wr.Post("/v1/jobs/{jobID}/cancel", srv.CancelJob)
	})

	r.Get("/v1/conversations/{sessionID}/events", srv.StreamSession)

	r.Get("/v1/jobs", srv.ListJobs)
	r.Get("/v1/jobs/stats", srv.JobStats)
	r.Get("/v1/jobs/{jobID}", srv.GetJob)
	r.Get("/v1/jobs/{jobID}/rows", srv.ListJobRows)
	r.Get("/v1/jobs/{jobID}/audit", srv.ListJobAudit)
	r.Get("/v1/jobs/{jobID}/events", srv.StreamJobProgress)

	r.Get("/v1/jobs/{jobID}/labels/{rowNumber}", srv.DownloadLabel)
	r.Get("/v1/jobs/{jobID}/labels.zip", srv.DownloadLabelsZip)
	r.Get("/v1/jobs/{jobID}/labels/merged", srv.DownloadLabelsMerged)

	r.Get("/health", srv.Health)
	r.Get("/readyz", srv.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return httpserver.SecurityHeaders(r)
}
