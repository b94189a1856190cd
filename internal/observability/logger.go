// Package observability sets up structured logging, OTEL tracing, and
// Prometheus metrics, and carries a request/job-scoped logger through
// context so every layer's log lines correlate back to one conversation
// turn or one batch job without threading an explicit parameter everywhere.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/matt-hans/shipagent/internal/config"
)

// SetupLogger configures a JSON slog logger tagged with the service name
// and environment. Dev gets debug level; everything else gets info.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}

type loggerContextKey struct{}
type requestIDContextKey struct{}
type jobIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to ctx.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns ctx's logger, or the default slog logger if none
// was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if lg, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && lg != nil {
		return lg
	}
	return slog.Default()
}

// ContextWithRequestID stores the originating conversation/HTTP request's
// ID so background work (the Batch Engine's detached Execute goroutine,
// the crash-recovery scan) can tag its logs back to the request that
// started it, when one exists.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns ctx's request ID, or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return id
	}
	return ""
}

// ContextWithJobID stores the batch job a call is acting on, so every log
// line emitted while shipping a row or running a crash-recovery resume
// carries the job ID without every function signature needing one.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	if ctx == nil || jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDContextKey{}, jobID)
}

// JobIDFromContext returns ctx's job ID, or "" if none was set.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(jobIDContextKey{}).(string); ok {
		return id
	}
	return ""
}
