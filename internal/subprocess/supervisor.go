// Package subprocess spawns and supervises the carrier and data-source
// external services. Each is a separate OS process speaking the Model
// Context Protocol over stdio; CallTool is this package's sole RPC
// primitive, with every carrier/data operation modeled as a named tool.
package subprocess

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	shiperrors "github.com/matt-hans/shipagent/internal/errors"
)

// Supervisor owns one subprocess's lifecycle: start, readiness, call
// dispatch, and graceful shutdown with a single reconnect attempt.
type Supervisor struct {
	name    string
	command string
	args    []string
	env     []string

	startTimeout    time.Duration
	shutdownTimeout time.Duration

	cli      *client.Client
	inFlight int32
	ready    atomic.Bool
}

// Config names the subprocess command, its arguments, and the environment
// variables passed to it (credentials arrive this way only — never on the
// command line, per the environment-only credential rule).
type Config struct {
	Name            string
	Command         string
	Args            []string
	Env             []string
	StartTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// New constructs a Supervisor without starting the subprocess. Call Start
// to spawn it.
func New(cfg Config) *Supervisor {
	st := cfg.StartTimeout
	if st <= 0 {
		st = 10 * time.Second
	}
	sd := cfg.ShutdownTimeout
	if sd <= 0 {
		sd = 5 * time.Second
	}
	return &Supervisor{
		name: cfg.Name, command: cfg.Command, args: cfg.Args, env: cfg.Env,
		startTimeout: st, shutdownTimeout: sd,
	}
}

// Start spawns the subprocess and performs the MCP initialize handshake.
func (s *Supervisor) Start(ctx context.Context) error {
	c, err := client.NewStdioMCPClient(s.command, s.env, s.args...)
	if err != nil {
		return fmt.Errorf("op=subprocess.start.spawn name=%s: %w", s.name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "shipagent", Version: "1.0.0"}

	if _, err := c.Initialize(initCtx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("op=subprocess.start.initialize name=%s: %w", s.name, err)
	}

	s.cli = c
	s.ready.Store(true)
	slog.Info("subprocess started", slog.String("name", s.name), slog.String("command", s.command))
	return nil
}

// Ready reports whether the subprocess completed its initialize handshake
// and has not since been torn down. Used by the readiness endpoint.
func (s *Supervisor) Ready() bool { return s.ready.Load() }

// CallTool invokes one named tool and returns its structured result. It is
// the only entry point the Carrier Client and Data Gateway use to reach
// their respective subprocess.
func (s *Supervisor) CallTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if !s.ready.Load() || s.cli == nil {
		return nil, shiperrors.New(shiperrors.ECodeTransportFailure, fmt.Sprintf("%s subprocess not ready", s.name), nil)
	}

	atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := s.cli.CallTool(ctx, req)
	if err != nil {
		if s.isCleanEOF(err) {
			if rerr := s.reconnect(ctx); rerr == nil {
				res, err = s.cli.CallTool(ctx, req)
			}
		}
		if err != nil {
			return nil, shiperrors.New(shiperrors.ECodeTransportFailure,
				fmt.Sprintf("%s subprocess call to %s failed: %v", s.name, tool, err), err)
		}
	}
	if res.IsError {
		return nil, shiperrors.New(shiperrors.ECodeTransportFailure,
			fmt.Sprintf("%s subprocess tool %s reported an error", s.name, tool), nil)
	}
	return decodeResult(res), nil
}

// reconnect is attempted exactly once, and only when there are no calls
// in flight — retrying a subprocess connection while another goroutine's
// CallTool is mid-request would race the new client against stale state.
func (s *Supervisor) reconnect(ctx context.Context) error {
	if atomic.LoadInt32(&s.inFlight) > 1 {
		return fmt.Errorf("op=subprocess.reconnect name=%s: calls in flight", s.name)
	}
	s.ready.Store(false)
	if s.cli != nil {
		_ = s.cli.Close()
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("op=subprocess.reconnect name=%s: %w", s.name, err)
	}
	slog.Warn("subprocess reconnected after clean EOF", slog.String("name", s.name))
	return nil
}

func (s *Supervisor) isCleanEOF(err error) bool {
	return err != nil && (err.Error() == "EOF" || fmt.Sprintf("%v", err) == "io: read/write on closed pipe")
}

// Shutdown closes the subprocess client and waits up to ShutdownTimeout
// for the close to finish; on timeout it logs and returns an error
// without killing the process.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.cli == nil {
		return nil
	}
	s.ready.Store(false)
	done := make(chan error, 1)
	go func() { done <- s.cli.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("op=subprocess.shutdown name=%s: %w", s.name, err)
		}
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Error("subprocess did not shut down in time", slog.String("name", s.name))
		return fmt.Errorf("op=subprocess.shutdown name=%s: timed out after %s", s.name, s.shutdownTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeResult(res *mcp.CallToolResult) map[string]any {
	out := map[string]any{}
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			out["text"] = tc.Text
		}
	}
	if res.StructuredContent != nil {
		if m, ok := res.StructuredContent.(map[string]any); ok {
			for k, v := range m {
				out[k] = v
			}
		}
	}
	return out
}
