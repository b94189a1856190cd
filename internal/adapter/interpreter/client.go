// Package interpreter is a thin client over a single chat-completion
// endpoint, satisfying the REST/SSE surface's Interpreter port. The
// natural-language interpreter's prompt engineering is an external
// collaborator's concern; this package only dispatches one HTTP call per
// conversational turn and parses its JSON response into the shape the Job
// Coordinator needs.
package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	httpserver "github.com/matt-hans/shipagent/internal/adapter/httpserver"
	"github.com/matt-hans/shipagent/internal/config"
	"github.com/matt-hans/shipagent/internal/domain"
	"github.com/matt-hans/shipagent/internal/observability"
)

// Client calls an OpenAI-compatible /chat/completions endpoint and parses
// its response into an httpserver.InterpretedCommand.
type Client struct {
	hc        *http.Client
	apiKey    string
	baseURL   string
	model     string
	timeout   time.Duration
	maxTokens int
}

// New builds a Client from cfg. An empty InterpreterAPIKey is allowed at
// construction time — Interpret reports a clear error per call rather than
// panicking at startup, since the interpreter is an optional collaborator
// some deployments may run without (e.g. a fixed-filter batch driven
// entirely through direct API calls rather than conversation).
func New(cfg config.Config) *Client {
	return &Client{
		hc:        &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		apiKey:    cfg.InterpreterAPIKey,
		baseURL:   strings.TrimRight(cfg.InterpreterBaseURL, "/"),
		model:     cfg.InterpreterModel,
		timeout:   cfg.InterpreterTimeout,
		maxTokens: cfg.InterpreterMaxTokens,
	}
}

const systemPrompt = `You translate one sentence of a shipping operator's request into strict JSON with this shape:
{"where_clause": string, "params": object, "service_code": string, "warnings": [string]}
where_clause is a SQL WHERE clause fragment over the active data source's columns, using named parameters
(e.g. ":state") bound in params. service_code is a carrier service code if the sentence names one, else "".
warnings lists anything ambiguous the operator should confirm before approval. Respond with only the JSON object.`

// Interpret sends text as one user turn and parses the model's JSON
// response. sessionID is accepted for interface conformance; this
// stateless client does not thread conversation history through it — each
// turn is interpreted as a standalone instruction against the current
// source schema, with refinement handled by the Job Coordinator rather
// than accumulated interpreter-side context.
func (c *Client) Interpret(ctx domain.Context, sessionID, text string) (httpserver.InterpretedCommand, error) {
	if c.apiKey == "" {
		return httpserver.InterpretedCommand{}, fmt.Errorf("%w: interpreter not configured", domain.ErrInvalidArgument)
	}

	lg := observability.LoggerFromContext(ctx)
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.chatJSON(callCtx, text)
	if err != nil {
		lg.Warn("interpreter call failed", "session_id", sessionID, "error", err)
		return httpserver.InterpretedCommand{}, fmt.Errorf("op=interpreter.chat: %w", err)
	}

	var parsed struct {
		WhereClause string         `json:"where_clause"`
		Params      map[string]any `json:"params"`
		ServiceCode string         `json:"service_code"`
		Warnings    []string       `json:"warnings"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return httpserver.InterpretedCommand{}, fmt.Errorf("op=interpreter.parse: %w", err)
	}
	return httpserver.InterpretedCommand{
		WhereClause: parsed.WhereClause,
		Params:      parsed.Params,
		ServiceCode: parsed.ServiceCode,
		Warnings:    parsed.Warnings,
	}, nil
}

func (c *Client) chatJSON(ctx context.Context, userPrompt string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"model":       c.model,
		"temperature": 0.1,
		"max_tokens":  c.maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	})

	var content string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("interpreter endpoint %d: %s", resp.StatusCode, string(b))
		}
		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("interpreter endpoint %d: %s", resp.StatusCode, string(b)))
		}

		var out struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("op=interpreter.decode: %w", err))
		}
		if len(out.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("interpreter returned no choices"))
		}
		content = out.Choices[0].Message.Content
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = c.timeout
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(expo, ctx), 2)); err != nil {
		return "", err
	}
	return content, nil
}

var _ httpserver.Interpreter = (*Client)(nil)
