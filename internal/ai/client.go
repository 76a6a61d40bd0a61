// Package ai wraps the configured LLM provider with the behaviour the
// extraction pipeline needs: per-call timeouts, bounded retries, a circuit
// breaker, JSON-output prompting, and a fallback mode that keeps the server
// fully functional when no provider is configured.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/resilience"
	"github.com/openminutes/openminutes/pkg/provider/llm"
	"github.com/openminutes/openminutes/pkg/provider/llm/anyllm"
)

// ErrNoFallback is returned when a completion fails and the request carries
// no fallback payload.
var ErrNoFallback = errors.New("ai: completion failed and no fallback provided")

// jsonInstruction is appended to the system prompt when JSON mode is on.
const jsonInstruction = "\n\nRespond with a single valid JSON object and nothing else. No prose, no markdown fences."

// Request is one extraction-layer completion.
type Request struct {
	// System is the system prompt. JSON-mode instructions are appended here.
	System string

	// User is the user-role message body.
	User string

	// Fallback, when non-nil, is returned verbatim as the response content if
	// the provider is absent or every attempt fails. Callers supply a
	// schema-valid empty envelope so downstream parsing never branches.
	Fallback json.RawMessage

	// Temperature and MaxTokens pass through to the provider; zero means
	// provider default.
	Temperature float64
	MaxTokens   int
}

// Response is the completion result.
type Response struct {
	// Content is the response text. In JSON mode it is the extracted JSON
	// document, stripped of any surrounding prose or fences.
	Content string

	// FallbackUsed is true when Content is the request's fallback payload
	// rather than model output.
	FallbackUsed bool

	Usage llm.Usage
}

// Client is the extraction pipeline's single entry point to the LLM.
// A nil provider means fallback mode: every call returns its fallback
// payload. Safe for concurrent use.
type Client struct {
	provider llm.Provider
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	timeout  time.Duration
	retry    resilience.RetryConfig
	jsonMode bool
}

// Option configures a [Client].
type Option func(*Client)

// WithMetrics overrides the metrics sink, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRetry overrides the retry schedule.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// New builds the client from config. Provider "none" (or empty) selects
// fallback mode without error; a misconfigured real provider is an error.
func New(cfg config.LLMConfig, opts ...Option) (*Client, error) {
	c := &Client{
		metrics:  observe.DefaultMetrics(),
		timeout:  cfg.Timeout,
		retry:    resilience.RetryConfig{MaxRetries: cfg.MaxRetries},
		jsonMode: cfg.JSONModeEnabled(),
	}
	if c.timeout <= 0 {
		c.timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "", "none":
		slog.Warn("llm provider not configured, extraction runs in fallback mode")
	default:
		var libOpts []anyllmlib.Option
		if cfg.APIKey != "" {
			libOpts = append(libOpts, anyllmlib.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			libOpts = append(libOpts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		p, err := anyllm.New(cfg.Provider, cfg.Model, libOpts...)
		if err != nil {
			return nil, fmt.Errorf("ai: configure provider: %w", err)
		}
		c.provider = p
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm-" + p.Name()})
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewWithProvider builds a client around an existing provider. Used by tests
// and by callers that assemble providers themselves.
func NewWithProvider(p llm.Provider, opts ...Option) *Client {
	c := &Client{
		provider: p,
		metrics:  observe.DefaultMetrics(),
		timeout:  60 * time.Second,
		jsonMode: true,
	}
	if p != nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm-" + p.Name()})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a real provider is configured.
func (c *Client) Enabled() bool { return c.provider != nil }

// Complete runs one completion. Failures degrade to the request's fallback
// payload when one is provided; otherwise the last error is returned.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.provider == nil {
		return c.fallback(req, nil)
	}

	system := req.System
	if c.jsonMode {
		system += jsonInstruction
	}

	var resp *llm.CompletionResponse
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			var err error
			resp, err = c.provider.Complete(callCtx, llm.CompletionRequest{
				SystemPrompt: system,
				Messages:     []llm.Message{{Role: "user", Content: req.User}},
				Temperature:  req.Temperature,
				MaxTokens:    req.MaxTokens,
			})
			return err
		})
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", c.provider.Name()),
		attribute.String("status", status),
	))

	if err != nil {
		slog.Error("llm completion failed",
			"provider", c.provider.Name(),
			"error", err,
		)
		return c.fallback(req, err)
	}

	content := resp.Content
	if c.jsonMode {
		extracted, ok := ExtractJSON(content)
		if !ok {
			slog.Warn("llm response carried no json document", "provider", c.provider.Name())
			return c.fallback(req, fmt.Errorf("ai: response is not json"))
		}
		content = extracted
	}

	return &Response{Content: content, Usage: resp.Usage}, nil
}

func (c *Client) fallback(req Request, cause error) (*Response, error) {
	if req.Fallback == nil {
		if cause == nil {
			cause = ErrNoFallback
		}
		return nil, fmt.Errorf("ai: complete: %w", cause)
	}
	return &Response{Content: string(req.Fallback), FallbackUsed: true}, nil
}
