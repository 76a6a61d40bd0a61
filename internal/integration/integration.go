// Package integration dispatches extracted tasks to external task platforms:
// Notion, ClickUp, and Slack. Every client receives only the fixed outbound
// projection of a task, never the full record. Clients are safe for
// concurrent use; each carries its own circuit breaker so one failing
// platform cannot stall the others.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openminutes/openminutes/internal/resilience"
)

// ErrDisabled is returned by clients whose platform is not configured.
var ErrDisabled = errors.New("integration: platform not configured")

// requestTimeout bounds one outbound API call.
const requestTimeout = 30 * time.Second

// Projection is the fixed subset of a task that leaves the system. Adding a
// field here widens the outbound surface for every platform at once, which
// is the point: there is exactly one place to audit.
type Projection struct {
	Title       string
	Description string
	Assignee    string
	Priority    string
}

// Result identifies the task created on the external platform.
type Result struct {
	ExternalID  string
	ExternalURL string
}

// Client creates tasks on one external platform.
type Client interface {
	// Platform returns the stable platform key ("notion", "clickup", "slack").
	Platform() string

	// Enabled reports whether the platform is configured for dispatch.
	Enabled() bool

	// CreateTask creates one task from the projection. Errors from
	// non-retryable API responses are marked permanent.
	CreateTask(ctx context.Context, p Projection) (*Result, error)
}

// Disabled is a no-op [Client] for unconfigured platforms.
type Disabled struct {
	Name string
}

func (d Disabled) Platform() string { return d.Name }
func (d Disabled) Enabled() bool    { return false }
func (d Disabled) CreateTask(context.Context, Projection) (*Result, error) {
	return nil, fmt.Errorf("%w: %s", ErrDisabled, d.Name)
}

// caller is the shared HTTP plumbing for all platform clients: one HTTP
// client, one breaker, and uniform transient/permanent classification.
type caller struct {
	platform string
	hc       *http.Client
	breaker  *resilience.CircuitBreaker
}

func newCaller(platform string) caller {
	return caller{
		platform: platform,
		hc:       &http.Client{Timeout: requestTimeout},
		breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: platform}),
	}
}

// postJSON sends body as JSON and decodes the response into out. A 4xx
// response other than 429 is a permanent error; 429 and 5xx stay retryable.
func (c *caller) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("integration: %s: marshal request: %w", c.platform, err))
	}

	return c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("integration: %s: build request: %w", c.platform, err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("integration: %s: %w", c.platform, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("integration: %s: read response: %w", c.platform, err)
		}

		if resp.StatusCode >= 400 {
			apiErr := fmt.Errorf("integration: %s: status %d: %s", c.platform, resp.StatusCode, firstBytes(raw, 200))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return apiErr
			}
			return resilience.Permanent(apiErr)
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return resilience.Permanent(fmt.Errorf("integration: %s: decode response: %w", c.platform, err))
			}
		}
		return nil
	})
}

func firstBytes(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
