package integration

import (
	"context"
	"fmt"
	"strings"

	"github.com/openminutes/openminutes/internal/resilience"
)

const slackDefaultBaseURL = "https://slack.com"

// Slack posts each task as a message to a channel. It is a notification sink
// rather than a task tracker, but it participates in the same idempotent
// dispatch so a task is announced at most once.
type Slack struct {
	caller
	token   string
	channel string
	baseURL string
}

// SlackOption configures a [Slack] client.
type SlackOption func(*Slack)

// WithSlackBaseURL overrides the API endpoint, for tests.
func WithSlackBaseURL(url string) SlackOption {
	return func(s *Slack) { s.baseURL = url }
}

// NewSlack builds the Slack client. Both token and channel must be set for
// the client to be enabled.
func NewSlack(token, channel string, opts ...SlackOption) *Slack {
	s := &Slack{
		caller:  newCaller("slack"),
		token:   token,
		channel: channel,
		baseURL: slackDefaultBaseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slack) Platform() string { return "slack" }

func (s *Slack) Enabled() bool { return s.token != "" && s.channel != "" }

// CreateTask posts the task as a formatted message. The message timestamp is
// the external id.
func (s *Slack) CreateTask(ctx context.Context, p Projection) (*Result, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: slack", ErrDisabled)
	}

	var b strings.Builder
	fmt.Fprintf(&b, ":clipboard: *New task:* %s\n", p.Title)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n", p.Description)
	}
	if p.Assignee != "" {
		fmt.Fprintf(&b, "*Assignee:* %s\n", p.Assignee)
	}
	if p.Priority != "" {
		fmt.Fprintf(&b, "*Priority:* %s", p.Priority)
	}

	body := map[string]any{
		"channel": s.channel,
		"text":    strings.TrimSpace(b.String()),
	}

	// Slack returns 200 even for failures; the ok flag is the real status.
	var out struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error"`
	}
	err := s.postJSON(ctx, s.baseURL+"/api/chat.postMessage", map[string]string{
		"Authorization": "Bearer " + s.token,
	}, body, &out)
	if err != nil {
		return nil, err
	}
	if !out.OK {
		apiErr := fmt.Errorf("integration: slack: api error %q", out.Error)
		if out.Error == "ratelimited" {
			return nil, apiErr
		}
		return nil, resilience.Permanent(apiErr)
	}
	return &Result{ExternalID: out.TS}, nil
}
