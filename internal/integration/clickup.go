package integration

import (
	"context"
	"fmt"
)

const clickupDefaultBaseURL = "https://api.clickup.com"

// clickupPriority maps our priority names onto ClickUp's numeric scale
// (1 = urgent .. 4 = low).
var clickupPriority = map[string]int{
	"urgent": 1,
	"high":   2,
	"medium": 3,
	"low":    4,
}

// ClickUp creates tasks in a ClickUp list.
type ClickUp struct {
	caller
	token   string
	listID  string
	baseURL string
}

// ClickUpOption configures a [ClickUp] client.
type ClickUpOption func(*ClickUp)

// WithClickUpBaseURL overrides the API endpoint, for tests.
func WithClickUpBaseURL(url string) ClickUpOption {
	return func(c *ClickUp) { c.baseURL = url }
}

// NewClickUp builds the ClickUp client. Both token and listID must be set for
// the client to be enabled.
func NewClickUp(token, listID string, opts ...ClickUpOption) *ClickUp {
	c := &ClickUp{
		caller:  newCaller("clickup"),
		token:   token,
		listID:  listID,
		baseURL: clickupDefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClickUp) Platform() string { return "clickup" }

func (c *ClickUp) Enabled() bool { return c.token != "" && c.listID != "" }

// CreateTask creates one list task. ClickUp assignees require workspace user
// ids we do not have, so the assignee rides in the description instead.
func (c *ClickUp) CreateTask(ctx context.Context, p Projection) (*Result, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: clickup", ErrDisabled)
	}

	description := p.Description
	if p.Assignee != "" {
		if description != "" {
			description += "\n\n"
		}
		description += "Assignee: " + p.Assignee
	}

	body := map[string]any{
		"name":        p.Title,
		"description": description,
	}
	if prio, ok := clickupPriority[p.Priority]; ok {
		body["priority"] = prio
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	err := c.postJSON(ctx, fmt.Sprintf("%s/api/v2/list/%s/task", c.baseURL, c.listID), map[string]string{
		"Authorization": c.token,
	}, body, &out)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: out.ID, ExternalURL: out.URL}, nil
}
