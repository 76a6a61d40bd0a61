package integration

import (
	"context"
	"fmt"
)

const (
	notionDefaultBaseURL = "https://api.notion.com"
	notionVersion        = "2022-06-28"
)

// Notion creates pages in a Notion database, one page per task.
type Notion struct {
	caller
	token      string
	databaseID string
	baseURL    string
}

// NotionOption configures a [Notion] client.
type NotionOption func(*Notion)

// WithNotionBaseURL overrides the API endpoint, for tests.
func WithNotionBaseURL(url string) NotionOption {
	return func(n *Notion) { n.baseURL = url }
}

// NewNotion builds the Notion client. Both token and databaseID must be set
// for the client to be enabled.
func NewNotion(token, databaseID string, opts ...NotionOption) *Notion {
	n := &Notion{
		caller:     newCaller("notion"),
		token:      token,
		databaseID: databaseID,
		baseURL:    notionDefaultBaseURL,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notion) Platform() string { return "notion" }

func (n *Notion) Enabled() bool { return n.token != "" && n.databaseID != "" }

// notionText is the rich_text fragment shape used in page properties.
type notionText struct {
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
}

func textFragment(s string) []notionText {
	var t notionText
	t.Text.Content = s
	return []notionText{t}
}

// CreateTask creates a database page with the projection mapped onto the
// conventional Name/Description/Assignee/Priority properties.
func (n *Notion) CreateTask(ctx context.Context, p Projection) (*Result, error) {
	if !n.Enabled() {
		return nil, fmt.Errorf("%w: notion", ErrDisabled)
	}

	properties := map[string]any{
		"Name": map[string]any{"title": textFragment(p.Title)},
	}
	if p.Description != "" {
		properties["Description"] = map[string]any{"rich_text": textFragment(p.Description)}
	}
	if p.Assignee != "" {
		properties["Assignee"] = map[string]any{"rich_text": textFragment(p.Assignee)}
	}
	if p.Priority != "" {
		properties["Priority"] = map[string]any{"select": map[string]string{"name": p.Priority}}
	}

	body := map[string]any{
		"parent":     map[string]string{"database_id": n.databaseID},
		"properties": properties,
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	err := n.postJSON(ctx, n.baseURL+"/v1/pages", map[string]string{
		"Authorization":  "Bearer " + n.token,
		"Notion-Version": notionVersion,
	}, body, &out)
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: out.ID, ExternalURL: out.URL}, nil
}
