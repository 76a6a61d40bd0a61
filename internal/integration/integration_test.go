package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openminutes/openminutes/internal/resilience"
)

var sampleProjection = Projection{
	Title:       "Fix the build",
	Description: "CI has been red since Tuesday",
	Assignee:    "Alice",
	Priority:    "high",
}

func TestNotionCreateTask(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		if r.Header.Get("Notion-Version") == "" {
			t.Error("missing Notion-Version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "page-1", "url": "https://notion.so/page-1"})
	}))
	defer srv.Close()

	n := NewNotion("tok", "db-1", WithNotionBaseURL(srv.URL))
	if !n.Enabled() {
		t.Fatal("client should be enabled")
	}

	res, err := n.CreateTask(context.Background(), sampleProjection)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ExternalID != "page-1" || res.ExternalURL != "https://notion.so/page-1" {
		t.Errorf("result = %+v", res)
	}

	parent := captured["parent"].(map[string]any)
	if parent["database_id"] != "db-1" {
		t.Errorf("parent = %v", parent)
	}
	props := captured["properties"].(map[string]any)
	for _, key := range []string{"Name", "Description", "Assignee", "Priority"} {
		if _, ok := props[key]; !ok {
			t.Errorf("property %q missing", key)
		}
	}
}

func TestClickUpCreateTask(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/list/list-9/task" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "tok" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "cu-1", "url": "https://app.clickup.com/t/cu-1"})
	}))
	defer srv.Close()

	c := NewClickUp("tok", "list-9", WithClickUpBaseURL(srv.URL))
	res, err := c.CreateTask(context.Background(), sampleProjection)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ExternalID != "cu-1" {
		t.Errorf("result = %+v", res)
	}
	if captured["priority"].(float64) != 2 {
		t.Errorf("priority = %v, want 2 for high", captured["priority"])
	}
	desc := captured["description"].(string)
	if desc == "" || !containsAll(desc, "Assignee: Alice") {
		t.Errorf("description = %q", desc)
	}
}

func TestSlackCreateTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["channel"] != "#tasks" {
			t.Errorf("channel = %v", body["channel"])
		}
		text := body["text"].(string)
		if !containsAll(text, "Fix the build", "Alice", "high") {
			t.Errorf("text = %q", text)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "12345.678"})
	}))
	defer srv.Close()

	s := NewSlack("tok", "#tasks", WithSlackBaseURL(srv.URL))
	res, err := s.CreateTask(context.Background(), sampleProjection)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ExternalID != "12345.678" {
		t.Errorf("result = %+v", res)
	}
}

func TestSlackAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	s := NewSlack("tok", "#tasks", WithSlackBaseURL(srv.URL))
	_, err := s.CreateTask(context.Background(), sampleProjection)
	if !errors.Is(err, resilience.ErrPermanent) {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(c.status)
			}))
			defer srv.Close()

			n := NewNotion("tok", "db", WithNotionBaseURL(srv.URL))
			_, err := n.CreateTask(context.Background(), sampleProjection)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, resilience.ErrPermanent); got != c.permanent {
				t.Errorf("permanent = %v, want %v (err: %v)", got, c.permanent, err)
			}
		})
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotion("tok", "db", WithNotionBaseURL(srv.URL))
	for i := 0; i < 5; i++ {
		n.CreateTask(context.Background(), sampleProjection)
	}
	_, err := n.CreateTask(context.Background(), sampleProjection)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want circuit open", err)
	}
}

func TestDisabledClients(t *testing.T) {
	clients := []Client{
		NewNotion("", ""),
		NewClickUp("tok", ""),
		NewSlack("", "#tasks"),
		Disabled{Name: "notion"},
	}
	for _, c := range clients {
		if c.Enabled() {
			t.Errorf("%s reports enabled without full config", c.Platform())
		}
		if _, err := c.CreateTask(context.Background(), sampleProjection); !errors.Is(err, ErrDisabled) {
			t.Errorf("%s err = %v, want ErrDisabled", c.Platform(), err)
		}
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
