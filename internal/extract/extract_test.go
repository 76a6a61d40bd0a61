package extract

import (
	"context"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/openminutes/openminutes/internal/ai"
	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/resilience"
	"github.com/openminutes/openminutes/pkg/provider/llm"
	"github.com/openminutes/openminutes/pkg/provider/llm/mock"
	"github.com/openminutes/openminutes/pkg/types"
)

func newTestExtractor(t *testing.T, p llm.Provider) *Extractor {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	var client *ai.Client
	if p == nil {
		client = ai.NewWithProvider(nil, ai.WithMetrics(m))
	} else {
		client = ai.NewWithProvider(p, ai.WithMetrics(m),
			ai.WithRetry(resilience.RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond}))
	}
	return New(client, config.Default().Pipeline, WithMetrics(m))
}

func TestFlattenTranscript(t *testing.T) {
	got := FlattenTranscript([]types.TranscriptChunk{
		{Text: "hello everyone", Speaker: "Alice"},
		{Text: "   "},
		{Text: "hi"},
	})
	want := "Alice: hello everyone\nhi"
	if got != want {
		t.Errorf("flatten = %q, want %q", got, want)
	}
}

func TestSplitTranscript(t *testing.T) {
	t.Run("short passes through", func(t *testing.T) {
		chunks := splitTranscript("short text", 5000, 30000, 1000)
		if len(chunks) != 1 || chunks[0] != "short text" {
			t.Errorf("chunks = %v", chunks)
		}
	})

	t.Run("long text covers everything", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 200; i++ {
			b.WriteString("line of meeting discussion\n")
		}
		text := b.String()

		chunks := splitTranscript(text, 100, 1000, 100)
		if len(chunks) < 2 {
			t.Fatalf("chunks = %d, want several", len(chunks))
		}
		for i, c := range chunks {
			if len(c) > 1000 {
				t.Errorf("chunk %d length %d exceeds max", i, len(c))
			}
		}
		if !strings.HasSuffix(strings.TrimSpace(chunks[len(chunks)-1]), "line of meeting discussion") {
			t.Error("tail of transcript not covered")
		}
	})
}

func TestIdentifySpeakersEmptyInput(t *testing.T) {
	e := newTestExtractor(t, &mock.Provider{})
	res, err := e.IdentifySpeakers(context.Background(), "   \n ")
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if res.Method != MethodEmptyInput || len(res.Speakers) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestIdentifySpeakersExplicitLabels(t *testing.T) {
	p := &mock.Provider{}
	e := newTestExtractor(t, p)

	transcript := "Alice: let's start with the roadmap\nBob: sounds good to me\nAlice: first item is billing"
	res, err := e.IdentifySpeakers(context.Background(), transcript)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if res.Method != MethodExplicitLabels {
		t.Fatalf("method = %q", res.Method)
	}
	if len(res.Speakers) != 2 {
		t.Fatalf("speakers = %d, want 2", len(res.Speakers))
	}
	if res.Speakers[0].Name != "Alice" || len(res.Speakers[0].Segments) != 2 {
		t.Errorf("alice = %+v", res.Speakers[0])
	}
	if res.Speakers[0].Confidence < 0.9 {
		t.Errorf("confidence = %v, want >= 0.9", res.Speakers[0].Confidence)
	}
	if len(p.Calls()) != 0 {
		t.Error("explicit labels should not call the model")
	}
}

func TestIdentifySpeakersAIInference(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"speakers": [{"name": "Dana", "segments": ["we should ship it", "next week works"], "characteristics": "decisive", "confidence": 0.8}]}`,
	}}
	e := newTestExtractor(t, p)

	res, err := e.IdentifySpeakers(context.Background(), "we should ship it. next week works. agreed.")
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if res.Method != MethodAIInference {
		t.Fatalf("method = %q", res.Method)
	}
	s := res.Speakers[0]
	if s.Name != "Dana" || s.ID != "speaker_1" || s.TotalWords != 7 {
		t.Errorf("speaker = %+v", s)
	}
}

func TestIdentifySpeakersFallback(t *testing.T) {
	e := newTestExtractor(t, nil) // no provider configured

	res, err := e.IdentifySpeakers(context.Background(), "some unlabelled discussion text")
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if res.Method != MethodFallback {
		t.Fatalf("method = %q", res.Method)
	}
	if len(res.Speakers) != 1 || res.Speakers[0].Name != "Unknown Speaker" {
		t.Errorf("speakers = %+v", res.Speakers)
	}
	if res.Speakers[0].Confidence != fallbackConfidence {
		t.Errorf("confidence = %v, want %v", res.Speakers[0].Confidence, fallbackConfidence)
	}
}

func TestSummarizeSinglePass(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"overview": "Planning sync.", "key_outcomes": "Date fixed.", "decisions": ["Ship Friday"], "participants": ["Alice"], "next_steps": ["Write changelog"]}`,
	}}
	e := newTestExtractor(t, p)

	res, err := e.Summarize(context.Background(), "Alice: we ship Friday")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if res.FallbackUsed || res.Chunked {
		t.Errorf("result flags = %+v", res)
	}
	if res.Document.Overview != "Planning sync." || len(res.Document.Decisions) != 1 {
		t.Errorf("document = %+v", res.Document)
	}
}

func TestSummarizeEmptyTranscript(t *testing.T) {
	e := newTestExtractor(t, &mock.Provider{})
	res, err := e.Summarize(context.Background(), "")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	doc := res.Document
	if doc.Overview != "" || doc.Decisions == nil || doc.Participants == nil || doc.NextSteps == nil {
		t.Errorf("document = %+v", doc)
	}
}

func TestSummarizeChunked(t *testing.T) {
	partial := `{"overview": "Part.", "key_outcomes": "", "decisions": ["D1"], "participants": ["Alice"], "next_steps": []}`
	consolidated := `{"overview": "Whole meeting.", "key_outcomes": "Done.", "decisions": ["D1"], "participants": ["Alice"], "next_steps": []}`
	p := &mock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: partial}, {Content: partial}, {Content: partial},
		},
		CompleteResponse: &llm.CompletionResponse{Content: consolidated},
	}

	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	client := ai.NewWithProvider(p, ai.WithMetrics(m),
		ai.WithRetry(resilience.RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond}))
	e := New(client, config.PipelineConfig{ChunkThreshold: 100, MaxChunk: 300, ChunkOverlap: 30}, WithMetrics(m))

	res, err := e.Summarize(context.Background(), strings.Repeat("the team discussed the migration plan\n", 20))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !res.Chunked {
		t.Error("chunked path not taken")
	}
	if res.Document.Overview != "Whole meeting." {
		t.Errorf("overview = %q", res.Document.Overview)
	}
	if calls := len(p.Calls()); calls < 3 {
		t.Errorf("model calls = %d, want per-chunk passes plus consolidation", calls)
	}
}

func TestMergeSummaries(t *testing.T) {
	a := &types.SummaryDocument{Overview: "First.", Decisions: []string{"D1"}, Participants: []string{"Alice"}, NextSteps: []string{"S1"}}
	b := &types.SummaryDocument{Overview: "Second.", Decisions: []string{"D1", "D2"}, Participants: []string{"Alice", "Bob"}, NextSteps: []string{}}

	got := mergeSummaries([]*types.SummaryDocument{a, b})
	if got.Overview != "First. Second." {
		t.Errorf("overview = %q", got.Overview)
	}
	if len(got.Decisions) != 2 || len(got.Participants) != 2 || len(got.NextSteps) != 1 {
		t.Errorf("merged = %+v", got)
	}
}

func TestExtractTasksTwoPass(t *testing.T) {
	explicit := `{"tasks": [
		{"title": "Fix the build", "assignee": "Alice", "priority": "high", "confidence": 0.9, "source_segment": "Alice will fix the build"},
		{"title": "Send the invoice", "assignee": "Bob", "priority": "medium", "confidence": 0.85}
	]}`
	implicit := `{"tasks": [
		{"title": "fix the build!", "description": "CI is red", "confidence": 0.6},
		{"title": "Prepare launch notes", "confidence": 0.5, "context": "launch was mentioned as urgent"}
	]}`
	p := &mock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{Content: explicit}, {Content: implicit},
	}}
	e := newTestExtractor(t, p)

	res, err := e.ExtractTasks(context.Background(), "Alice: I'll fix the build. Bob: invoice goes out today.")
	if err != nil {
		t.Fatalf("extract tasks: %v", err)
	}
	if res.FallbackUsed {
		t.Error("fallback flagged unexpectedly")
	}
	if len(res.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3 after near-dup merge: %+v", len(res.Tasks), res.Tasks)
	}

	byTitle := map[string]types.Task{}
	for _, task := range res.Tasks {
		byTitle[task.Title] = task
	}

	build := byTitle["Fix the build"]
	if build.ExtractionMethod != types.MethodExplicit {
		t.Errorf("merged dup method = %q, want explicit to win", build.ExtractionMethod)
	}
	if build.Description != "CI is red" {
		t.Errorf("description = %q, want filled from duplicate", build.Description)
	}
	if build.AIConfidenceScore != 0.9 {
		t.Errorf("confidence = %v, want higher of the pair", build.AIConfidenceScore)
	}

	for i, task := range res.Tasks {
		if task.AITaskID == "" {
			t.Errorf("task %d has no ai_task_id", i)
		}
		if task.Status != types.StatusPending {
			t.Errorf("task %d status = %q", i, task.Status)
		}
		if task.AIExtractedAt.IsZero() {
			t.Errorf("task %d missing extraction time", i)
		}
	}

	t.Run("priority cues applied to defaulted tasks", func(t *testing.T) {
		launch := byTitle["Prepare launch notes"]
		if launch.Priority != types.PriorityUrgent {
			t.Errorf("priority = %q, want urgent from cue", launch.Priority)
		}
	})
}

func TestExtractTasksEmptyAndFallback(t *testing.T) {
	t.Run("empty transcript", func(t *testing.T) {
		e := newTestExtractor(t, &mock.Provider{})
		res, err := e.ExtractTasks(context.Background(), "")
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if len(res.Tasks) != 0 || res.FallbackUsed {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("no provider degrades to empty", func(t *testing.T) {
		e := newTestExtractor(t, nil)
		res, err := e.ExtractTasks(context.Background(), "some discussion")
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if !res.FallbackUsed || len(res.Tasks) != 0 {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestNormalizeTitle(t *testing.T) {
	if got := normalizeTitle("  Fix, the BUILD!! "); got != "fix the build" {
		t.Errorf("normalizeTitle = %q", got)
	}
}

func TestApplyPriorityCues(t *testing.T) {
	cases := []struct {
		name string
		task types.Task
		want types.TaskPriority
	}{
		{"model priority stands", types.Task{Priority: types.PriorityMedium, Context: "urgent"}, types.PriorityMedium},
		{"urgent cue", types.Task{Title: "Handle outage ASAP"}, types.PriorityUrgent},
		{"high cue", types.Task{Context: "this is important"}, types.PriorityHigh},
		{"no cue defaults low", types.Task{Title: "Tidy the wiki"}, types.PriorityLow},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := applyPriorityCues(c.task); got != c.want {
				t.Errorf("priority = %q, want %q", got, c.want)
			}
		})
	}
}
