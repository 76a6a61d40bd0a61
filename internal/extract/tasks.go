package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openminutes/openminutes/internal/ai"
	"github.com/openminutes/openminutes/pkg/types"
)

// nearDupDistance is the maximum Damerau-Levenshtein distance between two
// normalised titles that still counts as the same task.
const nearDupDistance = 2

// TaskResult carries extracted tasks plus how they were produced.
type TaskResult struct {
	Tasks        []types.Task `json:"tasks"`
	FallbackUsed bool         `json:"fallback_used"`
}

// taskEnvelope is the model's response shape for both extraction passes.
type taskEnvelope struct {
	Tasks []struct {
		Title          string   `json:"title"`
		Description    string   `json:"description"`
		Assignee       string   `json:"assignee"`
		DueDate        string   `json:"due_date"`
		Priority       string   `json:"priority"`
		Category       string   `json:"category"`
		BusinessImpact string   `json:"business_impact"`
		Dependencies   []string `json:"dependencies"`
		MentionedBy    string   `json:"mentioned_by"`
		Context        string   `json:"context"`
		Confidence     float64  `json:"confidence"`
		SourceSegment  string   `json:"source_segment"`
	} `json:"tasks"`
}

// ExtractTasks runs the two-pass task extraction: one pass for explicitly
// assigned action items, one for work the discussion implies. The union is
// deduplicated by near-identical title, explicit wins over implicit, and
// every surviving task gets a stable ai_task_id.
func (e *Extractor) ExtractTasks(ctx context.Context, transcript string) (*TaskResult, error) {
	start := e.now()
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return &TaskResult{Tasks: []types.Task{}}, nil
	}

	explicit, fb1, err := e.taskPass(ctx, explicitTaskSystemPrompt, transcript, types.MethodExplicit)
	if err != nil {
		return nil, err
	}
	implicit, fb2, err := e.taskPass(ctx, implicitTaskSystemPrompt, transcript, types.MethodImplicit)
	if err != nil {
		return nil, err
	}

	merged := mergeTasks(explicit, implicit)
	now := e.now().UTC()
	for i := range merged {
		merged[i].AITaskID = fmt.Sprintf("task_%d", i+1)
		merged[i].AIExtractedAt = now
		merged[i].Status = types.StatusPending

		e.metrics.TasksExtracted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", string(merged[i].ExtractionMethod)),
		))
	}

	fallback := fb1 || fb2
	e.observeDuration(ctx, start, "tasks", fallback)
	slog.Info("task extraction complete",
		"explicit", len(explicit),
		"implicit", len(implicit),
		"merged", len(merged),
		"fallback", fallback,
	)
	return &TaskResult{Tasks: merged, FallbackUsed: fallback}, nil
}

// taskPass runs one extraction pass and converts the envelope into tasks.
func (e *Extractor) taskPass(ctx context.Context, system, transcript string, method types.ExtractionMethod) ([]types.Task, bool, error) {
	resp, err := e.client.Complete(ctx, ai.Request{
		System:   system,
		User:     transcript,
		Fallback: json.RawMessage(`{"tasks": []}`),
	})
	if err != nil {
		return nil, false, fmt.Errorf("extract: %s task pass: %w", method, err)
	}

	var env taskEnvelope
	if err := json.Unmarshal([]byte(resp.Content), &env); err != nil {
		slog.Warn("task response unparseable", "method", method, "error", err)
		return []types.Task{}, true, nil
	}

	tasks := make([]types.Task, 0, len(env.Tasks))
	for _, raw := range env.Tasks {
		title := strings.TrimSpace(raw.Title)
		if title == "" {
			continue
		}
		deps := raw.Dependencies
		if deps == nil {
			deps = []string{}
		}
		task := types.Task{
			Title:                   title,
			Description:             strings.TrimSpace(raw.Description),
			Assignee:                strings.TrimSpace(raw.Assignee),
			DueDate:                 strings.TrimSpace(raw.DueDate),
			Priority:                types.TaskPriority(strings.ToLower(raw.Priority)),
			Category:                strings.ToLower(strings.TrimSpace(raw.Category)),
			BusinessImpact:          normalizeImpact(raw.BusinessImpact),
			Dependencies:            deps,
			MentionedBy:             strings.TrimSpace(raw.MentionedBy),
			Context:                 strings.TrimSpace(raw.Context),
			ExplicitLevel:           levelForMethod(method),
			AIConfidenceScore:       clamp01(raw.Confidence),
			SourceTranscriptSegment: strings.TrimSpace(raw.SourceSegment),
			ExtractionMethod:        method,
		}
		task.Priority = applyPriorityCues(task)
		tasks = append(tasks, task)
	}
	return tasks, resp.FallbackUsed, nil
}

// mergeTasks unions the two passes, folding near-duplicate titles together.
// Explicit tasks come first and win collisions; a duplicate contributes its
// fields only where the survivor left them empty.
func mergeTasks(explicit, implicit []types.Task) []types.Task {
	merged := []types.Task{}
	for _, t := range append(explicit, implicit...) {
		idx := indexOfNearDup(merged, t.Title)
		if idx < 0 {
			merged = append(merged, t)
			continue
		}
		fillMissing(&merged[idx], t)
	}
	return merged
}

// indexOfNearDup finds an existing task whose normalised title matches within
// the near-duplicate distance.
func indexOfNearDup(tasks []types.Task, title string) int {
	norm := normalizeTitle(title)
	for i := range tasks {
		existing := normalizeTitle(tasks[i].Title)
		if existing == norm {
			return i
		}
		if matchr.DamerauLevenshtein(existing, norm) <= nearDupDistance {
			return i
		}
	}
	return -1
}

// fillMissing copies fields from dup into dst where dst has no value, and
// keeps the higher confidence.
func fillMissing(dst *types.Task, dup types.Task) {
	if dst.Assignee == "" {
		dst.Assignee = dup.Assignee
	}
	if dst.DueDate == "" {
		dst.DueDate = dup.DueDate
	}
	if dst.Description == "" {
		dst.Description = dup.Description
	}
	if dst.Context == "" {
		dst.Context = dup.Context
	}
	if dup.AIConfidenceScore > dst.AIConfidenceScore {
		dst.AIConfidenceScore = dup.AIConfidenceScore
	}
	if len(dst.Dependencies) == 0 {
		dst.Dependencies = dup.Dependencies
	}
}

// normalizeTitle lowercases, strips punctuation, and collapses whitespace so
// "Fix the build!" and "fix the build" compare equal.
func normalizeTitle(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Priority cue phrases checked against the task's own text when the model
// left priority at the default.
var (
	urgentCues = []string{"urgent", "asap", "as soon as possible", "immediately", "right away", "critical", "blocker", "today"}
	highCues   = []string{"important", "high priority", "by tomorrow", "this week", "before the launch"}
)

// applyPriorityCues returns the task's effective priority. A valid model
// priority stands; otherwise the task's text is scanned for urgency cues.
func applyPriorityCues(t types.Task) types.TaskPriority {
	switch t.Priority {
	case types.PriorityMedium, types.PriorityHigh, types.PriorityUrgent, types.PriorityLow:
		return t.Priority
	}

	text := strings.ToLower(t.Title + " " + t.Context + " " + t.SourceTranscriptSegment)
	for _, cue := range urgentCues {
		if strings.Contains(text, cue) {
			return types.PriorityUrgent
		}
	}
	for _, cue := range highCues {
		if strings.Contains(text, cue) {
			return types.PriorityHigh
		}
	}
	return types.PriorityLow
}

func levelForMethod(m types.ExtractionMethod) types.ExplicitLevel {
	if m == types.MethodExplicit {
		return types.ExplicitDirect
	}
	return types.ExplicitImplied
}

func normalizeImpact(s string) types.BusinessImpact {
	switch types.BusinessImpact(strings.ToLower(s)) {
	case types.ImpactMedium:
		return types.ImpactMedium
	case types.ImpactHigh:
		return types.ImpactHigh
	case types.ImpactCritical:
		return types.ImpactCritical
	}
	return types.ImpactLow
}
