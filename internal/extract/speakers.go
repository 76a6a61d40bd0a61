package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/openminutes/openminutes/internal/ai"
	"github.com/openminutes/openminutes/pkg/types"
)

// SpeakerResult is the outcome of speaker identification. Method records
// which path produced the speakers.
type SpeakerResult struct {
	Speakers []types.Speaker `json:"speakers"`
	Method   string          `json:"method"`
}

// speakerLabelRE matches "Name:" at the start of a line. Labels longer than
// 40 characters are treated as sentence text, not names.
var speakerLabelRE = regexp.MustCompile(`(?m)^([A-Za-z][A-Za-z0-9 .'_-]{0,39}):\s*(.+)$`)

// speakerEnvelope is the model's response shape.
type speakerEnvelope struct {
	Speakers []struct {
		Name            string   `json:"name"`
		Segments        []string `json:"segments"`
		Characteristics string   `json:"characteristics"`
		Confidence      float64  `json:"confidence"`
	} `json:"speakers"`
}

// IdentifySpeakers determines who spoke in the transcript. The cheap paths
// run first: an empty transcript short-circuits, and transcripts that carry
// explicit "Name:" labels are parsed without an LLM call. Everything else
// goes to the model, degrading to a single unknown speaker when the model is
// unavailable or returns garbage.
func (e *Extractor) IdentifySpeakers(ctx context.Context, transcript string) (*SpeakerResult, error) {
	start := e.now()
	transcript = strings.TrimSpace(transcript)

	if transcript == "" {
		return &SpeakerResult{Speakers: []types.Speaker{}, Method: MethodEmptyInput}, nil
	}

	if speakers := parseExplicitLabels(transcript); len(speakers) > 0 {
		e.observeDuration(ctx, start, "speakers", false)
		return &SpeakerResult{Speakers: speakers, Method: MethodExplicitLabels}, nil
	}

	resp, err := e.client.Complete(ctx, ai.Request{
		System:   speakerSystemPrompt,
		User:     transcript,
		Fallback: json.RawMessage(`{"speakers": []}`),
	})
	if err != nil {
		return nil, fmt.Errorf("extract: identify speakers: %w", err)
	}

	var env speakerEnvelope
	parseErr := json.Unmarshal([]byte(resp.Content), &env)
	if resp.FallbackUsed || parseErr != nil || len(env.Speakers) == 0 {
		if parseErr != nil {
			slog.Warn("speaker response unparseable", "error", parseErr)
		}
		e.observeDuration(ctx, start, "speakers", true)
		return &SpeakerResult{
			Speakers: []types.Speaker{{
				ID:         "speaker_1",
				Name:       "Unknown Speaker",
				Segments:   []string{},
				Confidence: fallbackConfidence,
			}},
			Method: MethodFallback,
		}, nil
	}

	speakers := make([]types.Speaker, 0, len(env.Speakers))
	for i, s := range env.Speakers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = fmt.Sprintf("Speaker %d", i+1)
		}
		segments := s.Segments
		if segments == nil {
			segments = []string{}
		}
		speakers = append(speakers, types.Speaker{
			ID:              fmt.Sprintf("speaker_%d", i+1),
			Name:            name,
			Segments:        segments,
			TotalWords:      countWords(segments),
			Characteristics: s.Characteristics,
			Confidence:      clamp01(s.Confidence),
		})
	}
	e.observeDuration(ctx, start, "speakers", false)
	return &SpeakerResult{Speakers: speakers, Method: MethodAIInference}, nil
}

// parseExplicitLabels extracts speakers from "Name: text" lines. Returns nil
// unless labels attribute a meaningful share of the transcript's lines, which
// keeps a stray "Note:" from hijacking the whole parse.
func parseExplicitLabels(transcript string) []types.Speaker {
	matches := speakerLabelRE.FindAllStringSubmatch(transcript, -1)
	if len(matches) == 0 {
		return nil
	}

	lines := 0
	for _, line := range strings.Split(transcript, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	if lines == 0 || len(matches)*2 < lines {
		return nil
	}

	order := []string{}
	segments := map[string][]string{}
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if _, seen := segments[name]; !seen {
			order = append(order, name)
		}
		segments[name] = append(segments[name], strings.TrimSpace(m[2]))
	}

	speakers := make([]types.Speaker, 0, len(order))
	for i, name := range order {
		speakers = append(speakers, types.Speaker{
			ID:         fmt.Sprintf("speaker_%d", i+1),
			Name:       name,
			Segments:   segments[name],
			TotalWords: countWords(segments[name]),
			Confidence: 0.95,
		})
	}
	return speakers
}

func countWords(segments []string) int {
	n := 0
	for _, s := range segments {
		n += len(strings.Fields(s))
	}
	return n
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
