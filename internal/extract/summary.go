package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openminutes/openminutes/internal/ai"
	"github.com/openminutes/openminutes/pkg/types"
)

// SummaryResult carries the summary document plus how it was produced.
type SummaryResult struct {
	Document     *types.SummaryDocument `json:"document"`
	FallbackUsed bool                   `json:"fallback_used"`
	Chunked      bool                   `json:"chunked"`
}

// Summarize produces the sectioned summary document for a transcript.
// Transcripts over the chunking threshold are summarised per chunk and then
// consolidated in a second model pass. An empty transcript or a degraded
// model yields the empty-but-valid document.
func (e *Extractor) Summarize(ctx context.Context, transcript string) (*SummaryResult, error) {
	start := e.now()
	transcript = strings.TrimSpace(transcript)

	if transcript == "" {
		return &SummaryResult{Document: types.EmptySummary()}, nil
	}

	chunks := splitTranscript(transcript, e.cfg.ChunkThreshold, e.cfg.MaxChunk, e.cfg.ChunkOverlap)
	if len(chunks) == 1 {
		doc, fallback, err := e.summarizeOnce(ctx, summarySystemPrompt, chunks[0])
		if err != nil {
			return nil, err
		}
		e.observeDuration(ctx, start, "summary", fallback)
		return &SummaryResult{Document: doc, FallbackUsed: fallback}, nil
	}

	slog.Info("summarising transcript in chunks",
		"chars", len(transcript),
		"chunks", len(chunks),
	)

	partials := make([]*types.SummaryDocument, 0, len(chunks))
	anyFallback := false
	for i, chunk := range chunks {
		doc, fallback, err := e.summarizeOnce(ctx, summarySystemPrompt, chunk)
		if err != nil {
			return nil, fmt.Errorf("extract: summarize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		anyFallback = anyFallback || fallback
		partials = append(partials, doc)
	}

	doc, fallback, err := e.consolidate(ctx, partials)
	if err != nil {
		return nil, err
	}
	e.observeDuration(ctx, start, "summary", anyFallback || fallback)
	return &SummaryResult{Document: doc, FallbackUsed: anyFallback || fallback, Chunked: true}, nil
}

// summarizeOnce runs one summary completion and parses the document.
func (e *Extractor) summarizeOnce(ctx context.Context, system, input string) (*types.SummaryDocument, bool, error) {
	resp, err := e.client.Complete(ctx, ai.Request{
		System:   system,
		User:     input,
		Fallback: emptySummaryJSON(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("extract: summarize: %w", err)
	}

	doc := types.EmptySummary()
	if err := json.Unmarshal([]byte(resp.Content), doc); err != nil {
		slog.Warn("summary response unparseable", "error", err)
		return types.EmptySummary(), true, nil
	}
	normalizeSummary(doc)
	return doc, resp.FallbackUsed, nil
}

// consolidate merges per-chunk summaries into one document via a second model
// pass. When the model is degraded the partials are merged mechanically so
// chunked extraction still returns everything it found.
func (e *Extractor) consolidate(ctx context.Context, partials []*types.SummaryDocument) (*types.SummaryDocument, bool, error) {
	input, err := json.Marshal(partials)
	if err != nil {
		return nil, false, fmt.Errorf("extract: marshal partial summaries: %w", err)
	}

	doc, fallback, err := e.summarizeOnce(ctx, consolidateSystemPrompt, string(input))
	if err != nil {
		return nil, false, err
	}
	if fallback {
		return mergeSummaries(partials), true, nil
	}
	return doc, false, nil
}

// mergeSummaries concatenates partial documents without a model pass.
func mergeSummaries(partials []*types.SummaryDocument) *types.SummaryDocument {
	out := types.EmptySummary()
	var overviews, outcomes []string
	seenDecision := map[string]bool{}
	seenParticipant := map[string]bool{}
	seenStep := map[string]bool{}

	for _, p := range partials {
		if p == nil {
			continue
		}
		if p.Overview != "" {
			overviews = append(overviews, p.Overview)
		}
		if p.KeyOutcomes != "" {
			outcomes = append(outcomes, p.KeyOutcomes)
		}
		for _, d := range p.Decisions {
			if !seenDecision[d] {
				seenDecision[d] = true
				out.Decisions = append(out.Decisions, d)
			}
		}
		for _, name := range p.Participants {
			if !seenParticipant[name] {
				seenParticipant[name] = true
				out.Participants = append(out.Participants, name)
			}
		}
		for _, s := range p.NextSteps {
			if !seenStep[s] {
				seenStep[s] = true
				out.NextSteps = append(out.NextSteps, s)
			}
		}
	}
	out.Overview = strings.Join(overviews, " ")
	out.KeyOutcomes = strings.Join(outcomes, " ")
	return out
}

// normalizeSummary ensures every slice section is non-nil.
func normalizeSummary(doc *types.SummaryDocument) {
	if doc.Decisions == nil {
		doc.Decisions = []string{}
	}
	if doc.Participants == nil {
		doc.Participants = []string{}
	}
	if doc.NextSteps == nil {
		doc.NextSteps = []string{}
	}
}

func emptySummaryJSON() json.RawMessage {
	blob, _ := json.Marshal(types.EmptySummary())
	return blob
}
