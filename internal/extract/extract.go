// Package extract turns a finished meeting transcript into structured
// intelligence: identified speakers, a sectioned summary document, and
// actionable tasks. All three operations run through the ai client and
// degrade to schema-valid empty results rather than failing the pipeline.
package extract

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openminutes/openminutes/internal/ai"
	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/pkg/types"
)

// Extraction methods reported by [Extractor.IdentifySpeakers].
const (
	MethodEmptyInput     = "empty_input"
	MethodExplicitLabels = "explicit_labels"
	MethodAIInference    = "ai_inference"
	MethodFallback       = "fallback"
)

// fallbackConfidence is assigned when speaker identification degrades to the
// single unknown-speaker result.
const fallbackConfidence = 0.3

// Extractor runs the three post-meeting extraction operations.
type Extractor struct {
	client  *ai.Client
	cfg     config.PipelineConfig
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// New builds an Extractor over the given ai client and pipeline tuning.
func New(client *ai.Client, cfg config.PipelineConfig, opts ...Option) *Extractor {
	e := &Extractor{
		client:  client,
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FlattenTranscript renders stored chunks into the plain-text form the
// extraction prompts consume, one utterance per line with speaker labels
// where known.
func FlattenTranscript(chunks []types.TranscriptChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if c.Speaker != "" {
			b.WriteString(c.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(text)
	}
	return b.String()
}

// observeDuration records one extraction stage's latency.
func (e *Extractor) observeDuration(ctx context.Context, start time.Time, op string, fallback bool) {
	status := "ok"
	if fallback {
		status = "fallback"
	}
	e.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("status", status),
		),
	)
}
