// Package observe provides application-wide observability primitives for
// openminutes: OpenTelemetry metrics with a Prometheus exporter bridge so the
// pipeline can be scraped via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all openminutes metrics.
const meterName = "github.com/openminutes/openminutes"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// Stage latency histograms.

	// TranscriptionDuration tracks STT subprocess latency.
	TranscriptionDuration metric.Float64Histogram

	// ExtractionDuration tracks LLM extraction latency (speakers, summary, tasks).
	ExtractionDuration metric.Float64Histogram

	// IntegrationDuration tracks external task-platform dispatch latency.
	IntegrationDuration metric.Float64Histogram

	// StoreDuration tracks store write latency.
	StoreDuration metric.Float64Histogram

	// Pipeline counters.

	// TranscriptChunks counts persisted transcript chunks. Use with attribute:
	//   attribute.String("platform", ...)
	TranscriptChunks metric.Int64Counter

	// DuplicateChunks counts chunks dropped by fingerprint dedup.
	DuplicateChunks metric.Int64Counter

	// TasksExtracted counts tasks produced by extraction. Use with attribute:
	//   attribute.String("method", ...)
	TasksExtracted metric.Int64Counter

	// IntegrationDispatches counts dispatch attempts. Use with attributes:
	//   attribute.String("platform", ...), attribute.String("status", ...)
	IntegrationDispatches metric.Int64Counter

	// LLMRequests counts LLM calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	LLMRequests metric.Int64Counter

	// Connection and session gauges.

	// ActiveSessions tracks the number of open meeting sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks the number of open WebSocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// HTTP surface.

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// range accommodates long STT subprocess runs.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("openminutes.transcription.duration",
		metric.WithDescription("Latency of STT subprocess transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("openminutes.extraction.duration",
		metric.WithDescription("Latency of LLM extraction operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntegrationDuration, err = m.Float64Histogram("openminutes.integration.duration",
		metric.WithDescription("Latency of external platform dispatches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("openminutes.store.duration",
		metric.WithDescription("Latency of store write operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TranscriptChunks, err = m.Int64Counter("openminutes.transcript.chunks",
		metric.WithDescription("Total persisted transcript chunks by platform."),
	); err != nil {
		return nil, err
	}
	if met.DuplicateChunks, err = m.Int64Counter("openminutes.transcript.duplicates",
		metric.WithDescription("Total transcript chunks dropped by fingerprint dedup."),
	); err != nil {
		return nil, err
	}
	if met.TasksExtracted, err = m.Int64Counter("openminutes.tasks.extracted",
		metric.WithDescription("Total tasks produced by extraction, by method."),
	); err != nil {
		return nil, err
	}
	if met.IntegrationDispatches, err = m.Int64Counter("openminutes.integration.dispatches",
		metric.WithDescription("Total external dispatch attempts by platform and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMRequests, err = m.Int64Counter("openminutes.llm.requests",
		metric.WithDescription("Total LLM API requests by provider and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("openminutes.active_sessions",
		metric.WithDescription("Number of open meeting sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("openminutes.active_connections",
		metric.WithDescription("Number of open WebSocket connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("openminutes.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
