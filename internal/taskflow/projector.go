// Package taskflow owns the boundary between extracted tasks and the outside
// world. The full task record is persisted losslessly; external platforms
// receive only the fixed projection produced by [Project], which is the
// single place in the codebase where outbound task fields are chosen.
package taskflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/openminutes/openminutes/internal/integration"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/resilience"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/pkg/types"
)

// Project maps a task onto the outbound projection. Every integration
// dispatch goes through this function; fields not listed here never leave
// the system.
func Project(t types.Task) integration.Projection {
	return integration.Projection{
		Title:       t.Title,
		Description: t.Description,
		Assignee:    t.Assignee,
		Priority:    string(t.Priority.Normalize()),
	}
}

// Projector persists extraction results and dispatches tasks to the enabled
// platforms. Dispatch is idempotent: a recorded external ref for a
// (task, platform) pair suppresses re-dispatch forever.
type Projector struct {
	store       store.Store
	clients     []integration.Client
	metrics     *observe.Metrics
	retry       resilience.RetryConfig
	maxDispatch int
}

// Option configures a [Projector].
type Option func(*Projector)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Projector) { p.metrics = m }
}

// WithRetry overrides the per-dispatch retry schedule.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Projector) { p.retry = cfg }
}

// New builds a Projector. maxDispatch bounds concurrent outbound calls across
// all tasks and platforms; values below 1 are clamped to 1.
func New(st store.Store, clients []integration.Client, maxDispatch int, opts ...Option) *Projector {
	if maxDispatch < 1 {
		maxDispatch = 1
	}
	p := &Projector{
		store:       st,
		clients:     clients,
		metrics:     observe.DefaultMetrics(),
		maxDispatch: maxDispatch,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaterializeAndDispatch persists the extraction run (summary plus full task
// records, one transaction) and then dispatches every saved task to every
// enabled platform. Dispatch failures are logged and counted but never fail
// the run; the transcript and tasks are already durable at that point.
func (p *Projector) MaterializeAndDispatch(ctx context.Context, meetingID string, doc *types.SummaryDocument, tasks []types.Task) ([]types.Task, error) {
	start := time.Now()
	saved, err := p.store.SaveExtractionRun(ctx, meetingID, doc, tasks)
	if err != nil {
		return nil, fmt.Errorf("taskflow: persist extraction run: %w", err)
	}
	p.metrics.StoreDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("operation", "extraction_run")))

	p.Dispatch(ctx, saved)
	return saved, nil
}

// Dispatch sends each task to each enabled platform, skipping pairs that
// already carry an external ref.
func (p *Projector) Dispatch(ctx context.Context, tasks []types.Task) {
	enabled := make([]integration.Client, 0, len(p.clients))
	for _, c := range p.clients {
		if c.Enabled() {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) == 0 || len(tasks) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxDispatch)
	for _, task := range tasks {
		for _, client := range enabled {
			g.Go(func() error {
				p.dispatchOne(ctx, task, client)
				return nil
			})
		}
	}
	g.Wait()
}

// dispatchOne performs one idempotent (task, platform) dispatch.
func (p *Projector) dispatchOne(ctx context.Context, task types.Task, client integration.Client) {
	platform := client.Platform()
	logger := slog.With("task_id", task.ID, "ai_task_id", task.AITaskID, "platform", platform)

	exists, err := p.store.HasExternalRef(ctx, task.ID, platform)
	if err != nil {
		logger.Error("external ref lookup failed", "error", err)
		p.countDispatch(ctx, platform, "error")
		return
	}
	if exists {
		p.countDispatch(ctx, platform, "skipped")
		return
	}

	start := time.Now()
	var res *integration.Result
	err = resilience.Retry(ctx, p.retry, func(ctx context.Context) error {
		var callErr error
		res, callErr = client.CreateTask(ctx, Project(task))
		return callErr
	})
	p.metrics.IntegrationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("platform", platform)))

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			logger.Warn("dispatch rejected by open circuit")
		} else {
			logger.Error("dispatch failed", "error", err)
		}
		p.countDispatch(ctx, platform, "error")
		return
	}

	created, err := p.store.RecordExternalRef(ctx, &types.ExternalTaskRef{
		TaskID:      task.ID,
		Platform:    platform,
		ExternalID:  res.ExternalID,
		ExternalURL: res.ExternalURL,
	})
	if err != nil {
		logger.Error("external ref record failed", "external_id", res.ExternalID, "error", err)
		p.countDispatch(ctx, platform, "error")
		return
	}
	if !created {
		// A concurrent dispatch won the race; the platform may now hold a
		// duplicate, which the unique ref constraint cannot undo.
		logger.Warn("duplicate dispatch detected after create", "external_id", res.ExternalID)
	}
	p.countDispatch(ctx, platform, "ok")
	logger.Info("task dispatched", "external_id", res.ExternalID)
}

func (p *Projector) countDispatch(ctx context.Context, platform, status string) {
	p.metrics.IntegrationDispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("status", status),
	))
}
