// Package app wires all openminutes subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves WebSocket and REST traffic until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithTranscriber, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/openminutes/openminutes/internal/ai"
	"github.com/openminutes/openminutes/internal/config"
	"github.com/openminutes/openminutes/internal/extract"
	"github.com/openminutes/openminutes/internal/gateway"
	"github.com/openminutes/openminutes/internal/health"
	"github.com/openminutes/openminutes/internal/integration"
	"github.com/openminutes/openminutes/internal/observe"
	"github.com/openminutes/openminutes/internal/rest"
	"github.com/openminutes/openminutes/internal/session"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/taskflow"
	"github.com/openminutes/openminutes/internal/transcribe"
)

// shutdownGrace bounds the HTTP server drain during Run teardown.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string

	metrics      *observe.Metrics
	st           store.Store
	aiClient     *ai.Client
	transcriber  transcribe.Transcriber
	extractor    *extract.Extractor
	integrations []integration.Client
	projector    *taskflow.Projector
	registry     *gateway.Registry
	httpSrv      *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening one from config.
func WithStore(st store.Store) Option {
	return func(a *App) { a.st = st }
}

// WithTranscriber injects a transcriber instead of probing the STT binary.
func WithTranscriber(tr transcribe.Transcriber) Option {
	return func(a *App) { a.transcriber = tr }
}

// WithIntegrations injects integration clients instead of building them from
// configured credentials.
func WithIntegrations(clients ...integration.Client) Option {
	return func(a *App) { a.integrations = clients }
}

// WithMetrics injects a metrics sink instead of initialising the global
// telemetry provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVersion sets the version string advertised to clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: telemetry, store, AI client, transcriber probe, integration
// adapters, session registry, and the HTTP surface.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, version: "dev"}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initAI(); err != nil {
		return nil, fmt.Errorf("app: init llm client: %w", err)
	}
	if err := a.initTranscriber(); err != nil {
		return nil, fmt.Errorf("app: init transcriber: %w", err)
	}

	a.extractor = extract.New(a.aiClient, cfg.Pipeline, extract.WithMetrics(a.metrics))
	a.initIntegrations()
	a.projector = taskflow.New(a.st, a.integrations, cfg.Pipeline.MaxDispatch,
		taskflow.WithMetrics(a.metrics))

	a.registry = gateway.NewRegistry(a.openSession, cfg.Server.WSIdleTimeout)
	a.initHTTP()

	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "openminutes",
		ServiceVersion: a.version,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.st != nil {
		return nil
	}

	var (
		st  store.Store
		err error
	)
	switch a.cfg.Database.Type {
	case config.DatabaseRemote:
		st, err = store.OpenRemote(ctx, store.RemoteConfig{
			Host:     a.cfg.Database.Host,
			Port:     a.cfg.Database.Port,
			User:     a.cfg.Database.User,
			Password: a.cfg.Database.Password,
			Database: a.cfg.Database.Database,
			SSLMode:  a.cfg.Database.SSLMode,
		})
	default:
		st, err = store.OpenEmbedded(ctx, a.cfg.Database.Path)
	}
	if err != nil {
		return err
	}

	a.st = st
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })
	slog.Info("store opened", "type", a.cfg.Database.Type)
	return nil
}

func (a *App) initAI() error {
	client, err := ai.New(a.cfg.LLM, ai.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.aiClient = client
	return nil
}

// initTranscriber probes the STT binary. A failed probe is fatal only when
// the configuration marks STT as required; otherwise the server runs with
// transcription disabled and sessions keep only client-supplied text.
func (a *App) initTranscriber() error {
	if a.transcriber != nil {
		return nil
	}

	if a.cfg.STT.BinaryPath == "" {
		if a.cfg.STT.Required {
			return errors.New("stt.binary_path is required but not configured")
		}
		slog.Warn("no STT binary configured, transcription disabled")
		a.transcriber = transcribe.Disabled{}
		return nil
	}

	w := transcribe.NewWhisper(a.cfg.STT.BinaryPath, a.cfg.STT.ModelPath,
		transcribe.WithLanguage(a.cfg.STT.Language),
		transcribe.WithTimeout(a.cfg.STT.Timeout),
	)
	if !w.Available() {
		if a.cfg.STT.Required {
			return fmt.Errorf("stt probe failed: binary %q or model %q not usable",
				a.cfg.STT.BinaryPath, a.cfg.STT.ModelPath)
		}
		slog.Warn("STT probe failed, transcription disabled",
			"binary", a.cfg.STT.BinaryPath,
			"model", a.cfg.STT.ModelPath,
		)
	}

	a.transcriber = transcribe.NewPool(w, a.cfg.STT.MaxConcurrent)
	return nil
}

// initIntegrations builds one adapter per platform. Platforms without
// credentials get the no-op client and a startup warning.
func (a *App) initIntegrations() {
	if a.integrations != nil {
		return
	}

	ic := a.cfg.Integrations
	if n := integration.NewNotion(ic.Notion.Token, ic.Notion.DatabaseID); n.Enabled() {
		a.integrations = append(a.integrations, n)
	} else {
		slog.Warn("integration disabled: missing credentials", "platform", "notion")
		a.integrations = append(a.integrations, integration.Disabled{Name: "notion"})
	}
	if c := integration.NewClickUp(ic.ClickUp.Token, ic.ClickUp.ListID); c.Enabled() {
		a.integrations = append(a.integrations, c)
	} else {
		slog.Warn("integration disabled: missing credentials", "platform", "clickup")
		a.integrations = append(a.integrations, integration.Disabled{Name: "clickup"})
	}
	if s := integration.NewSlack(ic.Slack.Token, ic.Slack.Channel); s.Enabled() {
		a.integrations = append(a.integrations, s)
	} else {
		slog.Warn("integration disabled: missing credentials", "platform", "slack")
		a.integrations = append(a.integrations, integration.Disabled{Name: "slack"})
	}
}

// openSession is the gateway's session factory.
func (a *App) openSession(ctx context.Context, p gateway.SessionParams) (*session.Session, error) {
	return session.New(ctx, session.Deps{
		MeetingID:   p.MeetingID,
		Title:       p.Title,
		Platform:    p.Platform,
		Store:       a.st,
		Transcriber: a.transcriber,
		Extractor:   a.extractor,
		Projector:   a.projector,
		Metrics:     a.metrics,
		Pipeline:    a.cfg.Pipeline,
		Format:      p.Format,
		Notify:      p.Notify,
	})
}

func (a *App) initHTTP() {
	gw := gateway.New(a.registry, a.st, a.cfg.Pipeline, a.version,
		gateway.WithMetrics(a.metrics))

	checkers := []health.Checker{
		{Name: "store", Check: a.st.Ping},
		{Name: "transcriber", Check: a.checkTranscriber},
	}

	srv := rest.New(rest.Deps{
		Store:        a.st,
		Extractor:    a.extractor,
		Projector:    a.projector,
		Integrations: a.integrations,
		Health:       health.New(checkers...),
		Metrics:      a.metrics,
		Gateway:      gw,
		Version:      a.version,
	})

	a.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:           observe.Middleware(a.metrics)(srv.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// checkTranscriber fails readiness only when STT is configured but unusable.
func (a *App) checkTranscriber(context.Context) error {
	if a.cfg.STT.BinaryPath == "" {
		return nil
	}
	if !a.transcriber.Available() {
		return errors.New("stt binary or model not usable")
	}
	return nil
}

// Handler exposes the HTTP surface, for tests that drive the server without
// binding a socket.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Run serves until ctx is cancelled, then drains in-flight work.
func (a *App) Run(ctx context.Context) error {
	go a.registry.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.httpSrv.Shutdown(drainCtx); err != nil {
		slog.Warn("http drain incomplete", "error", err)
	}

	// Flush buffered audio into transcripts before the store closes.
	a.registry.Shutdown()
	return ctx.Err()
}

// Shutdown tears down all subsystems in reverse-init order, respecting the
// context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
