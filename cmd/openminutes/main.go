// Command openminutes is the meeting intelligence backend: it ingests live
// meeting audio over WebSocket, transcribes and summarises it, extracts
// tasks, and dispatches them to configured task platforms.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openminutes/openminutes/internal/app"
	"github.com/openminutes/openminutes/internal/config"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// Exit codes: 0 normal, 1 configuration error, 2 unrecoverable startup
// failure.
const (
	exitOK       = 0
	exitConfig   = 1
	exitStartup  = 2
	shutdownWait = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional dotenv file")
	flag.Parse()

	// Dotenv values feed the same overrides as the real environment. A
	// missing file is fine.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "openminutes: load %q: %v\n", *envPath, err)
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openminutes: %v\n", err)
		return exitConfig
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "openminutes: %v\n", err)
		return exitConfig
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "openminutes: invalid configuration:\n%v\n", err)
		return exitConfig
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("openminutes starting",
		"version", version,
		"config", *configPath,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"database", cfg.Database.Type,
		"llm_provider", cfg.LLM.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.WithVersion(version))
	if err != nil {
		slog.Error("startup failed", "error", err)
		return exitStartup
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		shutdown(application)
		return exitStartup
	}

	return shutdown(application)
}

// shutdown tears the application down with a bounded grace period.
func shutdown(application *app.App) int {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		return exitStartup
	}
	slog.Info("goodbye")
	return exitOK
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
