package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies defaults, and
// validates the result. A missing file is not an error: the defaults plus
// environment overrides are a complete configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	if err := decodeInto(cfg, f); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Default returns a Config populated with every documented default value.
func Default() *Config {
	maxConc := 2 * runtime.NumCPU()
	if maxConc > 8 {
		maxConc = 8
	}
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8000,
			LogLevel:      LogInfo,
			WSIdleTimeout: 2 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:   "none",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		STT: STTConfig{
			Language:      "en",
			Timeout:       120 * time.Second,
			MaxConcurrent: maxConc,
		},
		Database: DatabaseConfig{
			Type: DatabaseEmbedded,
			Path: "openminutes.db",
			Port: 4000,
		},
		Pipeline: PipelineConfig{
			AudioWindow:    time.Second,
			MaxAudioWindow: 30 * time.Second,
			ChunkThreshold: 5000,
			MaxChunk:       30000,
			ChunkOverlap:   1000,
			MaxDispatch:    16,
		},
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", cfg.Server.Port))
	}

	switch cfg.LLM.Provider {
	case "openai", "anthropic", "groq", "ollama", "none", "":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is invalid; valid values: openai, anthropic, groq, ollama, none", cfg.LLM.Provider))
	}

	if !cfg.Database.Type.IsValid() {
		errs = append(errs, fmt.Errorf("database.type %q is invalid; valid values: embedded, remote", cfg.Database.Type))
	}
	if cfg.Database.Type == DatabaseRemote {
		if cfg.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required for the remote store"))
		}
		if cfg.Database.User == "" {
			errs = append(errs, errors.New("database.user is required for the remote store"))
		}
		if cfg.Database.Database == "" {
			errs = append(errs, errors.New("database.database is required for the remote store"))
		}
	}

	if cfg.Pipeline.AudioWindow <= 0 {
		errs = append(errs, errors.New("pipeline.audio_window must be positive"))
	}
	if cfg.Pipeline.MaxAudioWindow < cfg.Pipeline.AudioWindow {
		errs = append(errs, errors.New("pipeline.max_audio_window must be >= pipeline.audio_window"))
	}
	if cfg.Pipeline.ChunkOverlap >= cfg.Pipeline.ChunkThreshold {
		errs = append(errs, errors.New("pipeline.chunk_overlap must be smaller than pipeline.chunk_threshold"))
	}

	return errors.Join(errs...)
}
