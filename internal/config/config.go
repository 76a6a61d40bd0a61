// Package config provides the configuration schema, loader, and environment
// overrides for the openminutes server.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// DatabaseType selects the Store implementation.
type DatabaseType string

const (
	// DatabaseEmbedded is the single-file SQLite store for development and tests.
	DatabaseEmbedded DatabaseType = "embedded"

	// DatabaseRemote is the MySQL-wire-compatible store for production.
	DatabaseRemote DatabaseType = "remote"
)

// IsValid reports whether t is a recognised database type.
func (t DatabaseType) IsValid() bool {
	return t == DatabaseEmbedded || t == DatabaseRemote
}

// Config is the root configuration structure. It is loaded from an optional
// YAML file via [Load] and then overridden by environment variables via
// [ApplyEnv]. After startup it is never mutated.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	STT          STTConfig          `yaml:"stt"`
	Database     DatabaseConfig     `yaml:"database"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Host is the bind address. Default "0.0.0.0".
	Host string `yaml:"host"`

	// Port is the TCP port for both REST and WebSocket traffic. Default 8000.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// WSIdleTimeout auto-finalizes a session that has received no audio or
	// events for this long. Default 2h.
	WSIdleTimeout time.Duration `yaml:"ws_idle_timeout"`
}

// LLMConfig selects and tunes the completion backend.
type LLMConfig struct {
	// Provider is one of "openai", "anthropic", "groq", "ollama", or "none".
	// "none" (or a missing API key for remote providers) selects fallback mode.
	Provider string `yaml:"provider"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. Empty selects fallback mode
	// for providers that require a key.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint (used by ollama).
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-call deadline. Default 60s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries caps retry attempts on transient failures. Default 2.
	MaxRetries int `yaml:"max_retries"`

	// JSONMode instructs the model to answer with a single JSON object.
	// Default true.
	JSONMode *bool `yaml:"json_mode"`
}

// STTConfig locates the external speech-to-text executable.
type STTConfig struct {
	// BinaryPath is the path to the STT executable (whisper-cli compatible).
	BinaryPath string `yaml:"binary_path"`

	// ModelPath is the path to the model file passed to the binary.
	ModelPath string `yaml:"model_path"`

	// Language is the transcription language. Default "en".
	Language string `yaml:"language"`

	// Timeout is the per-invocation deadline. Default 120s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrent bounds parallel STT subprocesses.
	// Default 2×CPU, capped at 8.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Required makes a failed startup probe fatal (exit code 2).
	Required bool `yaml:"required"`
}

// DatabaseConfig selects and parameterises the store.
type DatabaseConfig struct {
	// Type is "embedded" or "remote".
	Type DatabaseType `yaml:"type"`

	// Path is the SQLite file for the embedded store. Default "openminutes.db".
	Path string `yaml:"path"`

	// Remote connection parameters (MySQL wire protocol).
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// PipelineConfig tunes audio windowing, transcript chunking, and dispatch.
type PipelineConfig struct {
	// AudioWindow is how much buffered audio triggers a transcription job.
	// Default 1s.
	AudioWindow time.Duration `yaml:"audio_window"`

	// MaxAudioWindow is the largest single transcription job. Default 30s.
	MaxAudioWindow time.Duration `yaml:"max_audio_window"`

	// ChunkThreshold is the transcript length (chars) above which summarisation
	// chunks the input. Default 5000.
	ChunkThreshold int `yaml:"chunk_threshold"`

	// MaxChunk is the largest chunk passed to the model. Default 30000.
	MaxChunk int `yaml:"max_chunk"`

	// ChunkOverlap is the character overlap preserved between adjacent chunks.
	// Default 1000.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// MaxDispatch bounds concurrent integration dispatches. Default 16.
	MaxDispatch int `yaml:"max_dispatch"`
}

// IntegrationsConfig holds per-platform credentials. A platform with no
// credential is disabled at startup with a warning.
type IntegrationsConfig struct {
	Notion  NotionConfig  `yaml:"notion"`
	ClickUp ClickUpConfig `yaml:"clickup"`
	Slack   SlackConfig   `yaml:"slack"`
}

// NotionConfig configures the Notion adapter.
type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// ClickUpConfig configures the ClickUp adapter.
type ClickUpConfig struct {
	Token  string `yaml:"token"`
	ListID string `yaml:"list_id"`
}

// SlackConfig configures the Slack adapter.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// JSONModeEnabled reports the effective json_mode setting (default true).
func (c LLMConfig) JSONModeEnabled() bool {
	if c.JSONMode == nil {
		return true
	}
	return *c.JSONMode
}
