package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// perProviderKeyVars maps an LLM provider name to its conventional API key
// environment variable, consulted when LLM_API_KEY is unset.
var perProviderKeyVars = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"groq":      "GROQ_API_KEY",
}

// ApplyEnv overrides cfg in place from recognised environment variables.
// Environment values win over file values. Malformed numeric or duration
// values are returned as errors so startup fails loudly instead of running
// with a silently ignored setting.
func ApplyEnv(cfg *Config) error {
	var errs []string

	setString(&cfg.Server.Host, "HOST")
	if err := setInt(&cfg.Server.Port, "PORT"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setDuration(&cfg.Server.WSIdleTimeout, "WS_IDLE_TIMEOUT"); err != nil {
		errs = append(errs, err.Error())
	}
	if v, ok := os.LookupEnv("DEBUG_LOGGING"); ok {
		if parseBool(v) {
			cfg.Server.LogLevel = LogDebug
		}
	}

	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	if cfg.LLM.APIKey == "" {
		if name, ok := perProviderKeyVars[strings.ToLower(cfg.LLM.Provider)]; ok {
			setString(&cfg.LLM.APIKey, name)
		}
	}

	setString(&cfg.STT.BinaryPath, "STT_BINARY_PATH")
	setString(&cfg.STT.ModelPath, "STT_MODEL_PATH")
	if err := setInt(&cfg.STT.MaxConcurrent, "MAX_CONCURRENT_TRANSCRIPTIONS"); err != nil {
		errs = append(errs, err.Error())
	}

	if v, ok := os.LookupEnv("DATABASE_TYPE"); ok {
		cfg.Database.Type = DatabaseType(strings.ToLower(strings.TrimSpace(v)))
	}
	setString(&cfg.Database.Path, "DB_PATH")
	setString(&cfg.Database.Host, "DB_HOST")
	if err := setInt(&cfg.Database.Port, "DB_PORT"); err != nil {
		errs = append(errs, err.Error())
	}
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Database, "DB_DATABASE")
	setString(&cfg.Database.SSLMode, "DB_SSL_MODE")

	setString(&cfg.Integrations.Notion.Token, "NOTION_TOKEN")
	setString(&cfg.Integrations.Notion.DatabaseID, "NOTION_DATABASE_ID")
	setString(&cfg.Integrations.ClickUp.Token, "CLICKUP_TOKEN")
	setString(&cfg.Integrations.ClickUp.ListID, "CLICKUP_LIST_ID")
	setString(&cfg.Integrations.Slack.Token, "SLACK_TOKEN")
	setString(&cfg.Integrations.Slack.Channel, "SLACK_CHANNEL")

	if len(errs) > 0 {
		return fmt.Errorf("config: environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s=%q is not an integer", name, v)
	}
	*dst = n
	return nil
}

// setDuration accepts either a Go duration string ("90m") or a bare number of
// seconds ("7200"), matching how deployments commonly set timeouts.
func setDuration(dst *time.Duration, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s=%q is not a duration", name, v)
	}
	*dst = d
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
