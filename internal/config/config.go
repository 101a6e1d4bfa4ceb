// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the sidekick configuration.
type Config struct {
	Worker    LLMConfig      `toml:"worker"`    // Model that does the work
	Evaluator LLMConfig      `toml:"evaluator"` // Model that judges the work
	Tools     ToolsConfig    `toml:"tools"`
	Browser   BrowserConfig  `toml:"browser"`
	Calendar  CalendarConfig `toml:"calendar"`
	Storage   StorageConfig  `toml:"storage"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
	MaxRetries   int    `toml:"max_retries"`   // Max retry attempts (default 5)
	RetryBackoff string `toml:"retry_backoff"` // Initial backoff duration (default "1s")
}

// ToolsConfig contains settings for the built-in tools.
type ToolsConfig struct {
	SandboxDir      string `toml:"sandbox_dir"`        // Root directory for file tools
	SerperAPIKeyEnv string `toml:"serper_api_key_env"` // Env var holding the Serper search key
	NtfyServer      string `toml:"ntfy_server"`        // Push notification server
	NtfyTopic       string `toml:"ntfy_topic"`         // Push notification topic
	PythonBin       string `toml:"python_bin"`         // Interpreter for run_python (default "python3")
	TimeoutSeconds  int    `toml:"timeout_seconds"`    // Per-tool timeout (default 60)
}

// BrowserConfig contains browser automation settings.
type BrowserConfig struct {
	Enabled  bool `toml:"enabled"`
	Headless bool `toml:"headless"`
}

// CalendarConfig contains Google Calendar settings.
type CalendarConfig struct {
	Enabled         bool   `toml:"enabled"`
	CalendarID      string `toml:"calendar_id"`      // Defaults to "primary"
	CredentialsFile string `toml:"credentials_file"` // OAuth client credentials
	TokenFile       string `toml:"token_file"`       // Cached OAuth token
}

// StorageConfig contains session persistence settings.
type StorageConfig struct {
	Path string `toml:"path"` // SQLite database path; empty means in-memory sessions only
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Worker: LLMConfig{
			Provider:  "openrouter",
			Model:     "openai/gpt-4o-mini",
			MaxTokens: 4096,
		},
		Evaluator: LLMConfig{
			Provider:  "openrouter",
			Model:     "openai/gpt-4o-mini",
			MaxTokens: 2048,
		},
		Tools: ToolsConfig{
			SandboxDir:      "sandbox",
			SerperAPIKeyEnv: "SERPER_API_KEY",
			NtfyServer:      "https://ntfy.sh",
			PythonBin:       "python3",
			TimeoutSeconds:  60,
		},
		Browser: BrowserConfig{
			Headless: true,
		},
		Calendar: CalendarConfig{
			CalendarID:      "primary",
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from sidekick.toml in the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	return LoadFile(filepath.Join(cwd, "sidekick.toml"))
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.Worker.Model == "" {
		return fmt.Errorf("worker.model is required")
	}
	if c.Evaluator.Model == "" {
		return fmt.Errorf("evaluator.model is required")
	}
	for _, llm := range []struct {
		name string
		cfg  LLMConfig
	}{{"worker", c.Worker}, {"evaluator", c.Evaluator}} {
		if llm.cfg.RetryBackoff != "" {
			if _, err := time.ParseDuration(llm.cfg.RetryBackoff); err != nil {
				return fmt.Errorf("%s.retry_backoff: %w", llm.name, err)
			}
		}
	}
	if c.Tools.SandboxDir == "" {
		return fmt.Errorf("tools.sandbox_dir is required")
	}
	return nil
}

// APIKey returns the key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (l LLMConfig) APIKey() string {
	envVar := l.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(l.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// RetryBackoffDuration parses the retry_backoff setting, zero when unset.
func (l LLMConfig) RetryBackoffDuration() time.Duration {
	if l.RetryBackoff == "" {
		return 0
	}
	d, err := time.ParseDuration(l.RetryBackoff)
	if err != nil {
		return 0
	}
	return d
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "openrouter":
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}

// SerperAPIKey returns the Serper search key from the configured env var.
func (t ToolsConfig) SerperAPIKey() string {
	if t.SerperAPIKeyEnv == "" {
		return ""
	}
	return os.Getenv(t.SerperAPIKeyEnv)
}

// Timeout returns the per-tool timeout.
func (t ToolsConfig) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}
