// SPDX-License-Identifier: AGPL-3.0-only

// Package config manages broker configuration. Process-level settings are
// layered defaults -> optional YAML file -> environment -> command-line
// flags; per-request provider settings are resolved on top of that from the
// request body, with API keys always preferring the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TenzinPlatter/nvim-llm-request/internal/errors"
	"github.com/TenzinPlatter/nvim-llm-request/internal/protocol"
)

// Known provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderLocal     = "local"
)

// Built-in defaults.
const (
	DefaultTimeoutSeconds = 30
	DefaultMaxToolCalls   = 3
	DefaultLocalAPIKey    = "none"
	DefaultLocalBaseURL   = "http://localhost:11434/v1"
)

// defaultModels maps each provider to the model used when neither the
// request body nor the environment names one.
var defaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderOpenAI:    "gpt-4o",
	ProviderLocal:     "deepseek-coder:6.7b",
}

// Config holds broker-level configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	AI      AIConfig      `yaml:"ai"`
	Store   StoreConfig   `yaml:"store"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level: debug, info, warn, error.
	Level string `yaml:"level"`
	// FilePath is the log file path. Empty means stderr.
	FilePath string `yaml:"file_path"`
}

// AIConfig holds provider defaults shared by all requests. API keys are
// never read from the config file; they come from the environment or, as a
// fallback, the request body.
type AIConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	Timeout      int    `yaml:"timeout"`
	MaxToolCalls int    `yaml:"max_tool_calls"`

	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	LocalAPIKey     string `yaml:"-"`
	LocalBaseURL    string `yaml:"-"`
}

// StoreConfig holds transcript persistence configuration.
type StoreConfig struct {
	// DBPath is the SQLite database path for request transcripts. Empty
	// disables persistence.
	DBPath string `yaml:"db_path"`
}

// ProviderConfig is the fully resolved per-request provider configuration.
type ProviderConfig struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxToolCalls int
}

// DefaultConfig returns a configuration with built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		AI: AIConfig{
			Provider:     ProviderAnthropic,
			Timeout:      DefaultTimeoutSeconds,
			MaxToolCalls: DefaultMaxToolCalls,
		},
	}
}

// LoadFile overlays settings from a YAML config file onto cfg. A missing
// file is not an error; parse failures are.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// FromEnv overlays environment variables onto cfg. API key variables are
// always captured so request-body keys can be overridden during resolution.
func FromEnv(cfg *Config) {
	if v := os.Getenv("AI_REQUEST_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("AI_REQUEST_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("AI_REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AI.Timeout = n
		}
	}
	if v := os.Getenv("AI_REQUEST_MAX_TOOL_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AI.MaxToolCalls = n
		}
	}
	cfg.AI.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.AI.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AI.LocalAPIKey = os.Getenv("AI_REQUEST_LOCAL_API_KEY")
	cfg.AI.LocalBaseURL = os.Getenv("AI_REQUEST_LOCAL_URL")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if !knownProvider(c.AI.Provider) {
		return errors.InvalidConfiguration(fmt.Sprintf("unknown provider %q, must be one of: anthropic, openai, local", c.AI.Provider))
	}
	if c.AI.Timeout <= 0 {
		return errors.InvalidConfiguration("timeout must be positive")
	}
	if c.AI.MaxToolCalls <= 0 {
		return errors.InvalidConfiguration("max_tool_calls must be positive")
	}
	return nil
}

// ResolveProvider resolves the effective provider configuration for one
// request. Precedence is request body, then environment, then defaults,
// except API keys: the provider's environment variable always wins over a
// body-supplied key, and local falls back to a sentinel key instead of
// failing.
func (c *Config) ResolveProvider(body *protocol.ProviderConfigBody) (*ProviderConfig, error) {
	if body == nil {
		body = &protocol.ProviderConfigBody{}
	}

	provider := strings.ToLower(strings.TrimSpace(body.Provider))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	}
	if !knownProvider(provider) {
		return nil, errors.InvalidConfiguration(fmt.Sprintf("unknown provider %q, must be one of: anthropic, openai, local", provider))
	}

	model := body.Model
	if model == "" {
		model = c.AI.Model
	}
	if model == "" {
		model = defaultModels[provider]
	}

	timeout := body.Timeout
	if timeout <= 0 {
		timeout = c.AI.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}

	maxToolCalls := body.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = c.AI.MaxToolCalls
	}
	if maxToolCalls <= 0 {
		maxToolCalls = DefaultMaxToolCalls
	}

	apiKey, err := c.resolveAPIKey(provider, body.APIKey)
	if err != nil {
		return nil, err
	}

	baseURL := body.BaseURL
	if baseURL == "" {
		baseURL = c.AI.BaseURL
	}
	if baseURL == "" && provider == ProviderLocal {
		baseURL = c.AI.LocalBaseURL
		if baseURL == "" {
			baseURL = DefaultLocalBaseURL
		}
	}

	return &ProviderConfig{
		Provider:     provider,
		Model:        model,
		APIKey:       apiKey,
		BaseURL:      baseURL,
		Timeout:      time.Duration(timeout) * time.Second,
		MaxToolCalls: maxToolCalls,
	}, nil
}

// resolveAPIKey applies the env-first key policy: a request-supplied key is
// used only when the provider's environment variable is absent.
func (c *Config) resolveAPIKey(provider, bodyKey string) (string, error) {
	var key string
	switch provider {
	case ProviderAnthropic:
		key = c.AI.AnthropicAPIKey
	case ProviderOpenAI:
		key = c.AI.OpenAIAPIKey
	case ProviderLocal:
		key = c.AI.LocalAPIKey
	}
	if key == "" {
		key = bodyKey
	}
	if key == "" {
		if provider == ProviderLocal {
			return DefaultLocalAPIKey, nil
		}
		return "", errors.InvalidConfiguration(fmt.Sprintf("API key not found for provider %q, set %s_API_KEY", provider, strings.ToUpper(provider)))
	}
	return key, nil
}

func knownProvider(p string) bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderLocal:
		return true
	}
	return false
}
