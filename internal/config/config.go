// Package config loads dealdesk configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all dealdesk configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Notify   NotifyConfig   `yaml:"notify"`
	Serve    ServeConfig    `yaml:"serve"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Root              string `yaml:"root"`            // event log + snapshot root
	ProjectionPath    string `yaml:"projection_path"` // SQLite read model
	DisableProjection bool   `yaml:"disable_projection"`
}

// LLMConfig configures the reasoning-unit runner.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"` // long bound for heavy reasoning calls
}

// SearchConfig configures the evidence provider.
type SearchConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"` // short bound for latency-sensitive lookups
}

// PipelineConfig tunes orchestration.
type PipelineConfig struct {
	ProviderConcurrency int `yaml:"provider_concurrency"` // nested cap on provider calls
	MaxRetries          int `yaml:"max_retries"`          // gate retry ceiling
}

// NotifyConfig configures the completion webhook.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// ServeConfig configures the SSE/status server.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the baseline configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".dealdesk")
	return Config{
		Store: StoreConfig{
			Root:           root,
			ProjectionPath: filepath.Join(root, "index.db"),
		},
		LLM: LLMConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "40s",
		},
		Search: SearchConfig{
			BaseURL: "https://api.tavily.com/search",
			Timeout: "12s",
		},
		Pipeline: PipelineConfig{
			ProviderConcurrency: 2,
			MaxRetries:          1,
		},
		Serve: ServeConfig{
			Addr: "localhost:8787",
		},
	}
}

// Load reads the config file at path (optional), applying defaults and
// environment overrides. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// Secrets come from the environment when set.
	if v := os.Getenv("DEALDESK_GEMINI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DEALDESK_SEARCH_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("DEALDESK_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural validity. Missing API keys are not an error
// here; commands that need them fail with a clear message at wiring time.
func (c Config) Validate() error {
	if c.Store.Root == "" {
		return fmt.Errorf("store.root must not be empty")
	}
	if _, err := c.LLMTimeout(); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	if _, err := c.SearchTimeout(); err != nil {
		return fmt.Errorf("search.timeout: %w", err)
	}
	if c.Pipeline.ProviderConcurrency < 1 {
		return fmt.Errorf("pipeline.provider_concurrency must be >= 1")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	return nil
}

// LLMTimeout parses the reasoning-call timeout.
func (c Config) LLMTimeout() (time.Duration, error) {
	return parseTimeout(c.LLM.Timeout, 40*time.Second)
}

// SearchTimeout parses the evidence-call timeout.
func (c Config) SearchTimeout() (time.Duration, error) {
	return parseTimeout(c.Search.Timeout, 12*time.Second)
}

func parseTimeout(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}
