// Package config provides environment-based configuration for the case agent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/case-analyzer/internal/backoff"
	"github.com/jonathan/case-analyzer/internal/llm"
)

// Config holds all runtime configuration. Values come from environment
// variables (a .env file is loaded by the CLI before FromEnv runs).
type Config struct {
	DatabaseURL  string `validate:"required"`
	GeminiAPIKey string `validate:"required"`
	ListenAddr   string `validate:"required"`

	// Model overrides per tier; empty values fall back to the defaults in
	// the llm package.
	ModelLite     string
	ModelStandard string
	ModelAdvanced string

	MaxRetries   int           `validate:"min=0,max=10"`
	InitialDelay time.Duration `validate:"min=0"`
	MaxDelay     time.Duration `validate:"min=0"`
}

// FromEnv builds a Config from environment variables, applying defaults for
// everything except the database URL and API key.
func FromEnv() *Config {
	return &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		ListenAddr:    envOr("CASE_AGENT_ADDR", ":8080"),
		ModelLite:     os.Getenv("CASE_AGENT_MODEL_LITE"),
		ModelStandard: os.Getenv("CASE_AGENT_MODEL_STANDARD"),
		ModelAdvanced: os.Getenv("CASE_AGENT_MODEL_ADVANCED"),
		MaxRetries:    envInt("CASE_AGENT_MAX_RETRIES", 3),
		InitialDelay:  envDuration("CASE_AGENT_INITIAL_DELAY", 1*time.Second),
		MaxDelay:      envDuration("CASE_AGENT_MAX_DELAY", 30*time.Second),
	}
}

// Validate validates the configuration using the validator.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("invalid configuration: max delay %s is below initial delay %s",
			c.MaxDelay, c.InitialDelay)
	}
	return nil
}

// LLMConfig returns the model mapping with any per-tier overrides applied
func (c *Config) LLMConfig() *llm.Config {
	cfg := llm.DefaultConfig()
	if c.ModelLite != "" {
		cfg.Models[llm.TierLite] = c.ModelLite
	}
	if c.ModelStandard != "" {
		cfg.Models[llm.TierStandard] = c.ModelStandard
	}
	if c.ModelAdvanced != "" {
		cfg.Models[llm.TierAdvanced] = c.ModelAdvanced
	}
	return cfg
}

// BackoffPolicy returns the retry policy for generation calls
func (c *Config) BackoffPolicy() backoff.Policy {
	return backoff.Policy{
		MaxRetries:   c.MaxRetries,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
