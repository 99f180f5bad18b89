package cli

import (
	"context"
	"time"
)

// Config holds the CLI's own settings, kept off package globals so that
// tests can run several CLIs side by side
type Config struct {
	ConfigFile string
	Verbosity  string
	Version    string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		Verbosity: "info",
		Version:   "dev",
	}
}

// RuntimeConfig holds runtime configuration for commands
type RuntimeConfig struct {
	Config    *Config
	Context   context.Context
	StartTime time.Time
}

// NewRuntimeConfig creates a runtime configuration with context
func NewRuntimeConfig(cfg *Config, ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RuntimeConfig{
		Config:    cfg,
		Context:   ctx,
		StartTime: time.Now(),
	}
}

// Elapsed returns the time since the command started
func (rc *RuntimeConfig) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}

// WithTimeout creates a new context with timeout
func (rc *RuntimeConfig) WithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(rc.Context, timeout)
}
