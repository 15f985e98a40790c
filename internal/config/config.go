// Package config provides configuration loading for almseed.
//
// Configuration comes from hardcoded defaults, an optional YAML file, an optional .env file
// in the working directory, and ALMSEED_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete almseed configuration.
type Config struct {
	Tracker   TrackerConfig   `koanf:"tracker"`
	Synthesis SynthesisConfig `koanf:"synthesis"`
	PLM       PLMConfig       `koanf:"plm"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// TrackerConfig holds connection settings for the ALM tracker server.
type TrackerConfig struct {
	BaseURL  string        `koanf:"base_url"`
	Username string        `koanf:"username"`
	Password Secret        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
	// RateLimit is the sustained request rate in requests per second (0 disables pacing).
	RateLimit float64 `koanf:"rate_limit"`
}

// SynthesisConfig holds settings for the text-completion service.
type SynthesisConfig struct {
	Provider    string        `koanf:"provider"` // chat or langchain
	Endpoint    string        `koanf:"endpoint"`
	APIKey      Secret        `koanf:"api_key"`
	AuthStyle   string        `koanf:"auth_style"` // azure or bearer
	Model       string        `koanf:"model"`
	APIVersion  string        `koanf:"api_version"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

// PLMConfig holds connection settings for the PLM (Windchill) server.
type PLMConfig struct {
	BaseURL  string `koanf:"base_url"`
	Username string `koanf:"username"`
	Password Secret `koanf:"password"`
}

// PipelineConfig holds settings shared by the generation and purge pipelines.
type PipelineConfig struct {
	Workers        int    `koanf:"workers"`
	Product        string `koanf:"product"`
	PurgeMaxPasses int    `koanf:"purge_max_passes"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
//
// Tracker and synthesis endpoints are optional at load time; commands that need
// them check for presence themselves.
func (c *Config) Validate() error {
	if c.Tracker.BaseURL != "" {
		if err := validateURL(c.Tracker.BaseURL); err != nil {
			return fmt.Errorf("tracker.base_url: %w", err)
		}
	}
	if c.Tracker.RateLimit < 0 {
		return errors.New("tracker.rate_limit must be >= 0")
	}

	switch c.Synthesis.Provider {
	case "chat", "langchain":
	default:
		return fmt.Errorf("synthesis.provider must be 'chat' or 'langchain', got %q", c.Synthesis.Provider)
	}
	switch c.Synthesis.AuthStyle {
	case "azure", "bearer":
	default:
		return fmt.Errorf("synthesis.auth_style must be 'azure' or 'bearer', got %q", c.Synthesis.AuthStyle)
	}
	if c.Synthesis.MaxTokens <= 0 {
		return fmt.Errorf("synthesis.max_tokens must be positive, got %d", c.Synthesis.MaxTokens)
	}
	if c.Synthesis.Temperature < 0 || c.Synthesis.Temperature > 2 {
		return fmt.Errorf("synthesis.temperature must be between 0 and 2, got %v", c.Synthesis.Temperature)
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.PurgeMaxPasses < 1 {
		return fmt.Errorf("pipeline.purge_max_passes must be >= 1, got %d", c.Pipeline.PurgeMaxPasses)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
