package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping them to keys.
	EnvPrefix = "ALMSEED_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ALMSEED_TRACKER_BASE_URL, ALMSEED_PIPELINE_WORKERS, etc.)
//  2. .env file in the working directory (never overrides variables already set)
//  3. YAML config file (~/.config/almseed/config.yaml)
//  4. Hardcoded defaults
//
// The file must live in ~/.config/almseed/ or /etc/almseed/, have 0600 or 0400
// permissions and be smaller than 1MB. A missing file is not an error.
//
// Environment variables map SECTION_FIELD_NAME to section.field_name:
//
//	ALMSEED_TRACKER_BASE_URL -> tracker.base_url
//	ALMSEED_SYNTHESIS_API_KEY -> synthesis.api_key
//
// OPENAI_KEY is accepted as a fallback for synthesis.api_key.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "almseed", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !cfg.Synthesis.APIKey.IsSet() {
		cfg.Synthesis.APIKey = Secret(os.Getenv("OPENAI_KEY"))
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps ALMSEED_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore after the prefix separates section from field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// loadDotEnv populates the process environment from a .env file if one exists.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// readConfigFile opens the file once and validates it through the open descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "almseed"),
		"/etc/almseed",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/almseed/ or /etc/almseed/")
}

// validateConfigFileProperties checks file permissions and size.
// The file holds credentials, so only owner-readable files are accepted.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Tracker.Timeout == 0 {
		cfg.Tracker.Timeout = 60 * time.Second
	}

	if cfg.Synthesis.Provider == "" {
		cfg.Synthesis.Provider = "chat"
	}
	if cfg.Synthesis.AuthStyle == "" {
		cfg.Synthesis.AuthStyle = "azure"
	}
	if cfg.Synthesis.Model == "" {
		cfg.Synthesis.Model = "gpt-4o-mini"
	}
	if cfg.Synthesis.APIVersion == "" {
		cfg.Synthesis.APIVersion = "2025-01-01-preview"
	}
	if cfg.Synthesis.MaxTokens == 0 {
		cfg.Synthesis.MaxTokens = 4000
	}
	if cfg.Synthesis.Temperature == 0 {
		cfg.Synthesis.Temperature = 0.5
	}
	if cfg.Synthesis.Timeout == 0 {
		cfg.Synthesis.Timeout = 120 * time.Second
	}

	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 32
	}
	if cfg.Pipeline.PurgeMaxPasses == 0 {
		cfg.Pipeline.PurgeMaxPasses = 1000
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
		cfg.Telemetry.Insecure = true
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "almseed"
	}
}
