package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GeminiConfig holds the generative backend settings. The API key is taken
// from the GEMINI_API_KEY environment variable when set, so it never has to
// live in the config file.
type GeminiConfig struct {
	APIKey         string      `yaml:"api_key"`
	BaseURL        string      `yaml:"base_url"`
	Model          string      `yaml:"model"`
	TimeoutSeconds int         `yaml:"timeout_seconds"`
	RPMLimit       int         `yaml:"rpm_limit"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig holds the gateway retry and backoff settings
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// PipelineConfig holds generation defaults and streaming settings
type PipelineConfig struct {
	WordsPerScene     int           `yaml:"words_per_scene"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key is required (set gemini.api_key or GEMINI_API_KEY)")
	}

	if c.Gemini.Model == "" {
		return fmt.Errorf("gemini model is required")
	}

	if c.Gemini.RPMLimit <= 0 {
		return fmt.Errorf("gemini rpm_limit must be greater than 0")
	}

	if c.Gemini.Retry.Attempts <= 0 {
		return fmt.Errorf("gemini retry attempts must be greater than 0")
	}

	if c.Pipeline.WordsPerScene <= 0 {
		return fmt.Errorf("pipeline words_per_scene must be greater than 0")
	}

	if c.Pipeline.HeartbeatInterval <= 0 {
		return fmt.Errorf("pipeline heartbeat_interval must be greater than 0")
	}

	return nil
}
