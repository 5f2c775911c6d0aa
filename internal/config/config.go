// Package config loads the YAML configuration with environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/market"
	"github.com/rcliao/narrative-market/internal/staking"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Market    market.Config   `yaml:"market"`
	Staking   staking.Config  `yaml:"staking"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // mock, ollama, openai
	Model     string        `yaml:"model"`
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	Dims      int           `yaml:"dims"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxLength int           `yaml:"max_length"`
	CacheSize int           `yaml:"cache_size"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst int           `yaml:"rate_burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", Path: DefaultDBPath()},
		Server: ServerConfig{
			Addr:            ":3001",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Embedding: EmbeddingConfig{
			Provider:  "mock",
			Dims:      768,
			Timeout:   30 * time.Second,
			MaxLength: 5000,
			CacheSize: 1024,
			RateBurst: 1,
		},
		Market:  market.DefaultConfig(),
		Staking: staking.DefaultConfig(),
	}
}

// DefaultDBPath is ~/.narrative-market/market.db, or a relative path when the home
// directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".narrative-market", "market.db")
	}
	return filepath.Join(home, ".narrative-market", "market.db")
}

// Load reads configuration from a file layered over Default. An empty path skips the
// file. Environment variables override both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerr.Wrap(errs.ErrInvalidInput, "failed to parse config file",
				goerr.V("path", path), goerr.V("cause", err.Error()))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid configuration", goerr.V("path", path))
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("NARRATIVE_MARKET_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("NARRATIVE_MARKET_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("NARRATIVE_MARKET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NARRATIVE_MARKET_EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("NARRATIVE_MARKET_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("NARRATIVE_MARKET_EMBED_URL"); v != "" {
		c.Embedding.URL = v
	}
	if v := os.Getenv("NARRATIVE_MARKET_EMBED_DIMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return goerr.Wrap(errs.ErrInvalidInput, "NARRATIVE_MARKET_EMBED_DIMS must be an integer",
				goerr.V("value", v))
		}
		c.Embedding.Dims = n
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" && c.Embedding.Provider == "ollama" && c.Embedding.URL == "" {
		c.Embedding.URL = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return invalid("database.path is required", c.Database.Path)
		}
	case "memory":
	default:
		return invalid("database.driver must be 'sqlite' or 'memory'", c.Database.Driver)
	}
	switch c.Embedding.Provider {
	case "", "mock", "hash", "ollama", "openai":
	default:
		return invalid("embedding.provider must be 'mock', 'ollama' or 'openai'", c.Embedding.Provider)
	}
	if c.Embedding.Dims <= 0 {
		return invalid("embedding.dims must be positive", c.Embedding.Dims)
	}
	if c.Embedding.MaxLength <= 0 {
		return invalid("embedding.max_length must be positive", c.Embedding.MaxLength)
	}
	if c.Embedding.Timeout <= 0 {
		return invalid("embedding.timeout must be positive", c.Embedding.Timeout)
	}
	if c.Embedding.RateLimit < 0 {
		return invalid("embedding.rate_limit must not be negative", c.Embedding.RateLimit)
	}
	if err := c.Market.Validate(); err != nil {
		return goerr.Wrap(err, "market")
	}
	if err := c.Staking.Validate(); err != nil {
		return goerr.Wrap(err, "staking")
	}
	return nil
}

func invalid(msg string, value any) error {
	return goerr.Wrap(errs.ErrInvalidInput, msg, goerr.V("value", value))
}
