package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Worker   WorkerConfig   `yaml:"worker"`
	GitHub   GitHubConfig   `yaml:"github"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`
	// JWTSecret is a base64-encoded signing secret. When empty, a secret is
	// generated once and persisted in the store's config table.
	JWTSecret string `yaml:"jwt_secret"`
}

type WorkerConfig struct {
	// URL is the base URL of the ai-coding-worker service.
	URL string `yaml:"url"`
}

type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080", BaseURL: "http://localhost:8080"},
		Worker:   WorkerConfig{URL: "http://localhost:5001"},
		Database: DatabaseConfig{Path: "webedt.db"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a file. An empty path loads defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	// .env files are a development convenience; a missing one is fine.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AI_WORKER_URL"); v != "" {
		cfg.Worker.URL = v
	}
	if v := os.Getenv("WEBEDT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("WEBEDT_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("WEBEDT_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("WEBEDT_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GITHUB_CLIENT_ID"); v != "" {
		cfg.GitHub.ClientID = v
	}
	if v := os.Getenv("GITHUB_CLIENT_SECRET"); v != "" {
		cfg.GitHub.ClientSecret = v
	}
	if v := os.Getenv("WEBEDT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Worker.URL == "" {
		return fmt.Errorf("worker.url is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
