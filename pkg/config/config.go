// Package config loads valet configuration from defaults, an optional YAML
// file and environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type NATSConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret" env:"SECRET"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

type ProviderConfig struct {
	Name            string `yaml:"name" env:"NAME"`
	Model           string `yaml:"model" env:"MODEL"`
	AnthropicAPIKey string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
}

type RedisConfig struct {
	// Addr empty means contacts live in process memory.
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

type UIConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type PipelineConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	ResultTTL   time.Duration `yaml:"result_ttl" env:"RESULT_TTL"`
}

type Config struct {
	LogLevel  string         `yaml:"log_level" env:"VALET_LOG_LEVEL"`
	StateDir  string         `yaml:"state_dir" env:"VALET_STATE_DIR"`
	AuditPath string         `yaml:"audit_path" env:"VALET_AUDIT_PATH"`
	NATS      NATSConfig     `yaml:"nats" envPrefix:"VALET_NATS_"`
	Auth      AuthConfig     `yaml:"auth" envPrefix:"VALET_AUTH_"`
	Provider  ProviderConfig `yaml:"provider" envPrefix:"VALET_PROVIDER_"`
	Redis     RedisConfig    `yaml:"redis" envPrefix:"VALET_REDIS_"`
	UI        UIConfig       `yaml:"ui" envPrefix:"VALET_UI_"`
	Pipeline  PipelineConfig `yaml:"pipeline" envPrefix:"VALET_PIPELINE_"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		StateDir:  "data",
		AuditPath: "data/audit.db",
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Timeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
		},
		Provider: ProviderConfig{
			Name: "anthropic",
		},
		UI: UIConfig{
			Addr: "localhost:8090",
		},
		Pipeline: PipelineConfig{
			CallTimeout: 15 * time.Second,
			ResultTTL:   5 * time.Second,
		},
	}
}

// Load layers a YAML file (if path is non-empty and exists) and environment
// variables over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required (VALET_AUTH_SECRET)")
	}
	switch c.Provider.Name {
	case "anthropic":
		if c.Provider.AnthropicAPIKey == "" {
			return fmt.Errorf("provider.anthropic_api_key is required for the anthropic provider")
		}
	case "openai":
		if c.Provider.OpenAIAPIKey == "" {
			return fmt.Errorf("provider.openai_api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Pipeline.CallTimeout <= 0 {
		return fmt.Errorf("pipeline.call_timeout must be positive")
	}
	if c.Pipeline.ResultTTL <= 0 {
		return fmt.Errorf("pipeline.result_ttl must be positive")
	}
	return nil
}
