// Package config loads gateway configuration from a YAML file with
// environment overrides for secrets. Configuration is read once at process
// start and treated as immutable afterwards.
package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/transcribomatic/gateway/pkg/gate"
)

// OpenAIConfig holds upstream API credentials.
type OpenAIConfig struct {
	APIKey    string `koanf:"api-key"`
	OrgID     string `koanf:"org-id"`
	ProjectID string `koanf:"project-id"`
}

// DatabaseConfig holds the ledger store connection settings.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RatesConfig holds the unit costs: dollars per 1M tokens per class, and
// dollars per generated image.
type RatesConfig struct {
	TextInput   float64 `koanf:"text-input"`
	TextCached  float64 `koanf:"text-cached"`
	TextOutput  float64 `koanf:"text-output"`
	AudioInput  float64 `koanf:"audio-input"`
	AudioCached float64 `koanf:"audio-cached"`
	AudioOutput float64 `koanf:"audio-output"`
	Image       float64 `koanf:"image"`
}

// Config is the full gateway configuration.
type Config struct {
	Listen        string         `koanf:"listen"`
	BaseURL       string         `koanf:"base-url"`
	Secret        string         `koanf:"secret"`
	WeeklyCap     float64        `koanf:"weekly-cap"`
	DefaultModel  string         `koanf:"default-model"`
	AllowedModels []string       `koanf:"allowed-models"`
	OpenAI        OpenAIConfig   `koanf:"openai"`
	Database      DatabaseConfig `koanf:"database"`
	Rates         RatesConfig    `koanf:"rates"`
}

// Default returns the built-in configuration: current upstream list prices
// and a $2.00 weekly cap.
func Default() Config {
	return Config{
		Listen:       ":8080",
		WeeklyCap:    2.00,
		DefaultModel: "gpt-4o-realtime-preview",
		Rates: RatesConfig{
			TextInput:   5.00,
			TextCached:  2.50,
			TextOutput:  20.00,
			AudioInput:  40.00,
			AudioCached: 2.50,
			AudioOutput: 80.00,
			Image:       0.011,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; env vars OPENAI_API_KEY, GATEWAY_SECRET and DATABASE_URL
// override their file counterparts.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config %s: %w", path, err)
			}
			if err := k.Unmarshal("", &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("GATEWAY_SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	return &cfg, nil
}

// GateRates converts the configured rates for the gate manager.
func (c *Config) GateRates() gate.Rates {
	return gate.Rates{
		TextInput:   c.Rates.TextInput,
		TextCached:  c.Rates.TextCached,
		TextOutput:  c.Rates.TextOutput,
		AudioInput:  c.Rates.AudioInput,
		AudioCached: c.Rates.AudioCached,
		AudioOutput: c.Rates.AudioOutput,
		Image:       c.Rates.Image,
	}
}
