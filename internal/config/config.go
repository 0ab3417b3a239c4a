package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is populated from environment variables (.env is loaded first when present).
type Config struct {
	StoragePath string `env:"STORAGE_PATH" envDefault:"data/chatmind.json"`

	APIAddr  string `env:"API_ADDR" envDefault:":8080"`
	APIToken string `env:"API_TOKEN"`

	AIProvider   string `env:"AI_PROVIDER" envDefault:"openai"` // "openai" | "pollinations"
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// Outbound send limiter: messages per minute across all accounts.
	SendRatePerMinute int `env:"SEND_RATE_PER_MINUTE" envDefault:"20"`
}

func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.AIProvider == "openai" && cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set (required for AI_PROVIDER=openai)")
	}

	return cfg, nil
}
