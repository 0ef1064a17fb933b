package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr string `env:"ADDR" envDefault:":8080"`

	DisconnectGrace  time.Duration `env:"DISCONNECT_GRACE" envDefault:"3s"`
	AutoRevealDelay  time.Duration `env:"AUTO_REVEAL_DELAY" envDefault:"5s"`
	KnockoutRecovery time.Duration `env:"KNOCKOUT_RECOVERY" envDefault:"3s"`

	// Summary generation is disabled (static fallback) without an API key.
	SummaryBaseURL string        `env:"SUMMARY_BASE_URL" envDefault:"https://api.openai.com/v1"`
	SummaryAPIKey  string        `env:"SUMMARY_API_KEY"`
	SummaryModel   string        `env:"SUMMARY_MODEL" envDefault:"gpt-4o-mini"`
	SummaryTimeout time.Duration `env:"SUMMARY_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
