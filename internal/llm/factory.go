package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config selects and configures a provider.
type Config struct {
	Provider    string        `yaml:"provider"` // openai, gemini or fake
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float32       `yaml:"temperature"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns the defaults: OpenAI with a single attempt.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		MaxAttempts: 1,
		RetryDelay:  500 * time.Millisecond,
	}
}

// New builds the configured provider wrapped with logging and retry
// middleware. Callers add per-run middleware such as WithRecorder with Wrap.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Client, error) {
	var (
		c   Client
		err error
	)
	switch cfg.Provider {
	case "openai":
		c, err = NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature)
	case "gemini":
		model := cfg.Model
		if model == "" {
			model = "gemini-2.0-flash"
		}
		c, err = NewGeminiClient(ctx, cfg.APIKey, model, cfg.Temperature)
	case "fake":
		c = NewFakeClient()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Wrap(c, WithLogging(logger), Retry(cfg.MaxAttempts, cfg.RetryDelay)), nil
}
