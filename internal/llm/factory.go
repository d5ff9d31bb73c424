package llm

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Backend names accepted in configuration.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendNone      = ""
)

// Config selects and configures the primary and fallback backends.
type Config struct {
	Primary   string          `mapstructure:"primary"`
	Fallback  string          `mapstructure:"fallback"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
}

// NewFromConfig builds the configured provider chain. A fallback that fails
// to construct is logged and skipped; a primary that fails is an error.
func NewFromConfig(cfg Config, log zerolog.Logger) (Provider, error) {
	primary, err := newBackend(cfg.Primary, cfg)
	if err != nil {
		return nil, fmt.Errorf("primary provider: %w", err)
	}
	if cfg.Fallback == BackendNone || cfg.Fallback == cfg.Primary {
		return primary, nil
	}

	fallback, err := newBackend(cfg.Fallback, cfg)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.Fallback).Msg("fallback provider disabled")
		return primary, nil
	}
	return NewChain(log, primary, fallback)
}

func newBackend(name string, cfg Config) (Provider, error) {
	switch name {
	case BackendAnthropic:
		return NewAnthropic(cfg.Anthropic)
	case BackendOpenAI:
		oc, err := MergeOpenAIEnv(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(oc)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", name)
	}
}
