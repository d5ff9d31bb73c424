package config

import (
	"errors"
	"os"
	"strings"

	"github.com/ShayCichocki/missionctl/internal/llm"
)

// ErrNoAPIKey is returned when no API key is configured for the primary backend.
var ErrNoAPIKey = errors.New("no API key configured")

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_credentials"
	KeySourceNone    KeySource = "none"
)

// keyEnv names the environment variable holding each backend's key.
var keyEnv = map[string]string{
	llm.BackendAnthropic: "ANTHROPIC_API_KEY",
	llm.BackendOpenAI:    llm.OpenAIEnvPrefix + "_API_KEY",
}

// GetAPIKey returns the key for backend. It checks the environment variable
// first, then the config file.
func GetAPIKey(cfg *Config, backend string) (string, error) {
	key, src := lookupKey(cfg, backend)
	if src == KeySourceNone || src == KeySourceBedrock {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetAPIKeySource returns where the key for backend comes from.
func GetAPIKeySource(cfg *Config, backend string) KeySource {
	_, src := lookupKey(cfg, backend)
	return src
}

func lookupKey(cfg *Config, backend string) (string, KeySource) {
	if backend == llm.BackendAnthropic && cfg != nil && cfg.LLM.Anthropic.UseBedrock {
		return "", KeySourceBedrock
	}
	if env, ok := keyEnv[backend]; ok {
		if key := os.Getenv(env); key != "" {
			return key, KeySourceEnv
		}
	}
	if cfg == nil {
		return "", KeySourceNone
	}

	var key string
	switch backend {
	case llm.BackendAnthropic:
		key = cfg.LLM.Anthropic.APIKey
	case llm.BackendOpenAI:
		key = cfg.LLM.OpenAI.APIKey
	}
	key = os.ExpandEnv(key)
	if key == "" || strings.HasPrefix(key, "${") {
		return "", KeySourceNone
	}
	return key, KeySourceConfig
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}
