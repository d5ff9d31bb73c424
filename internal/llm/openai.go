package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend
// (OpenAI, OpenRouter, local gateways).
type OpenAIConfig struct {
	BaseURL     string        `mapstructure:"base_url" envconfig:"BASE_URL" split_words:"true"`
	APIKey      string        `mapstructure:"api_key" envconfig:"API_KEY" split_words:"true"`
	Model       string        `mapstructure:"model" envconfig:"MODEL" split_words:"true"`
	MaxTokens   int64         `mapstructure:"max_tokens" envconfig:"MAX_TOKENS" split_words:"true"`
	// Temperature below zero leaves the backend default.
	Temperature float64       `mapstructure:"temperature" envconfig:"TEMPERATURE" split_words:"true" default:"-1"`
	Timeout     time.Duration `mapstructure:"timeout" envconfig:"TIMEOUT" split_words:"true"`
	MaxRetries  int           `mapstructure:"max_retries" envconfig:"MAX_RETRIES" split_words:"true"`
}

// OpenAIEnvPrefix is the environment prefix read by MergeOpenAIEnv.
const OpenAIEnvPrefix = "MISSIONCTL_OPENAI"

// MergeOpenAIEnv fills empty fields of cfg from MISSIONCTL_OPENAI_* variables.
// Values already set in cfg win.
func MergeOpenAIEnv(cfg OpenAIConfig) (OpenAIConfig, error) {
	var env OpenAIConfig
	if err := envconfig.Process(OpenAIEnvPrefix, &env); err != nil {
		return cfg, fmt.Errorf("openai env: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = env.BaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = env.APIKey
	}
	if cfg.Model == "" {
		cfg.Model = env.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = env.MaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = env.Temperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = env.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = env.MaxRetries
	}
	return cfg, nil
}

// OpenAI is a Provider backed by an OpenAI-compatible API.
type OpenAI struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	usage       *Usage
}

// NewOpenAI creates the OpenAI-compatible provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w: api key is not set", ErrProviderUnavailable)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		usage:       &Usage{},
	}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// Usage returns the token accounting for this provider.
func (o *OpenAI) Usage() *Usage { return o.usage }

// PromptText implements Provider.
func (o *OpenAI) PromptText(ctx context.Context, system, user string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.maxTokens)
	}
	if o.temperature >= 0 {
		params.Temperature = openai.Float(o.temperature)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAI(err)
	}
	o.usage.Add(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAI(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if unavailableStatus(apiErr.StatusCode) {
			return fmt.Errorf("openai: %w: %v", ErrProviderUnavailable, err)
		}
		return fmt.Errorf("openai: %w", err)
	}
	return fmt.Errorf("openai: %w: %v", ErrProviderUnavailable, err)
}
