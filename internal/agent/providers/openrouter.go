package providers

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenRouterConfig configures a provider against OpenRouter's unified,
// OpenAI-compatible endpoint for 200+ models across many vendors.
type OpenRouterConfig struct {
	// APIKey is the OpenRouter API key.
	APIKey string

	// DefaultModel is used when a request omits one, e.g. "openai/gpt-4o".
	DefaultModel string
}

// NewOpenRouterProvider constructs a provider against OpenRouter.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = "https://openrouter.ai/api/v1"

	return newOpenAIProviderWithClient("openrouter", openai.NewClientWithConfig(clientConfig), cfg.DefaultModel), nil
}
