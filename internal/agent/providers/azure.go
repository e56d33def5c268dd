package providers

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// AzureOpenAIConfig configures a provider against Azure OpenAI Service. Azure
// uses the same Chat Completions wire format as direct OpenAI but a different
// URL shape and a mandatory API version, so only client construction differs
// from OpenAIProvider.
type AzureOpenAIConfig struct {
	// Endpoint is the Azure OpenAI resource endpoint, e.g.
	// https://{resource-name}.openai.azure.com
	Endpoint string

	// APIKey is the Azure OpenAI API key.
	APIKey string

	// APIVersion is the required query parameter (default: 2024-02-15-preview).
	APIVersion string

	// DefaultModel is the deployment name to use when a request omits one.
	DefaultModel string
}

// NewAzureOpenAIProvider constructs a provider against an Azure OpenAI
// deployment.
func NewAzureOpenAIProvider(cfg AzureOpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("azure: API key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-15-preview"
	}

	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientConfig.APIVersion = cfg.APIVersion

	return newOpenAIProviderWithClient("azure", openai.NewClientWithConfig(clientConfig), cfg.DefaultModel), nil
}
