package providers

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// CopilotProxyConfig configures a provider against a local Copilot Proxy
// instance, which exposes GitHub Copilot-backed models through an
// OpenAI-compatible endpoint and needs no API key of its own.
type CopilotProxyConfig struct {
	// BaseURL is the proxy endpoint (default: http://localhost:3000/v1).
	BaseURL string

	// DefaultModel is used when a request omits one.
	DefaultModel string
}

// NewCopilotProxyProvider constructs a provider against a Copilot Proxy.
func NewCopilotProxyProvider(cfg CopilotProxyConfig) *OpenAIProvider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "http://localhost:3000/v1"
	}

	clientConfig := openai.DefaultConfig("n/a")
	clientConfig.BaseURL = baseURL

	return newOpenAIProviderWithClient("copilot-proxy", openai.NewClientWithConfig(clientConfig), cfg.DefaultModel)
}
