package providers

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentrun/internal/llm"
)

// Selection names the provider adapter to construct and the credential/
// endpoint values to construct it with. Callers resolve APIKey from
// whatever the configured api_key_env names before calling New — this
// package never reads the environment itself.
type Selection struct {
	Name    string
	Model   string
	APIBase string
	APIKey  string
}

// New constructs the llm.Provider named by sel.Name. Grounded on the
// teacher's Server.buildProvider switch in internal/gateway/runtime.go,
// narrowed to the eight adapters this system carries.
func New(sel Selection) (llm.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(sel.Name))

	switch name {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       sel.APIKey,
			BaseURL:      sel.APIBase,
			DefaultModel: sel.Model,
		})

	case "openai":
		if sel.APIBase == "" {
			return NewOpenAIProvider(sel.APIKey), nil
		}
		clientConfig := openai.DefaultConfig(sel.APIKey)
		clientConfig.BaseURL = sel.APIBase
		defaultModel := sel.Model
		if defaultModel == "" {
			defaultModel = "gpt-4o"
		}
		return newOpenAIProviderWithClient("openai", openai.NewClientWithConfig(clientConfig), defaultModel), nil

	case "google", "gemini":
		return NewGoogleProvider(GoogleConfig{
			APIKey:       sel.APIKey,
			DefaultModel: sel.Model,
		})

	case "azure":
		return NewAzureOpenAIProvider(AzureOpenAIConfig{
			Endpoint:     sel.APIBase,
			APIKey:       sel.APIKey,
			DefaultModel: sel.Model,
		})

	case "bedrock":
		return NewBedrockProvider(BedrockConfig{
			DefaultModel: sel.Model,
		})

	case "openrouter":
		return NewOpenRouterProvider(OpenRouterConfig{
			APIKey:       sel.APIKey,
			DefaultModel: sel.Model,
		})

	case "copilot-proxy":
		return NewCopilotProxyProvider(CopilotProxyConfig{
			BaseURL:      sel.APIBase,
			DefaultModel: sel.Model,
		}), nil

	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			BaseURL:      sel.APIBase,
			DefaultModel: sel.Model,
		}), nil

	default:
		return nil, fmt.Errorf("providers: unsupported provider %q", sel.Name)
	}
}
