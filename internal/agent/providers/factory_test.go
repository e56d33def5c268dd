package providers

import "testing"

func TestNewSelectsProviderByName(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection
	}{
		{name: "anthropic", sel: Selection{Name: "anthropic", APIKey: "key"}},
		{name: "openai", sel: Selection{Name: "openai", APIKey: "key"}},
		{name: "openai with custom base", sel: Selection{Name: "openai", APIKey: "key", APIBase: "https://proxy.internal/v1"}},
		{name: "google", sel: Selection{Name: "google", APIKey: "key"}},
		{name: "azure", sel: Selection{Name: "azure", APIKey: "key", APIBase: "https://example.openai.azure.com"}},
		{name: "bedrock", sel: Selection{Name: "bedrock"}},
		{name: "openrouter", sel: Selection{Name: "openrouter", APIKey: "key"}},
		{name: "copilot-proxy", sel: Selection{Name: "copilot-proxy"}},
		{name: "ollama", sel: Selection{Name: "ollama"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := New(tt.sel)
			if tt.sel.Name == "bedrock" {
				// Requires AWS credential resolution; skip asserting success here.
				return
			}
			if err != nil {
				t.Fatalf("New(%+v) error = %v", tt.sel, err)
			}
			if provider == nil {
				t.Fatalf("New(%+v) returned nil provider", tt.sel)
			}
		})
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(Selection{Name: "made-up"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
