package config

// LLMConfig holds the llm.* keys from spec.md §6: the provider adapter to
// construct, the model to pass it, its endpoint, and how to find its
// credential.
type LLMConfig struct {
	// Name selects the provider adapter: anthropic, openai, google, bedrock,
	// azure, openrouter, copilot-proxy, or ollama.
	Name string `yaml:"name"`

	// Model is the model name passed to the provider. An empty value lets
	// the provider fall back to its own default model.
	Model string `yaml:"model"`

	// APIBase overrides the provider's default chat-completion endpoint.
	APIBase string `yaml:"api_base"`

	// APIKeyEnv is the *name* of the environment variable holding the API
	// key, never the key itself — spec.md §6 is explicit that this field
	// is a name, not a secret.
	APIKeyEnv string `yaml:"api_key_env"`

	// TimeoutSeconds bounds a single request to the provider.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
}

func validateLLM(cfg *LLMConfig) error {
	switch cfg.Name {
	case "anthropic", "openai", "google", "bedrock", "azure", "openrouter", "copilot-proxy", "ollama":
	default:
		return &ConfigValidationError{Field: "llm.name", Reason: "unrecognized provider " + cfg.Name}
	}
	if cfg.TimeoutSeconds <= 0 {
		return &ConfigValidationError{Field: "llm.timeout_seconds", Reason: "must be positive"}
	}
	return nil
}
