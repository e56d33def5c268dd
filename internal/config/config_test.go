package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/agentrun/internal/mcp"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentrun.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: anthropic
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.TimeoutSeconds != 120 {
		t.Fatalf("expected default timeout 120, got %d", cfg.LLM.TimeoutSeconds)
	}
	if cfg.Policy.MaxRisk != "WRITE" {
		t.Fatalf("expected default max_risk WRITE, got %q", cfg.Policy.MaxRisk)
	}
	if cfg.Session.TokenBudget != 100_000 {
		t.Fatalf("expected default token_budget 100000, got %d", cfg.Session.TokenBudget)
	}
	if cfg.Session.MaxTurns != 25 {
		t.Fatalf("expected default max_turns 25, got %d", cfg.Session.MaxTurns)
	}
	if cfg.Storage.BaseDir != "./data" {
		t.Fatalf("expected default storage base_dir ./data, got %q", cfg.Storage.BaseDir)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: anthropic
  extra_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesLLMName(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: made-up-provider
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "llm.name") {
		t.Fatalf("expected llm.name error, got %v", err)
	}
}

func TestLoadValidatesMaxRisk(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: anthropic
policy:
  max_risk: CATASTROPHIC
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "policy.max_risk") {
		t.Fatalf("expected policy.max_risk error, got %v", err)
	}
}

func TestLoadValidatesTokenBudget(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: anthropic
session:
  token_budget: -1
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "session.token_budget") {
		t.Fatalf("expected session.token_budget error, got %v", err)
	}
}

func TestLoadValidatesPluginsAllowlist(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: anthropic
plugins:
  enabled: true
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "plugins.allowlist") {
		t.Fatalf("expected plugins.allowlist error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: bedrock
  model: anthropic.claude-3-sonnet-20240229-v1:0
  api_key_env: BEDROCK_API_KEY
policy:
  max_risk: DESTRUCTIVE
  confirm_shell: true
session:
  token_budget: 50000
  max_turns: 10
plugins:
  enabled: true
  allowlist:
    - search
  servers:
    - id: search
      name: search
      transport: stdio
      command: mcp-search
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Name != "bedrock" {
		t.Fatalf("expected llm.name bedrock, got %q", cfg.LLM.Name)
	}
	if cfg.Policy.MaxRisk != "DESTRUCTIVE" {
		t.Fatalf("expected policy.max_risk DESTRUCTIVE, got %q", cfg.Policy.MaxRisk)
	}
}

func TestLoadEnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
llm:
  name: anthropic
  model: claude-3-opus
`)

	t.Setenv("AGENTRUN_LLM_MODEL", "claude-3-5-sonnet")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "claude-3-5-sonnet" {
		t.Fatalf("expected env override to win, got %q", cfg.LLM.Model)
	}
}

func TestPolicyConfigToEngineConfig(t *testing.T) {
	cfg := PolicyConfig{MaxRisk: "WRITE", ConfirmDestructive: true}

	engineCfg, err := cfg.ToEngineConfig()
	if err != nil {
		t.Fatalf("ToEngineConfig() error = %v", err)
	}
	if !engineCfg.ConfirmDestructive {
		t.Fatalf("expected ConfirmDestructive to carry through")
	}
}

func TestPolicyConfigToEngineConfigRejectsBadRisk(t *testing.T) {
	cfg := PolicyConfig{MaxRisk: "nope"}

	if _, err := cfg.ToEngineConfig(); err == nil {
		t.Fatalf("expected error for unrecognized risk level")
	}
}

func TestPluginsConfigToMCPConfigFiltersAllowlist(t *testing.T) {
	cfg := PluginsConfig{
		Enabled:   true,
		Allowlist: []string{"search"},
		Servers: []*mcp.ServerConfig{
			{ID: "search", Name: "search"},
			{ID: "shell", Name: "shell"},
		},
	}

	mcpCfg := cfg.ToMCPConfig()
	if !mcpCfg.Enabled {
		t.Fatalf("expected MCP config to be enabled")
	}
	if len(mcpCfg.Servers) != 1 || mcpCfg.Servers[0].ID != "search" {
		t.Fatalf("expected only allowlisted server, got %+v", mcpCfg.Servers)
	}
}

func TestPluginsConfigToMCPConfigDisabled(t *testing.T) {
	cfg := PluginsConfig{Enabled: false}

	mcpCfg := cfg.ToMCPConfig()
	if mcpCfg.Enabled {
		t.Fatalf("expected MCP config to stay disabled")
	}
}
