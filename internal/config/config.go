// Package config loads and validates the runtime configuration recognized
// by spec.md §6: llm.*, policy.*, session.*, and plugins.*. Precedence is
// defaults < config file < environment overrides < caller overrides <
// per-session overrides; the first three are resolved by Load, the last two
// are applied by callers on top of the returned Config.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the agent runtime.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Policy  PolicyConfig  `yaml:"policy"`
	Session SessionConfig `yaml:"session"`
	Plugins PluginsConfig `yaml:"plugins"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// SandboxConfig selects the execution substrate backing resolve_target,
// run_diagnostic, and run_shell. Kind "local" (the default) execs directly
// against the host via the process exec manager; "docker" and
// "firecracker" isolate each call in a container or microVM instead.
type SandboxConfig struct {
	Kind        string                  `yaml:"kind"`
	Docker      DockerSandboxConfig     `yaml:"docker"`
	Firecracker FirecrackerSandboxConfig `yaml:"firecracker"`
}

// DockerSandboxConfig configures the sandbox.DockerBackend.
type DockerSandboxConfig struct {
	Image           string `yaml:"image"`
	CPULimit        int    `yaml:"cpu_limit_millicores"`
	MemLimitMB      int    `yaml:"mem_limit_mb"`
	NetworkEnabled  bool   `yaml:"network_enabled"`
	WorkspaceAccess string `yaml:"workspace_access"`
}

// FirecrackerSandboxConfig configures the sandbox.FirecrackerBackend.
type FirecrackerSandboxConfig struct {
	KernelPath     string `yaml:"kernel_path"`
	RootFSPath     string `yaml:"rootfs_path"`
	OverlayDir     string `yaml:"overlay_dir"`
	VCPUs          int64  `yaml:"vcpus"`
	MemSizeMB      int64  `yaml:"mem_size_mb"`
	NetworkEnabled bool   `yaml:"network_enabled"`
}

// StorageConfig locates the base directory described in spec.md §6's
// persisted-state layout (sessions.db, artifacts/<aa>/<hash>, audit.jsonl).
// It is an ambient concern, not one of the enumerated configuration keys.
type StorageConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// LoggingConfig configures the ambient log/slog JSON handler every
// component logs through.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (YAML or JSON5, resolving $include directives), expands
// environment variables, applies environment-variable overrides, fills in
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	if err := ValidateRaw(raw); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadBytes parses data as YAML (the in-memory equivalent of Load, used by
// tests and by callers that already hold config content rather than a
// path). It applies the same override/default/validate pipeline.
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyLLMDefaults(&cfg.LLM)
	applyPolicyDefaults(&cfg.Policy)
	applySessionDefaults(&cfg.Session)
	applyLoggingDefaults(&cfg.Logging)
	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = "./data"
	}
	applySandboxDefaults(&cfg.Sandbox)
}

func applySandboxDefaults(cfg *SandboxConfig) {
	if cfg.Kind == "" {
		cfg.Kind = "local"
	}
	if cfg.Docker.Image == "" {
		cfg.Docker.Image = "alpine:latest"
	}
	if cfg.Docker.CPULimit == 0 {
		cfg.Docker.CPULimit = 1000
	}
	if cfg.Docker.MemLimitMB == 0 {
		cfg.Docker.MemLimitMB = 512
	}
	if cfg.Docker.WorkspaceAccess == "" {
		cfg.Docker.WorkspaceAccess = "ro"
	}
	if cfg.Firecracker.KernelPath == "" {
		cfg.Firecracker.KernelPath = "/var/lib/firecracker/vmlinux"
	}
	if cfg.Firecracker.RootFSPath == "" {
		cfg.Firecracker.RootFSPath = "/var/lib/firecracker/rootfs-shell.ext4"
	}
	if cfg.Firecracker.OverlayDir == "" {
		cfg.Firecracker.OverlayDir = "/var/lib/firecracker/overlays"
	}
	if cfg.Firecracker.VCPUs == 0 {
		cfg.Firecracker.VCPUs = 1
	}
	if cfg.Firecracker.MemSizeMB == 0 {
		cfg.Firecracker.MemSizeMB = 512
	}
}

// applyEnvOverrides layers environment overrides on top of the parsed file,
// matching the precedence spec.md §6 names: environment overrides config
// file values but is itself overridden by caller/per-session overrides
// applied later by the process wiring these values into components.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AGENTRUN_LLM_NAME")); v != "" {
		cfg.LLM.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTRUN_LLM_MODEL")); v != "" {
		cfg.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTRUN_LLM_API_BASE")); v != "" {
		cfg.LLM.APIBase = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTRUN_POLICY_MAX_RISK")); v != "" {
		cfg.Policy.MaxRisk = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTRUN_SESSION_TOKEN_BUDGET")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.TokenBudget = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENTRUN_STORAGE_BASE_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTRUN_SANDBOX_KIND")); v != "" {
		cfg.Sandbox.Kind = v
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// ConfigValidationError reports a field-scoped configuration problem,
// fatal at startup per spec.md §7's ConfigError kind.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func validateConfig(cfg *Config) error {
	if err := validateLLM(&cfg.LLM); err != nil {
		return err
	}
	if err := validatePolicy(&cfg.Policy); err != nil {
		return err
	}
	if err := validateSession(&cfg.Session); err != nil {
		return err
	}
	if cfg.Plugins.Enabled && len(cfg.Plugins.Allowlist) == 0 {
		return &ConfigValidationError{Field: "plugins.allowlist", Reason: "must list at least one server when plugins.enabled is true"}
	}
	switch cfg.Sandbox.Kind {
	case "local", "docker", "firecracker":
	default:
		return &ConfigValidationError{Field: "sandbox.kind", Reason: fmt.Sprintf("unknown sandbox kind %q, want local, docker, or firecracker", cfg.Sandbox.Kind)}
	}
	return nil
}
