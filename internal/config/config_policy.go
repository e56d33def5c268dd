package config

import (
	"github.com/haasonsaas/agentrun/internal/tools/policy"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// PolicyConfig holds the policy.* keys from spec.md §6. MaxRisk is kept as
// its configured string form here (READ_ONLY/WRITE/DESTRUCTIVE/SHELL) and
// parsed into a models.RiskLevel by ToEngineConfig, so a bad value surfaces
// as a ConfigError during Load rather than at first use.
type PolicyConfig struct {
	MaxRisk            string   `yaml:"max_risk"`
	ConfirmDestructive bool     `yaml:"confirm_destructive"`
	ConfirmShell       bool     `yaml:"confirm_shell"`
	BlockedPatterns    []string `yaml:"blocked_patterns"`
	RedactionPatterns  []string `yaml:"redaction_patterns"`
}

func applyPolicyDefaults(cfg *PolicyConfig) {
	if cfg.MaxRisk == "" {
		cfg.MaxRisk = "WRITE"
	}
}

func validatePolicy(cfg *PolicyConfig) error {
	if _, ok := models.ParseRiskLevel(cfg.MaxRisk); !ok {
		return &ConfigValidationError{Field: "policy.max_risk", Reason: "unrecognized risk level " + cfg.MaxRisk}
	}
	return nil
}

// ToEngineConfig converts the parsed configuration into the compiled form
// policy.NewEngine consumes.
func (c PolicyConfig) ToEngineConfig() (policy.EngineConfig, error) {
	risk, ok := models.ParseRiskLevel(c.MaxRisk)
	if !ok {
		return policy.EngineConfig{}, &ConfigValidationError{Field: "policy.max_risk", Reason: "unrecognized risk level " + c.MaxRisk}
	}
	return policy.EngineConfig{
		MaxRisk:            risk,
		ConfirmShell:       c.ConfirmShell,
		ConfirmDestructive: c.ConfirmDestructive,
		BlockedPatterns:    c.BlockedPatterns,
		RedactionPatterns:  c.RedactionPatterns,
	}, nil
}
