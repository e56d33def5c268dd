package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// EngineConfig is the compiled form of the policy.* configuration table:
// a risk ceiling, a set of blocked-argument patterns, and two confirm
// gates keyed on risk level.
type EngineConfig struct {
	MaxRisk           models.RiskLevel
	ConfirmShell      bool
	ConfirmDestructive bool
	BlockedPatterns    []string
	RedactionPatterns  []string
}

// Engine evaluates tool calls against an ordered set of rules, yielding a
// tri-state decision. Rule order is fixed and load-bearing:
//  1. risk above the configured ceiling is always denied
//  2. arguments matching a blocked pattern are denied
//  3. SHELL-risk calls are routed to confirm when confirm_shell is set
//  4. DESTRUCTIVE-risk calls are routed to confirm when confirm_destructive is set
//  5. anything else is allowed
type Engine struct {
	cfg      EngineConfig
	blocked  []*regexp.Regexp
	redactor *Redactor
}

// NewEngine compiles an Engine from config. A malformed blocked_patterns or
// redaction_patterns regex is a startup-fatal ConfigError, never a runtime
// panic — callers should treat a non-nil error here as fatal to process
// startup.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	e := &Engine{cfg: cfg}

	for _, pattern := range cfg.BlockedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked_patterns entry %q: %w", pattern, err)
		}
		e.blocked = append(e.blocked, re)
	}

	redactor, err := NewRedactor(cfg.RedactionPatterns)
	if err != nil {
		return nil, err
	}
	e.redactor = redactor

	return e, nil
}

// Decide applies the ordered rule set to one tool call and returns the
// policy decision to be recorded as a policy_decision event. Redaction is
// applied only to the returned ArgsRedacted field — the caller's live
// arguments value used for execution is never touched here.
func (e *Engine) Decide(tool models.Tool, arguments []byte) models.PolicyDecision {
	redacted := e.redactor.Redact(arguments)

	if tool.Risk > e.cfg.MaxRisk {
		return models.PolicyDecision{
			Decision:     models.DecisionDeny,
			Reason:       "risk_ceiling",
			ArgsRedacted: redacted,
		}
	}

	args := string(arguments)
	for _, re := range e.blocked {
		if re.MatchString(args) {
			return models.PolicyDecision{
				Decision:     models.DecisionDeny,
				Reason:       "blocked_pattern",
				ArgsRedacted: redacted,
			}
		}
	}

	if tool.Risk == models.Shell && e.cfg.ConfirmShell {
		return models.PolicyDecision{
			Decision:     models.DecisionConfirm,
			Reason:       "confirm_shell",
			ArgsRedacted: redacted,
		}
	}

	if tool.Risk == models.Destructive && e.cfg.ConfirmDestructive {
		return models.PolicyDecision{
			Decision:     models.DecisionConfirm,
			Reason:       "confirm_destructive",
			ArgsRedacted: redacted,
		}
	}

	return models.PolicyDecision{
		Decision:     models.DecisionAllow,
		Reason:       "allow",
		ArgsRedacted: redacted,
	}
}

// Redactor replaces substrings matched by any of its compiled patterns with
// a fixed placeholder, independently of the regex's capture groups.
type Redactor struct {
	patterns []*regexp.Regexp
}

const redactedPlaceholder = "[REDACTED]"

// NewRedactor compiles a Redactor from raw regex patterns.
func NewRedactor(patterns []string) (*Redactor, error) {
	r := &Redactor{}
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction_patterns entry %q: %w", pattern, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Redact returns a copy of input with every pattern match replaced. Used
// only when building the stored record of a tool call's arguments; the
// live value passed to Tool.Execute is never redacted.
func (r *Redactor) Redact(input []byte) []byte {
	if r == nil || len(r.patterns) == 0 {
		return input
	}
	s := string(input)
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return []byte(s)
}

// NormalizeRisk parses a risk-level string from config, returning a
// ConfigError-shaped error for an unparseable value.
func NormalizeRisk(s string) (models.RiskLevel, error) {
	risk, ok := models.ParseRiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	if !ok {
		return 0, fmt.Errorf("unknown risk level %q", s)
	}
	return risk, nil
}
