package models

import "encoding/json"

// Decision is the closed verdict set produced by the policy engine.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionConfirm Decision = "confirm"
	DecisionDeny    Decision = "deny"
)

// PolicyDecision is the result of gating one tool call, plus a redacted copy
// of the arguments suitable for the audit record.
type PolicyDecision struct {
	Decision     Decision
	Reason       string
	ArgsRedacted json.RawMessage
}
