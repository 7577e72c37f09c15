// Package governance gates every agent execution behind policy rules, token
// budgets, rate limits and model access control.
package governance

import "github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/graph"

// Severity classifies a violation. Only error-severity violations block an
// execution; warnings are surfaced but do not reject.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Stable violation codes.
const (
	CodePolicyRuleError   = "POLICY_RULE_ERROR"
	CodeBudgetExceeded    = "BUDGET_EXCEEDED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeModelNotAllowed   = "MODEL_NOT_ALLOWED"
	CodeModelDeprecated   = "MODEL_DEPRECATED"
	CodeGraphInvalid      = "GRAPH_INVALID"
	CodeTokenCeiling      = "TOKEN_CEILING"
	CodeToolNotAllowed    = "TOOL_NOT_ALLOWED"
)

// Violation is one governance finding. Data carries the check's structured
// detail: used/limit/remaining for budget violations, count/limit for rate
// windows.
type Violation struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Severity     Severity       `json:"severity"`
	Field        string         `json:"field,omitempty"`
	RetryAfterMs int64          `json:"retryAfterMs,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Result is the outcome of an enforcement pass. Allowed is true iff no
// violation carries error severity.
type Result struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

func resultOf(violations []Violation) Result {
	r := Result{Allowed: true, Violations: violations}
	for _, v := range violations {
		if v.Severity == SeverityError {
			r.Allowed = false
			break
		}
	}
	return r
}

// ExecRequest describes an execution the enforcer is asked to admit.
type ExecRequest struct {
	AgentID         string
	WorkspaceID     string
	SessionID       string
	Model           string
	EstimatedTokens int64
	Graph           *graph.Definition
	Tools           []string
}
