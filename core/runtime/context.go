// Package runtime executes agent workflow graphs under governance: every
// execution is admitted by the enforcer, stepped by the scheduler with
// per-node capability checks, and snapshotted for resume.
package runtime

import (
	"encoding/json"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusHalted    Status = "halted"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// TokenUsage accumulates provider usage and its estimated cost across all
// nodes of an execution, including nested agent calls.
type TokenUsage struct {
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int64 { return u.PromptTokens + u.CompletionTokens }

func (u *TokenUsage) add(usage provider.Usage, cost float64) {
	u.PromptTokens += usage.PromptTokens
	u.CompletionTokens += usage.CompletionTokens
	u.EstimatedCost += cost
}

// ExecutionContext is the full state of one graph execution. It is
// serialized to the snapshot store after every step, so an execution can be
// resumed from its last completed node.
type ExecutionContext struct {
	ExecutionID     string         `json:"executionId"`
	AgentID         string         `json:"agentId"`
	SessionID       string         `json:"sessionId"`
	WorkspaceID     string         `json:"workspaceId"`
	Model           string         `json:"model"`
	CurrentNodeID   string         `json:"currentNodeId"`
	Variables       map[string]any `json:"variables"`
	TokenUsage      TokenUsage     `json:"tokenUsage"`
	Budgeted        bool           `json:"budgeted"`
	BudgetRemaining int64          `json:"budgetRemaining"`
	Status          Status         `json:"status"`
	// CallStack holds the agent ids above this execution in an AGENT_CALL
	// chain, outermost first.
	CallStack []string `json:"callStack,omitempty"`
	// HaltReason is set when Status is halted or failed.
	HaltReason string `json:"haltReason,omitempty"`
}

// snapshotKey is the store key of an execution snapshot.
func snapshotKey(executionID string) string {
	return "execution:" + executionID
}

// Marshal serializes the context for the snapshot store.
func (ec *ExecutionContext) Marshal() ([]byte, error) {
	return json.Marshal(ec)
}

// UnmarshalExecutionContext restores a snapshot.
func UnmarshalExecutionContext(data []byte) (*ExecutionContext, error) {
	var ec ExecutionContext
	if err := json.Unmarshal(data, &ec); err != nil {
		return nil, err
	}
	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}
	return &ec, nil
}

// chargeTokens deducts from the remaining budget when the execution is
// budgeted. The floor is zero; the scheduler halts on exhaustion.
func (ec *ExecutionContext) chargeTokens(tokens int64) {
	if !ec.Budgeted {
		return
	}
	ec.BudgetRemaining -= tokens
	if ec.BudgetRemaining < 0 {
		ec.BudgetRemaining = 0
	}
}

// budgetExhausted reports whether a budgeted execution has no tokens left.
func (ec *ExecutionContext) budgetExhausted() bool {
	return ec.Budgeted && ec.BudgetRemaining <= 0
}
