package governance

import (
	"fmt"
	"sync"
)

type budgetKey struct {
	agentID     string
	workspaceID string
}

type budgetEntry struct {
	limit     int64
	used      int64
	costSpent float64
}

// BudgetManager tracks token budgets per (agent, workspace). An agent with
// no configured limit is unlimited. Budgets are denominated in tokens; the
// manager also accumulates realized provider cost for reporting.
type BudgetManager struct {
	mu      sync.Mutex
	entries map[budgetKey]*budgetEntry
}

// NewBudgetManager creates an empty budget manager.
func NewBudgetManager() *BudgetManager {
	return &BudgetManager{entries: make(map[budgetKey]*budgetEntry)}
}

// SetLimit configures the token limit for an agent in a workspace. A limit
// of zero or below removes the entry, returning the agent to unlimited.
func (m *BudgetManager) SetLimit(agentID, workspaceID string, limit int64) {
	key := budgetKey{agentID, workspaceID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		delete(m.entries, key)
		return
	}
	e, ok := m.entries[key]
	if !ok {
		e = &budgetEntry{}
		m.entries[key] = e
	}
	e.limit = limit
}

// Check reports whether estimated tokens fit the remaining budget. It never
// mutates state.
func (m *BudgetManager) Check(agentID, workspaceID string, estimated int64) *Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[budgetKey{agentID, workspaceID}]
	if !ok {
		return nil
	}
	return e.exceeded(estimated)
}

// exceeded builds the BUDGET_EXCEEDED violation, carrying used/limit/
// remaining alongside the message. Callers hold the lock.
func (e *budgetEntry) exceeded(estimated int64) *Violation {
	remaining := e.limit - e.used
	if remaining < 0 {
		remaining = 0
	}
	if estimated <= remaining {
		return nil
	}
	return &Violation{
		Code:     CodeBudgetExceeded,
		Message:  fmt.Sprintf("estimated %d tokens exceeds remaining budget %d", estimated, remaining),
		Severity: SeverityError,
		Field:    "budget",
		Data: map[string]any{
			"used":      e.used,
			"limit":     e.limit,
			"remaining": remaining,
		},
	}
}

// Record accumulates consumed tokens and realized cost. Negative tokens
// refund an earlier reservation.
func (m *BudgetManager) Record(agentID, workspaceID string, tokens int64, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[budgetKey{agentID, workspaceID}]
	if !ok {
		return
	}
	e.used += tokens
	if e.used < 0 {
		e.used = 0
	}
	e.costSpent += cost
}

// Remaining returns the remaining token budget. The second return value is
// false for unlimited agents. Remaining is never negative.
func (m *BudgetManager) Remaining(agentID, workspaceID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[budgetKey{agentID, workspaceID}]
	if !ok {
		return 0, false
	}
	remaining := e.limit - e.used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// CostSpent returns the realized provider cost recorded so far.
func (m *BudgetManager) CostSpent(agentID, workspaceID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[budgetKey{agentID, workspaceID}]
	if !ok {
		return 0
	}
	return e.costSpent
}

// Reset clears usage for an agent, keeping the limit.
func (m *BudgetManager) Reset(agentID, workspaceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[budgetKey{agentID, workspaceID}]; ok {
		e.used = 0
		e.costSpent = 0
	}
}

// reserve atomically checks and records, so two concurrent executions cannot
// both pass a check the budget only covers once. Used by the enforcer.
func (m *BudgetManager) reserve(agentID, workspaceID string, estimated int64) *Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[budgetKey{agentID, workspaceID}]
	if !ok {
		return nil
	}
	if v := e.exceeded(estimated); v != nil {
		return v
	}
	e.used += estimated
	return nil
}
