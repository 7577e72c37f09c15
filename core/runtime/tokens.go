package runtime

import (
	"fmt"
	"strings"
	"sync"
)

// responseAllowance is the expected-response component assumed for a call
// that does not configure maxTokens.
const responseAllowance = 256

// memoryAllowance caps recalled memory before budget-driven trimming.
const memoryAllowance = 2048

// CallEstimate breaks a planned provider call into token components, so
// admission and per-step budgeting can reason about where the spend goes.
type CallEstimate struct {
	Prompt   int64
	Context  int64
	Memory   int64
	Schema   int64
	Response int64
}

// Total is the whole predicted spend of the call.
func (e CallEstimate) Total() int64 {
	return e.Prompt + e.Context + e.Memory + e.Schema + e.Response
}

// DowngradeKind names a way to bring an over-budget call back under its
// limit.
type DowngradeKind string

const (
	DowngradeTrimMemory    DowngradeKind = "trim_memory"
	DowngradeReduceContext DowngradeKind = "reduce_context"
	DowngradeModel         DowngradeKind = "downgrade_model"
)

// Downgrade is one suggestion; Target is the token count the component
// should shrink to.
type Downgrade struct {
	Kind   DowngradeKind
	Target int64
}

// SuggestDowngrades proposes how to fit an over-budget call: trim memory
// first, then reduce context, then switch to a cheaper model. An estimate
// already within budget yields nothing.
func SuggestDowngrades(est CallEstimate, budget int64) []Downgrade {
	if est.Total() <= budget {
		return nil
	}
	over := est.Total() - budget
	var out []Downgrade
	if est.Memory > 0 {
		target := est.Memory - over
		if target < 0 {
			target = 0
		}
		out = append(out, Downgrade{Kind: DowngradeTrimMemory, Target: target})
	}
	if est.Context > over/2 {
		out = append(out, Downgrade{Kind: DowngradeReduceContext, Target: est.Context - over/2})
	}
	out = append(out, Downgrade{Kind: DowngradeModel})
	return out
}

// Breakdown records the realized spend of one provider call.
type Breakdown struct {
	ExecutionID    string
	NodeID         string
	Model          string
	PromptTokens   int64
	MemoryTokens   int64
	ResponseTokens int64
	Cost           float64
}

// Total sums the breakdown's components.
func (b Breakdown) Total() int64 {
	return b.PromptTokens + b.MemoryTokens + b.ResponseTokens
}

// TokenTracker accumulates per-call breakdowns across executions for cost
// reporting.
type TokenTracker struct {
	mu        sync.Mutex
	records   []Breakdown
	totalCost float64
}

// NewTokenTracker creates an empty tracker.
func NewTokenTracker() *TokenTracker { return &TokenTracker{} }

// Record appends one call's breakdown.
func (t *TokenTracker) Record(b Breakdown) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, b)
	t.totalCost += b.Cost
}

// TotalTokens sums every recorded call.
func (t *TokenTracker) TotalTokens() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total int64
	for _, r := range t.records {
		total += r.Total()
	}
	return total
}

// TotalCost is the accumulated realized cost.
func (t *TokenTracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// Records returns a copy of the recorded breakdowns.
func (t *TokenTracker) Records() []Breakdown {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Breakdown, len(t.records))
	copy(out, t.records)
	return out
}

// Report renders a line-per-call summary for logs and the CLI.
func (t *TokenTracker) Report() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total int64
	for _, r := range t.records {
		total += r.Total()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "total cost $%.6f, total tokens %d\n", t.totalCost, total)
	for _, r := range t.records {
		fmt.Fprintf(&sb, "  [%s/%s] model=%s prompt=%d mem=%d resp=%d total=%d cost=$%.6f\n",
			r.ExecutionID, r.NodeID, r.Model,
			r.PromptTokens, r.MemoryTokens, r.ResponseTokens, r.Total(), r.Cost)
	}
	return sb.String()
}
