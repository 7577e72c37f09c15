package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
)

// Rule is one policy check. Rules must be read-only over the request.
type Rule interface {
	Code() string
	Priority() int
	Enabled() bool
	Evaluate(ctx context.Context, req *ExecRequest) ([]Violation, error)
}

// PolicyEngine evaluates registered rules in ascending priority order.
// A rule that errors or panics yields a POLICY_RULE_ERROR violation and
// evaluation continues with the next rule: one broken rule must not turn
// the gate off for the rest.
type PolicyEngine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewPolicyEngine creates an engine with the given rules.
func NewPolicyEngine(rules ...Rule) *PolicyEngine {
	e := &PolicyEngine{}
	for _, r := range rules {
		e.Register(r)
	}
	return e
}

// Register adds a rule, keeping the set sorted by priority.
func (e *PolicyEngine) Register(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority() < e.rules[j].Priority()
	})
}

// Evaluate runs all enabled rules and collects their violations.
func (e *PolicyEngine) Evaluate(ctx context.Context, req *ExecRequest) []Violation {
	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var out []Violation
	for _, r := range rules {
		if !r.Enabled() {
			continue
		}
		violations, err := e.safeEvaluate(ctx, r, req)
		if err != nil {
			logger.Error(logger.WithComponentName(ctx, "policy-engine"), "policy rule failed",
				zap.String("rule", r.Code()), zap.Error(err))
			out = append(out, Violation{
				Code:     CodePolicyRuleError,
				Message:  fmt.Sprintf("rule %s failed: %v", r.Code(), err),
				Severity: SeverityError,
				Field:    r.Code(),
			})
			continue
		}
		out = append(out, violations...)
	}
	return out
}

func (e *PolicyEngine) safeEvaluate(ctx context.Context, r Rule, req *ExecRequest) (violations []Violation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.Evaluate(ctx, req)
}

// BaseRule carries the common rule fields.
type BaseRule struct {
	RuleCode     string
	RulePriority int
	Disabled     bool
}

func (b BaseRule) Code() string  { return b.RuleCode }
func (b BaseRule) Priority() int { return b.RulePriority }
func (b BaseRule) Enabled() bool { return !b.Disabled }

// GraphShapeRule rejects structurally invalid workflow graphs.
type GraphShapeRule struct{ BaseRule }

// NewGraphShapeRule creates the rule at the given priority.
func NewGraphShapeRule(priority int) *GraphShapeRule {
	return &GraphShapeRule{BaseRule{RuleCode: "graph-shape", RulePriority: priority}}
}

func (r *GraphShapeRule) Evaluate(ctx context.Context, req *ExecRequest) ([]Violation, error) {
	if req.Graph == nil {
		return nil, nil
	}
	if err := req.Graph.Validate(); err != nil {
		return []Violation{{
			Code:     CodeGraphInvalid,
			Message:  err.Error(),
			Severity: SeverityError,
			Field:    "graph",
		}}, nil
	}
	return nil, nil
}

// TokenCeilingRule rejects requests estimating more tokens than the hard
// per-execution ceiling, independent of any budget.
type TokenCeilingRule struct {
	BaseRule
	Ceiling int64
}

func NewTokenCeilingRule(priority int, ceiling int64) *TokenCeilingRule {
	return &TokenCeilingRule{
		BaseRule: BaseRule{RuleCode: "token-ceiling", RulePriority: priority},
		Ceiling:  ceiling,
	}
}

func (r *TokenCeilingRule) Evaluate(ctx context.Context, req *ExecRequest) ([]Violation, error) {
	if r.Ceiling > 0 && req.EstimatedTokens > r.Ceiling {
		return []Violation{{
			Code:     CodeTokenCeiling,
			Message:  fmt.Sprintf("estimated %d tokens exceeds ceiling %d", req.EstimatedTokens, r.Ceiling),
			Severity: SeverityError,
			Field:    "estimatedTokens",
		}}, nil
	}
	return nil, nil
}

// ToolAllowlistRule rejects requests using tools outside the allowlist.
// An empty allowlist permits everything.
type ToolAllowlistRule struct {
	BaseRule
	allowed map[string]struct{}
}

func NewToolAllowlistRule(priority int, tools []string) *ToolAllowlistRule {
	allowed := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		allowed[t] = struct{}{}
	}
	return &ToolAllowlistRule{
		BaseRule: BaseRule{RuleCode: "tool-allowlist", RulePriority: priority},
		allowed:  allowed,
	}
}

func (r *ToolAllowlistRule) Evaluate(ctx context.Context, req *ExecRequest) ([]Violation, error) {
	if len(r.allowed) == 0 {
		return nil, nil
	}
	var out []Violation
	for _, t := range req.Tools {
		if _, ok := r.allowed[t]; !ok {
			out = append(out, Violation{
				Code:     CodeToolNotAllowed,
				Message:  fmt.Sprintf("tool %q is not allowlisted", t),
				Severity: SeverityError,
				Field:    "tools",
			})
		}
	}
	return out, nil
}
