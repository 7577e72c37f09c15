package governance

import (
	"context"

	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/metrics"
)

// Enforcer runs the full governance gate: policy rules, budget, rate limits
// and model access.
type Enforcer struct {
	policy *PolicyEngine
	budget *BudgetManager
	rate   *RateLimiter
	models *ModelRegistry
}

// NewEnforcer wires the four governance components.
func NewEnforcer(policy *PolicyEngine, budget *BudgetManager, rate *RateLimiter, models *ModelRegistry) *Enforcer {
	return &Enforcer{policy: policy, budget: budget, rate: rate, models: models}
}

// Budget exposes the budget manager for configuration and usage recording.
func (e *Enforcer) Budget() *BudgetManager { return e.budget }

// RateLimiter exposes the rate limiter for configuration.
func (e *Enforcer) RateLimiter() *RateLimiter { return e.rate }

// Models exposes the model registry.
func (e *Enforcer) Models() *ModelRegistry { return e.models }

// Enforce runs every check in a fixed order and collects all violations;
// it never short-circuits, so a rejection reports everything wrong with the
// request at once. Enforce is read-only: nothing is counted or reserved.
func (e *Enforcer) Enforce(ctx context.Context, req *ExecRequest) Result {
	var violations []Violation

	violations = append(violations, e.policy.Evaluate(ctx, req)...)
	if v := e.budget.Check(req.AgentID, req.WorkspaceID, req.EstimatedTokens); v != nil {
		violations = append(violations, *v)
	}
	if v := e.rate.Check(req.AgentID, req.WorkspaceID); v != nil {
		violations = append(violations, *v)
	}
	if v := e.models.Check(req.WorkspaceID, req.Model); v != nil {
		violations = append(violations, *v)
	}

	for _, v := range violations {
		metrics.GovernanceViolationCounter.WithLabelValues(v.Code).Inc()
	}
	result := resultOf(violations)
	if !result.Allowed {
		logger.Warn(logger.WithComponentName(ctx, "governance"), "execution rejected",
			zap.String("agent", req.AgentID),
			zap.String("workspace", req.WorkspaceID),
			zap.Int("violations", len(violations)))
	}
	return result
}

// Reservation holds admitted capacity for one execution. Exactly one of
// Complete or Cancel must be called.
type Reservation struct {
	enforcer  *Enforcer
	req       *ExecRequest
	estimated int64
	settled   bool
}

// Reserve admits an execution and atomically claims its estimated tokens
// and a rate-limit slot, so concurrent requests cannot both pass a check
// their shared budget only covers once. On rejection the Result carries the
// violations and no state changes.
func (e *Enforcer) Reserve(ctx context.Context, req *ExecRequest) (*Reservation, Result) {
	result := e.Enforce(ctx, req)
	if !result.Allowed {
		return nil, result
	}

	if v := e.budget.reserve(req.AgentID, req.WorkspaceID, req.EstimatedTokens); v != nil {
		// lost the race between Enforce and reserve
		metrics.GovernanceViolationCounter.WithLabelValues(v.Code).Inc()
		return nil, resultOf([]Violation{*v})
	}
	e.rate.Record(req.AgentID, req.WorkspaceID)

	return &Reservation{enforcer: e, req: req, estimated: req.EstimatedTokens}, result
}

// Complete settles the reservation against actual usage: the estimate is
// replaced by the real token count and the realized cost is recorded.
func (r *Reservation) Complete(actualTokens int64, cost float64) {
	if r.settled {
		return
	}
	r.settled = true
	r.enforcer.budget.Record(r.req.AgentID, r.req.WorkspaceID, actualTokens-r.estimated, cost)
	r.enforcer.rate.Release(r.req.AgentID, r.req.WorkspaceID)
}

// Cancel refunds the reservation in full.
func (r *Reservation) Cancel() {
	if r.settled {
		return
	}
	r.settled = true
	r.enforcer.budget.Record(r.req.AgentID, r.req.WorkspaceID, -r.estimated, 0)
	r.enforcer.rate.Release(r.req.AgentID, r.req.WorkspaceID)
}
