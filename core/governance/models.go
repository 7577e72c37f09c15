package governance

import (
	"fmt"
	"sync"
)

// ModelStatus is the global availability of a model.
type ModelStatus string

const (
	ModelAllowed    ModelStatus = "allowed"
	ModelDenied     ModelStatus = "denied"
	ModelDeprecated ModelStatus = "deprecated"
)

// defaultCostPer1K prices a model with no table entry.
const defaultCostPer1K = 0.01

// costPer1K is the per-1000-token price table used for budget accounting.
var costPer1K = map[string]float64{
	"gpt-4o":        0.005,
	"gpt-4o-mini":   0.00015,
	"gpt-4-turbo":   0.01,
	"gpt-3.5-turbo": 0.0005,
}

type workspacePolicy struct {
	allow        map[string]struct{}
	deny         map[string]struct{}
	defaultModel string
}

// ModelRegistry controls which models an execution may use: a global status
// per model, plus per-workspace allow and deny sets. Deny always wins over
// allow at every level.
type ModelRegistry struct {
	mu         sync.RWMutex
	global     map[string]ModelStatus
	workspaces map[string]*workspacePolicy
	costs      map[string]float64
}

// NewModelRegistry creates a registry with the built-in price table.
func NewModelRegistry() *ModelRegistry {
	costs := make(map[string]float64, len(costPer1K))
	for m, c := range costPer1K {
		costs[m] = c
	}
	return &ModelRegistry{
		global:     make(map[string]ModelStatus),
		workspaces: make(map[string]*workspacePolicy),
		costs:      costs,
	}
}

// SetStatus sets a model's global status.
func (r *ModelRegistry) SetStatus(model string, status ModelStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global[model] = status
}

// SetCost overrides the per-1000-token price of a model.
func (r *ModelRegistry) SetCost(model string, per1K float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs[model] = per1K
}

func (r *ModelRegistry) workspace(id string) *workspacePolicy {
	wp, ok := r.workspaces[id]
	if !ok {
		wp = &workspacePolicy{
			allow: make(map[string]struct{}),
			deny:  make(map[string]struct{}),
		}
		r.workspaces[id] = wp
	}
	return wp
}

// AllowForWorkspace adds a model to the workspace allowlist. Once any model
// is allowlisted, the workspace is restricted to its allowlist.
func (r *ModelRegistry) AllowForWorkspace(workspaceID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspace(workspaceID).allow[model] = struct{}{}
}

// DenyForWorkspace adds a model to the workspace denylist.
func (r *ModelRegistry) DenyForWorkspace(workspaceID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspace(workspaceID).deny[model] = struct{}{}
}

// SetDefaultModel sets the model used when a request names none.
func (r *ModelRegistry) SetDefaultModel(workspaceID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspace(workspaceID).defaultModel = model
}

// DefaultModel returns the workspace default model, if configured.
func (r *ModelRegistry) DefaultModel(workspaceID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if wp, ok := r.workspaces[workspaceID]; ok {
		return wp.defaultModel
	}
	return ""
}

// Check reports whether the workspace may use the model. Precedence:
// workspace deny wins unconditionally; a non-empty allowlist then decides
// alone; otherwise the global status applies, and denied and deprecated
// both reject.
func (r *ModelRegistry) Check(workspaceID, model string) *Violation {
	if model == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if wp, ok := r.workspaces[workspaceID]; ok {
		if _, denied := wp.deny[model]; denied {
			return &Violation{
				Code:     CodeModelNotAllowed,
				Message:  fmt.Sprintf("model %q is denied in this workspace", model),
				Severity: SeverityError,
				Field:    "model",
			}
		}
		if len(wp.allow) > 0 {
			if _, allowed := wp.allow[model]; allowed {
				return nil
			}
			return &Violation{
				Code:     CodeModelNotAllowed,
				Message:  fmt.Sprintf("model %q is not on the workspace allowlist", model),
				Severity: SeverityError,
				Field:    "model",
			}
		}
	}
	switch r.global[model] {
	case ModelDenied:
		return &Violation{
			Code:     CodeModelNotAllowed,
			Message:  fmt.Sprintf("model %q is globally denied", model),
			Severity: SeverityError,
			Field:    "model",
		}
	case ModelDeprecated:
		return &Violation{
			Code:     CodeModelDeprecated,
			Message:  fmt.Sprintf("model %q is deprecated", model),
			Severity: SeverityError,
			Field:    "model",
		}
	}
	return nil
}

// CostPer1K returns the per-1000-token price of a model.
func (r *ModelRegistry) CostPer1K(model string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.costs[model]; ok {
		return c
	}
	return defaultCostPer1K
}

// EstimateCost prices a token count for a model.
func (r *ModelRegistry) EstimateCost(model string, tokens int64) float64 {
	return float64(tokens) / 1000 * r.CostPer1K(model)
}
