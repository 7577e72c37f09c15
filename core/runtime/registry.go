package runtime

import (
	"context"
	"sort"
	"sync"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/graph"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/memory"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
)

// AgentDefinition describes an executable agent: its workflow graph, the
// capabilities its nodes may use, its model and its per-execution budget.
type AgentDefinition struct {
	ID           string                  `yaml:"id"`
	Name         string                  `yaml:"name,omitempty"`
	SystemPrompt string                  `yaml:"systemPrompt,omitempty"`
	Model        string                  `yaml:"model,omitempty"`
	BudgetLimit  int64                   `yaml:"budgetLimit,omitempty"`
	MemoryTier   memory.Tier             `yaml:"memoryTier,omitempty"`
	Permissions  []permission.Permission `yaml:"permissions,omitempty"`
	Graph        *graph.Definition       `yaml:"graph"`
}

// AgentRegistry holds registered agents. Registering an agent grants its
// declared permissions under the agent id, so node-level checks hit the same
// ledger modules do.
type AgentRegistry struct {
	mu          sync.RWMutex
	agents      map[string]*AgentDefinition
	permissions *permission.Engine
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry(permissions *permission.Engine) *AgentRegistry {
	return &AgentRegistry{
		agents:      make(map[string]*AgentDefinition),
		permissions: permissions,
	}
}

// Register validates and stores an agent definition.
func (r *AgentRegistry) Register(ctx context.Context, def *AgentDefinition) error {
	if def == nil || def.ID == "" {
		return errors.Validation("agent id must not be empty")
	}
	if def.Graph == nil {
		return errors.Validation("agent " + def.ID + " has no graph")
	}
	if err := def.Graph.Validate(); err != nil {
		return errors.New(errors.CodeValidation, err.Error(), def.ID)
	}
	if def.MemoryTier == "" {
		def.MemoryTier = memory.TierNone
	}

	r.mu.Lock()
	r.agents[def.ID] = def
	r.mu.Unlock()

	if len(def.Permissions) > 0 {
		return r.permissions.Grant(ctx, def.ID, def.Permissions...)
	}
	return nil
}

// Unregister removes an agent and revokes its grants.
func (r *AgentRegistry) Unregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	_, ok := r.agents[agentID]
	delete(r.agents, agentID)
	r.mu.Unlock()
	if !ok {
		return errors.ModuleNotFound(agentID)
	}
	return r.permissions.Revoke(ctx, agentID)
}

// Get returns the agent definition.
func (r *AgentRegistry) Get(agentID string) (*AgentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.agents[agentID]
	return def, ok
}

// List returns agent ids, sorted.
func (r *AgentRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
