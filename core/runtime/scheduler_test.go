package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/governance"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/graph"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/memory"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/storage"
)

func llmGraph() *graph.Definition {
	return &graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Type: graph.NodeStart},
			{ID: "answer", Type: graph.NodeLLM, Config: map[string]any{
				"prompt": "summarize: $input",
				"output": "summary",
			}},
			{ID: "end", Type: graph.NodeEnd},
		},
		Edges: []graph.Edge{
			{From: "start", To: "answer"},
			{From: "answer", To: "end"},
		},
	}
}

func newTestEnv(t *testing.T) (Env, *permission.Engine, *storage.MemoryStore) {
	t.Helper()
	engine := permission.NewEngine(nil)
	store := storage.NewMemoryStore()
	return Env{
		Permissions: engine,
		Provider:    provider.NewNullProvider(),
		Store:       store,
		Models:      governance.NewModelRegistry(),
	}, engine, store
}

func newExecution(agentID string) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: "exec-1",
		AgentID:     agentID,
		WorkspaceID: "ws",
		Model:       "gpt-4o-mini",
		Variables:   map[string]any{"input": "the text"},
	}
}

func TestRun_LLMGraphCompletes(t *testing.T) {
	env, engine, store := newTestEnv(t)
	ctx := context.Background()
	engine.Grant(ctx, "agent-a", permission.AIGenerate)

	s := NewScheduler(env)
	ec := newExecution("agent-a")
	err := s.Run(ctx, ec, llmGraph(), memory.TierNone)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, ec.Status)
	assert.Equal(t, "echo: summarize: the text", ec.Variables["summary"])
	assert.Greater(t, ec.TokenUsage.Total(), int64(0))
	assert.Greater(t, ec.TokenUsage.EstimatedCost, float64(0))

	// snapshot persisted under the execution key
	data, err := store.Get(ctx, "execution:exec-1")
	require.NoError(t, err)
	restored, err := UnmarshalExecutionContext(data)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, restored.Status)
	assert.Equal(t, ec.TokenUsage.Total(), restored.TokenUsage.Total())
}

func TestRun_StartEndConsumesNothing(t *testing.T) {
	env, _, _ := newTestEnv(t)
	g := &graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Type: graph.NodeStart},
			{ID: "end", Type: graph.NodeEnd},
		},
		Edges: []graph.Edge{{From: "start", To: "end"}},
	}
	ec := newExecution("agent-a")
	err := NewScheduler(env).Run(context.Background(), ec, g, memory.TierNone)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ec.Status)
	assert.Equal(t, int64(0), ec.TokenUsage.Total())
}

func TestRun_SelfLoopHaltsAtStepCap(t *testing.T) {
	env, _, _ := newTestEnv(t)
	g := &graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Type: graph.NodeStart},
			{ID: "spin", Type: graph.NodeCondition},
		},
		Edges: []graph.Edge{
			{From: "start", To: "spin"},
			{From: "spin", To: "spin"},
		},
	}
	ec := newExecution("agent-a")
	err := NewScheduler(env).Run(context.Background(), ec, g, memory.TierNone)
	require.NoError(t, err, "a step-cap halt is not an error")
	assert.Equal(t, StatusHalted, ec.Status)
	assert.Contains(t, ec.HaltReason, "step cap")
}

func TestRun_BudgetExhaustionHalts(t *testing.T) {
	env, engine, _ := newTestEnv(t)
	ctx := context.Background()
	engine.Grant(ctx, "agent-a", permission.AIGenerate)

	ec := newExecution("agent-a")
	ec.Budgeted = true
	ec.BudgetRemaining = 3
	ec.Variables["input"] = strings.Repeat("long input ", 20)

	err := NewScheduler(env).Run(ctx, ec, llmGraph(), memory.TierNone)
	require.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, StatusHalted, ec.Status)
	assert.Equal(t, int64(0), ec.BudgetRemaining)
}

func TestRun_PermissionDenialFails(t *testing.T) {
	env, _, _ := newTestEnv(t)
	ec := newExecution("agent-a") // no ai:generate grant
	err := NewScheduler(env).Run(context.Background(), ec, llmGraph(), memory.TierNone)
	require.Error(t, err)
	assert.True(t, domerrors.HasCode(err, domerrors.CodePermissionDenied))
	assert.Equal(t, StatusFailed, ec.Status)
}

func TestRun_UnknownNodeTypeHalts(t *testing.T) {
	env, _, _ := newTestEnv(t)
	g := &graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Type: graph.NodeStart},
			{ID: "weird", Type: graph.NodeType("TELEPORT")},
		},
		Edges: []graph.Edge{{From: "start", To: "weird"}},
	}
	ec := newExecution("agent-a")
	err := NewScheduler(env).Run(context.Background(), ec, g, memory.TierNone)
	require.NoError(t, err)
	assert.Equal(t, StatusHalted, ec.Status)
	assert.Contains(t, ec.HaltReason, "unknown node type")
}

func TestRun_MissingNodeHalts(t *testing.T) {
	env, _, _ := newTestEnv(t)
	g := llmGraph()
	ec := newExecution("agent-a")
	ec.CurrentNodeID = "nonexistent"
	err := NewScheduler(env).Run(context.Background(), ec, g, memory.TierNone)
	require.NoError(t, err)
	assert.Equal(t, StatusHalted, ec.Status)
	assert.Contains(t, ec.HaltReason, "not found")
}

func agentCallGraph(callee string) *graph.Definition {
	return &graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Type: graph.NodeStart},
			{ID: "delegate", Type: graph.NodeAgentCall, Config: map[string]any{
				"agent": callee,
				"input": "$input",
			}},
			{ID: "end", Type: graph.NodeEnd},
		},
		Edges: []graph.Edge{
			{From: "start", To: "delegate"},
			{From: "delegate", To: "end"},
		},
	}
}

func TestRun_AgentCall(t *testing.T) {
	env, engine, _ := newTestEnv(t)
	ctx := context.Background()
	engine.Grant(ctx, "parent", permission.AgentCall)
	engine.Grant(ctx, "child", permission.AIGenerate)

	childDef := &AgentDefinition{
		ID:          "child",
		Model:       "gpt-4o-mini",
		BudgetLimit: 1000,
		Graph:       llmGraph(),
	}
	env.Agents = func(id string) (*AgentDefinition, bool) {
		if id == "child" {
			return childDef, true
		}
		return nil, false
	}

	s := NewScheduler(env)
	ec := newExecution("parent")
	err := s.Run(ctx, ec, agentCallGraph("child"), memory.TierNone)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, ec.Status)
	out, _ := ec.Variables["output"].(string)
	assert.Contains(t, out, "echo:")
	assert.Greater(t, ec.TokenUsage.Total(), int64(0), "child usage must fold into the parent")
}

func TestRun_AgentCallCycleDetected(t *testing.T) {
	env, engine, _ := newTestEnv(t)
	ctx := context.Background()
	engine.Grant(ctx, "parent", permission.AgentCall)
	engine.Grant(ctx, "child", permission.AgentCall)

	childDef := &AgentDefinition{ID: "child", Graph: agentCallGraph("parent")}
	parentDef := &AgentDefinition{ID: "parent", Graph: agentCallGraph("child")}
	env.Agents = func(id string) (*AgentDefinition, bool) {
		switch id {
		case "child":
			return childDef, true
		case "parent":
			return parentDef, true
		}
		return nil, false
	}

	ec := newExecution("parent")
	err := NewScheduler(env).Run(ctx, ec, parentDef.Graph, memory.TierNone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Equal(t, StatusFailed, ec.Status)
}

func TestRun_AgentCallBudgetInheritance(t *testing.T) {
	parent := &ExecutionContext{Budgeted: true, BudgetRemaining: 50}
	child := &ExecutionContext{}
	childBudget(&AgentDefinition{BudgetLimit: 1000}, parent, child)
	assert.True(t, child.Budgeted)
	assert.Equal(t, int64(50), child.BudgetRemaining, "child budget is capped by parent remaining")

	child2 := &ExecutionContext{}
	childBudget(&AgentDefinition{BudgetLimit: 20}, parent, child2)
	assert.Equal(t, int64(20), child2.BudgetRemaining)

	child3 := &ExecutionContext{}
	childBudget(&AgentDefinition{}, &ExecutionContext{}, child3)
	assert.False(t, child3.Budgeted, "unlimited parent and callee stay unlimited")
}

func TestRun_ConditionRouting(t *testing.T) {
	env, engine, _ := newTestEnv(t)
	ctx := context.Background()
	engine.Grant(ctx, "agent-a", permission.AIGenerate)

	g := &graph.Definition{
		Nodes: []graph.Node{
			{ID: "start", Type: graph.NodeStart},
			{ID: "route", Type: graph.NodeCondition},
			{ID: "high", Type: graph.NodeEnd},
			{ID: "low", Type: graph.NodeEnd},
		},
		Edges: []graph.Edge{
			{From: "start", To: "route"},
			{From: "route", To: "high", Condition: "score >= 0.5"},
			{From: "route", To: "low"},
		},
	}
	ec := newExecution("agent-a")
	ec.Variables["score"] = 0.7
	err := NewScheduler(env).Run(ctx, ec, g, memory.TierNone)
	require.NoError(t, err)
	assert.Equal(t, "high", ec.CurrentNodeID)
}
