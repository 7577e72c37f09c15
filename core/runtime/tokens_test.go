package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/graph"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/memory"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
)

func TestCallEstimate_Total(t *testing.T) {
	est := CallEstimate{Prompt: 10, Context: 20, Memory: 30, Schema: 5, Response: 256}
	assert.Equal(t, int64(321), est.Total())
}

func TestSuggestDowngrades_WithinBudget(t *testing.T) {
	est := CallEstimate{Prompt: 50, Response: 100}
	assert.Nil(t, SuggestDowngrades(est, 150))
}

func TestSuggestDowngrades_OverBudget(t *testing.T) {
	est := CallEstimate{Prompt: 50, Context: 200, Memory: 100, Response: 50}
	got := SuggestDowngrades(est, 300) // 100 over

	require.Len(t, got, 3)
	assert.Equal(t, Downgrade{Kind: DowngradeTrimMemory, Target: 0}, got[0])
	assert.Equal(t, Downgrade{Kind: DowngradeReduceContext, Target: 150}, got[1])
	assert.Equal(t, DowngradeModel, got[2].Kind)
}

func TestSuggestDowngrades_AlwaysOffersCheaperModel(t *testing.T) {
	// nothing trimmable, so switching models is the only way out
	est := CallEstimate{Prompt: 500, Response: 500}
	got := SuggestDowngrades(est, 100)
	require.Len(t, got, 1)
	assert.Equal(t, DowngradeModel, got[0].Kind)
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Record(Breakdown{ExecutionID: "e1", NodeID: "n1", Model: "gpt-4o-mini",
		PromptTokens: 100, ResponseTokens: 40, Cost: 0.002})
	tr.Record(Breakdown{ExecutionID: "e1", NodeID: "n2", Model: "gpt-4o-mini",
		PromptTokens: 60, MemoryTokens: 20, ResponseTokens: 30, Cost: 0.001})

	assert.Equal(t, int64(250), tr.TotalTokens())
	assert.InDelta(t, 0.003, tr.TotalCost(), 1e-9)
	require.Len(t, tr.Records(), 2)

	report := tr.Report()
	assert.Contains(t, report, "total tokens 250")
	assert.Contains(t, report, "[e1/n2]")

	// Records hands back a copy, not the live slice
	tr.Records()[0].PromptTokens = 0
	assert.Equal(t, int64(250), tr.TotalTokens())
}

func TestEstimateTokens(t *testing.T) {
	def := &AgentDefinition{Graph: llmGraph()}
	est := estimateTokens(def, map[string]any{"input": "the text"})
	assert.Greater(t, est, int64(responseAllowance), "estimate covers the response allowance plus prompt text")

	// a configured maxTokens replaces the flat allowance
	capped := &AgentDefinition{Graph: &graph.Definition{
		Nodes: []graph.Node{{ID: "n", Type: graph.NodeLLM, Config: map[string]any{"maxTokens": 10}}},
	}}
	assert.Equal(t, int64(10), estimateTokens(capped, nil))

	assert.Equal(t, int64(1), estimateTokens(&AgentDefinition{Graph: &graph.Definition{}}, nil))
}

func TestRun_RecordsTokenSpend(t *testing.T) {
	env, engine, _ := newTestEnv(t)
	ctx := context.Background()
	engine.Grant(ctx, "agent-a", permission.AIGenerate)

	s := NewScheduler(env)
	ec := newExecution("agent-a")
	require.NoError(t, s.Run(ctx, ec, llmGraph(), memory.TierNone))

	records := s.Tracker().Records()
	require.Len(t, records, 1)
	assert.Equal(t, "exec-1", records[0].ExecutionID)
	assert.Equal(t, "answer", records[0].NodeID)
	assert.Equal(t, "gpt-4o-mini", records[0].Model)
	assert.Greater(t, s.Tracker().TotalTokens(), int64(0))
}
