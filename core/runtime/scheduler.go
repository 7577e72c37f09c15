package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/governance"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/graph"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/memory"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/metrics"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/permission"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/runner"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/sandbox"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/storage"
)

// maxSteps caps a single execution so a cyclic graph cannot spin forever.
const maxSteps = 1000

// ErrBudgetExhausted halts a budgeted execution with no tokens left.
var ErrBudgetExhausted = errors.New("runtime: token budget exhausted")

// Env holds the backends the scheduler steps against. Permissions and
// Provider are required for LLM graphs; the rest degrade gracefully when
// nil.
type Env struct {
	Permissions *permission.Engine
	Provider    provider.Provider
	Embedder    provider.Embedder
	Runner      runner.Runner
	Store       storage.Store
	Memory      memory.VectorStore
	Models      *governance.ModelRegistry
	Agents      func(agentID string) (*AgentDefinition, bool)
	Tools       sandbox.ToolInvoker
}

// Scheduler walks a workflow graph node by node, checking the agent's
// capability for each privileged node type and snapshotting the execution
// context after every step.
type Scheduler struct {
	env     Env
	tracer  trace.Tracer
	tracker *TokenTracker
}

// NewScheduler creates a scheduler over the given environment.
func NewScheduler(env Env) *Scheduler {
	return &Scheduler{env: env, tracer: otel.Tracer("runtime"), tracker: NewTokenTracker()}
}

// Tracker exposes the per-call spend records accumulated across runs.
func (s *Scheduler) Tracker() *TokenTracker { return s.tracker }

// Run executes the graph until END, a halt, a failure or abort. The final
// state is always reflected in ec and persisted; the returned error reports
// failures and aborts, never ordinary halts.
func (s *Scheduler) Run(ctx context.Context, ec *ExecutionContext, g *graph.Definition, tier memory.Tier) error {
	lctx := logger.WithComponentName(ctx, "scheduler")
	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}
	ec.Status = StatusRunning

	if ec.CurrentNodeID == "" {
		start, ok := g.Start()
		if !ok {
			ec.Status = StatusFailed
			ec.HaltReason = "graph has no START node"
			s.snapshot(ctx, ec)
			return fmt.Errorf("runtime: graph has no START node")
		}
		ec.CurrentNodeID = start.ID
	}

	ctx, span := s.tracer.Start(ctx, "graph.execute", trace.WithAttributes(
		attribute.String("execution.id", ec.ExecutionID),
		attribute.String("agent.id", ec.AgentID),
	))
	defer span.End()

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			ec.Status = StatusAborted
			ec.HaltReason = err.Error()
			s.snapshot(ctx, ec)
			return err
		}
		if step >= maxSteps {
			ec.Status = StatusHalted
			ec.HaltReason = fmt.Sprintf("step cap of %d reached", maxSteps)
			logger.Warn(lctx, "execution halted at step cap",
				zap.String("execution", ec.ExecutionID), zap.String("node", ec.CurrentNodeID))
			s.snapshot(ctx, ec)
			return nil
		}

		node, ok := g.Node(ec.CurrentNodeID)
		if !ok {
			ec.Status = StatusHalted
			ec.HaltReason = fmt.Sprintf("node %q not found", ec.CurrentNodeID)
			logger.Warn(lctx, "execution halted on missing node",
				zap.String("execution", ec.ExecutionID), zap.String("node", ec.CurrentNodeID))
			s.snapshot(ctx, ec)
			return nil
		}

		switch node.Type {
		case graph.NodeStart, graph.NodeEnd, graph.NodeCondition,
			graph.NodeLLM, graph.NodeTool, graph.NodeAgentCall:
		default:
			// an unrecognized type halts explicitly rather than being
			// silently skipped
			ec.Status = StatusHalted
			ec.HaltReason = fmt.Sprintf("unknown node type %q", node.Type)
			logger.Warn(lctx, "execution halted on unknown node type",
				zap.String("execution", ec.ExecutionID), zap.String("type", string(node.Type)))
			s.snapshot(ctx, ec)
			return nil
		}

		if err := s.step(ctx, ec, node, tier); err != nil {
			ec.Status = StatusFailed
			ec.HaltReason = err.Error()
			s.snapshot(ctx, ec)
			return err
		}

		if node.Type == graph.NodeEnd {
			ec.Status = StatusCompleted
			s.snapshot(ctx, ec)
			return nil
		}
		if ec.budgetExhausted() {
			ec.Status = StatusHalted
			ec.HaltReason = ErrBudgetExhausted.Error()
			logger.Error(lctx, "execution halted on exhausted budget",
				zap.String("execution", ec.ExecutionID),
				zap.String("node", ec.CurrentNodeID),
				zap.Int64("tokens", ec.TokenUsage.Total()))
			s.snapshot(ctx, ec)
			return ErrBudgetExhausted
		}
		s.snapshot(ctx, ec)

		// abort may have arrived while the step ran
		if err := ctx.Err(); err != nil {
			ec.Status = StatusAborted
			ec.HaltReason = err.Error()
			s.snapshot(ctx, ec)
			return err
		}

		next, ok := g.NextNode(node.ID, ec.Variables)
		if !ok {
			ec.Status = StatusHalted
			ec.HaltReason = fmt.Sprintf("no outgoing edge matched at node %q", node.ID)
			logger.Warn(lctx, "execution halted at dead end",
				zap.String("execution", ec.ExecutionID), zap.String("node", node.ID))
			s.snapshot(ctx, ec)
			return nil
		}
		ec.CurrentNodeID = next
	}
}

func (s *Scheduler) step(ctx context.Context, ec *ExecutionContext, node *graph.Node, tier memory.Tier) error {
	start := time.Now()
	nodeType := string(node.Type)

	ctx, span := s.tracer.Start(ctx, "node."+nodeType, trace.WithAttributes(
		attribute.String("node.id", node.ID),
	))
	defer span.End()

	var err error
	switch node.Type {
	case graph.NodeLLM:
		err = s.stepLLM(ctx, ec, node, tier)
	case graph.NodeTool:
		err = s.stepTool(ctx, ec, node)
	case graph.NodeAgentCall:
		err = s.stepAgentCall(ctx, ec, node)
	default:
		// START, END and CONDITION carry no work of their own
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.NodeStepCounter.WithLabelValues(nodeType, status).Inc()
	metrics.NodeStepDuration.WithLabelValues(nodeType).Observe(time.Since(start).Seconds())
	return err
}

// checkNode gates a node type through the same capability table the sandbox
// uses, with the agent id as the ledger subject.
func (s *Scheduler) checkNode(ctx context.Context, ec *ExecutionContext, nodeType graph.NodeType) error {
	perm, ok := permission.RequiredFor(permission.NodeSurface(string(nodeType)))
	if !ok {
		return nil
	}
	return s.env.Permissions.Check(ctx, ec.AgentID, perm)
}

func (s *Scheduler) stepLLM(ctx context.Context, ec *ExecutionContext, node *graph.Node, tier memory.Tier) error {
	if err := s.checkNode(ctx, ec, node.Type); err != nil {
		return err
	}
	if s.env.Provider == nil {
		return fmt.Errorf("no provider configured")
	}

	prompt := interpolate(configString(node, "prompt", ""), ec.Variables)
	system := interpolate(configString(node, "system", ""), ec.Variables)
	model := configString(node, "model", ec.Model)
	maxTokens := configInt(node, "maxTokens", 0)

	entries := s.recallEntries(ctx, prompt, tier)
	recalled := memory.SelectAndTrim(entries, tier, memoryAllowance)

	est := CallEstimate{
		Prompt:   provider.EstimateTokens(prompt),
		Context:  provider.EstimateTokens(system),
		Memory:   provider.EstimateTokens(recalled),
		Response: int64(maxTokens),
	}
	if est.Response == 0 {
		est.Response = responseAllowance
	}
	if ec.Budgeted {
		for _, d := range SuggestDowngrades(est, ec.BudgetRemaining) {
			if d.Kind == DowngradeTrimMemory {
				recalled = memory.SelectAndTrim(entries, tier, d.Target)
				est.Memory = provider.EstimateTokens(recalled)
			}
		}
	}
	if recalled != "" {
		system = strings.TrimSpace("Relevant context:\n" + recalled + "\n\n" + system)
	}

	resp, err := s.env.Provider.Generate(ctx, provider.Request{
		Model:        model,
		SystemPrompt: system,
		UserContent:  prompt,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return fmt.Errorf("node %s: %w", node.ID, err)
	}

	var cost float64
	if s.env.Models != nil {
		cost = s.env.Models.EstimateCost(model, resp.Usage.Total())
	}
	ec.TokenUsage.add(resp.Usage, cost)
	ec.chargeTokens(resp.Usage.Total())
	s.tracker.Record(Breakdown{
		ExecutionID:    ec.ExecutionID,
		NodeID:         node.ID,
		Model:          model,
		PromptTokens:   resp.Usage.PromptTokens,
		MemoryTokens:   est.Memory,
		ResponseTokens: resp.Usage.CompletionTokens,
		Cost:           cost,
	})
	metrics.TokensConsumedCounter.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.TokensConsumedCounter.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))

	ec.Variables[configString(node, "output", "output")] = resp.Content
	return nil
}

// recallEntries fetches candidate memories for an LLM step: a vector search
// when an embedder is wired, recency otherwise.
func (s *Scheduler) recallEntries(ctx context.Context, prompt string, tier memory.Tier) []memory.Entry {
	if s.env.Memory == nil || tier == memory.TierNone {
		return nil
	}

	const topK = 5
	var entries []memory.Entry
	if s.env.Embedder != nil {
		vector, err := s.env.Embedder.Embed(ctx, prompt)
		if err == nil {
			entries, _ = s.env.Memory.Search(ctx, vector, topK)
		}
	}
	if entries == nil {
		if recent, ok := s.env.Memory.(interface{ Recent(int) []memory.Entry }); ok {
			entries = recent.Recent(topK)
		}
	}
	return entries
}

func (s *Scheduler) stepTool(ctx context.Context, ec *ExecutionContext, node *graph.Node) error {
	if err := s.checkNode(ctx, ec, node.Type); err != nil {
		return err
	}

	output := configString(node, "output", "output")
	if code := configString(node, "code", ""); code != "" {
		if s.env.Runner == nil {
			return fmt.Errorf("node %s: no code runner configured", node.ID)
		}
		result, err := s.env.Runner.Execute(ctx, code, ec.Variables)
		if err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
		ec.Variables[output] = result
		return nil
	}

	toolRef := configString(node, "tool", "")
	if toolRef == "" {
		return fmt.Errorf("node %s: TOOL node names neither tool nor code", node.ID)
	}
	if s.env.Tools == nil {
		return fmt.Errorf("node %s: no tool invoker configured", node.ID)
	}
	input := configInput(node, ec.Variables)
	result, err := s.env.Tools.InvokeTool(ctx, ec.AgentID, toolRef, input)
	if err != nil {
		return fmt.Errorf("node %s: %w", node.ID, err)
	}
	ec.Variables[output] = result
	return nil
}

func (s *Scheduler) stepAgentCall(ctx context.Context, ec *ExecutionContext, node *graph.Node) error {
	if err := s.checkNode(ctx, ec, node.Type); err != nil {
		return err
	}
	if s.env.Agents == nil {
		return fmt.Errorf("node %s: no agent lookup configured", node.ID)
	}

	calleeID := configString(node, "agent", "")
	if calleeID == "" {
		return fmt.Errorf("node %s: AGENT_CALL names no agent", node.ID)
	}
	if calleeID == ec.AgentID {
		return fmt.Errorf("node %s: agent %s cannot call itself", node.ID, calleeID)
	}
	for _, caller := range ec.CallStack {
		if caller == calleeID {
			return fmt.Errorf("node %s: agent call cycle through %s", node.ID, calleeID)
		}
	}

	def, ok := s.env.Agents(calleeID)
	if !ok {
		return fmt.Errorf("node %s: unknown agent %q", node.ID, calleeID)
	}

	child := &ExecutionContext{
		ExecutionID: uuid.NewString(),
		AgentID:     calleeID,
		SessionID:   ec.SessionID,
		WorkspaceID: ec.WorkspaceID,
		Model:       def.Model,
		Variables: map[string]any{
			"input": interpolate(configString(node, "input", ""), ec.Variables),
		},
		CallStack: append(append([]string{}, ec.CallStack...), ec.AgentID),
	}
	if child.Model == "" {
		child.Model = ec.Model
	}
	// the child's budget can never exceed what the parent has left
	childBudget(def, ec, child)

	err := s.Run(ctx, child, def.Graph, def.MemoryTier)

	// the parent pays for the child's consumption whatever the outcome
	ec.TokenUsage.PromptTokens += child.TokenUsage.PromptTokens
	ec.TokenUsage.CompletionTokens += child.TokenUsage.CompletionTokens
	ec.TokenUsage.EstimatedCost += child.TokenUsage.EstimatedCost
	ec.chargeTokens(child.TokenUsage.Total())

	if err != nil {
		return fmt.Errorf("node %s: agent %s: %w", node.ID, calleeID, err)
	}
	if child.Status != StatusCompleted {
		return fmt.Errorf("node %s: agent %s ended %s: %s", node.ID, calleeID, child.Status, child.HaltReason)
	}

	ec.Variables[configString(node, "output", "output")] = child.Variables["output"]
	return nil
}

func childBudget(def *AgentDefinition, parent *ExecutionContext, child *ExecutionContext) {
	if def.BudgetLimit > 0 {
		child.Budgeted = true
		child.BudgetRemaining = def.BudgetLimit
	}
	if parent.Budgeted {
		if !child.Budgeted || parent.BudgetRemaining < child.BudgetRemaining {
			child.Budgeted = true
			child.BudgetRemaining = parent.BudgetRemaining
		}
	}
}

// snapshot persists the execution context. It must work even when ctx was
// cancelled, so the abort state itself is durable.
func (s *Scheduler) snapshot(ctx context.Context, ec *ExecutionContext) {
	if s.env.Store == nil {
		return
	}
	data, err := ec.Marshal()
	if err != nil {
		logger.Error(logger.WithComponentName(ctx, "scheduler"), "snapshot marshal failed",
			zap.String("execution", ec.ExecutionID), zap.Error(err))
		return
	}
	pctx := context.WithoutCancel(ctx)
	if err := s.env.Store.Set(pctx, snapshotKey(ec.ExecutionID), data); err != nil {
		logger.Warn(logger.WithComponentName(ctx, "scheduler"), "snapshot persist failed",
			zap.String("execution", ec.ExecutionID), zap.Error(err))
	}
}

// interpolate expands $name and ${name} references against the execution
// variables; unknown names expand to the empty string.
func interpolate(s string, vars map[string]any) string {
	if s == "" || !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if v, ok := vars[name]; ok {
			return fmt.Sprint(v)
		}
		return ""
	})
}

func configString(node *graph.Node, key, fallback string) string {
	if v, ok := node.Config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func configInt(node *graph.Node, key string, fallback int) int {
	switch v := node.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// configInput builds the tool input map, interpolating string values.
func configInput(node *graph.Node, vars map[string]any) map[string]any {
	raw, ok := node.Config["input"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = interpolate(s, vars)
			continue
		}
		out[k] = v
	}
	return out
}
