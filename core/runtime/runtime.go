package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/events"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/governance"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/graph"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/metrics"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/provider"
)

// RejectionError carries the governance result of a rejected execution.
type RejectionError struct {
	Result governance.Result
}

func (e *RejectionError) Error() string {
	if len(e.Result.Violations) == 0 {
		return "execution rejected"
	}
	first := e.Result.Violations[0]
	return fmt.Sprintf("execution rejected: %s: %s (%d violations)",
		first.Code, first.Message, len(e.Result.Violations))
}

type execHandle struct {
	cancel context.CancelFunc
	ec     *ExecutionContext
}

// AgentRuntime is the execution front door: it admits a request through the
// governance enforcer, runs the scheduler and settles usage.
type AgentRuntime struct {
	registry  *AgentRegistry
	enforcer  *governance.Enforcer
	scheduler *Scheduler
	bus       events.Bus

	mu         sync.Mutex
	executions map[string]*execHandle
}

// NewAgentRuntime wires the runtime.
func NewAgentRuntime(registry *AgentRegistry, enforcer *governance.Enforcer, scheduler *Scheduler, bus events.Bus) *AgentRuntime {
	return &AgentRuntime{
		registry:   registry,
		enforcer:   enforcer,
		scheduler:  scheduler,
		bus:        bus,
		executions: make(map[string]*execHandle),
	}
}

// Execute runs an agent to completion. The returned context carries the
// final status and accumulated usage; a governance rejection returns a
// *RejectionError without touching any counters.
func (r *AgentRuntime) Execute(ctx context.Context, agentID, workspaceID, sessionID string, input map[string]any) (*ExecutionContext, error) {
	def, ok := r.registry.Get(agentID)
	if !ok {
		return nil, errors.ModuleNotFound(agentID)
	}

	model := def.Model
	if model == "" && r.enforcer != nil {
		model = r.enforcer.Models().DefaultModel(workspaceID)
	}

	req := &governance.ExecRequest{
		AgentID:         agentID,
		WorkspaceID:     workspaceID,
		SessionID:       sessionID,
		Model:           model,
		EstimatedTokens: estimateTokens(def, input),
		Graph:           def.Graph,
		Tools:           graphTools(def.Graph),
	}

	var reservation *governance.Reservation
	if r.enforcer != nil {
		res, result := r.enforcer.Reserve(ctx, req)
		if res == nil {
			r.publishExec(ctx, events.ExecutionRejectedEventType, "", agentID, workspaceID, "rejected", result.Violations)
			return nil, &RejectionError{Result: result}
		}
		reservation = res
	}

	ec := &ExecutionContext{
		ExecutionID: uuid.NewString(),
		AgentID:     agentID,
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Model:       model,
		Variables:   map[string]any{},
		Status:      StatusRunning,
	}
	for k, v := range input {
		ec.Variables[k] = v
	}
	if def.BudgetLimit > 0 {
		ec.Budgeted = true
		ec.BudgetRemaining = def.BudgetLimit
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.executions[ec.ExecutionID] = &execHandle{cancel: cancel, ec: ec}
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.executions, ec.ExecutionID)
		r.mu.Unlock()
	}()

	r.publishExec(ctx, events.ExecutionStartedEventType, ec.ExecutionID, agentID, workspaceID, string(StatusRunning), nil)
	logger.Info(logger.WithComponentName(ctx, "runtime"), "execution started",
		zap.String("execution", ec.ExecutionID), zap.String("agent", agentID))

	err := r.scheduler.Run(runCtx, ec, def.Graph, def.MemoryTier)

	if reservation != nil {
		reservation.Complete(ec.TokenUsage.Total(), ec.TokenUsage.EstimatedCost)
	}
	metrics.ExecutionCounter.WithLabelValues(string(ec.Status)).Inc()

	topic := events.ExecutionCompletedEventType
	if ec.Status == StatusAborted {
		topic = events.ExecutionAbortedEventType
	}
	r.publishExec(ctx, topic, ec.ExecutionID, agentID, workspaceID, string(ec.Status), nil)
	logger.Info(logger.WithComponentName(ctx, "runtime"), "execution finished",
		zap.String("execution", ec.ExecutionID),
		zap.String("status", string(ec.Status)),
		zap.Int64("tokens", ec.TokenUsage.Total()))

	return ec, err
}

// Resume restores a snapshot and continues the execution from its last
// completed node. Only halted and aborted executions can be resumed.
func (r *AgentRuntime) Resume(ctx context.Context, executionID string) (*ExecutionContext, error) {
	if r.scheduler.env.Store == nil {
		return nil, fmt.Errorf("runtime: no snapshot store configured")
	}
	data, err := r.scheduler.env.Store.Get(ctx, snapshotKey(executionID))
	if err != nil {
		return nil, fmt.Errorf("runtime: snapshot for %s: %w", executionID, err)
	}
	ec, err := UnmarshalExecutionContext(data)
	if err != nil {
		return nil, fmt.Errorf("runtime: snapshot for %s: %w", executionID, err)
	}
	if ec.Status != StatusHalted && ec.Status != StatusAborted {
		return nil, fmt.Errorf("runtime: execution %s is %s, not resumable", executionID, ec.Status)
	}
	def, ok := r.registry.Get(ec.AgentID)
	if !ok {
		return nil, errors.ModuleNotFound(ec.AgentID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.executions[ec.ExecutionID] = &execHandle{cancel: cancel, ec: ec}
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.executions, ec.ExecutionID)
		r.mu.Unlock()
	}()

	err = r.scheduler.Run(runCtx, ec, def.Graph, def.MemoryTier)
	metrics.ExecutionCounter.WithLabelValues(string(ec.Status)).Inc()
	return ec, err
}

// Abort cancels a running execution. The scheduler observes the
// cancellation at its next poll and persists the aborted state.
func (r *AgentRuntime) Abort(executionID string) error {
	r.mu.Lock()
	handle, ok := r.executions[executionID]
	r.mu.Unlock()
	if !ok {
		return errors.ModuleNotFound(executionID)
	}
	handle.cancel()
	return nil
}

// Running returns the ids of in-flight executions.
func (r *AgentRuntime) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.executions))
	for id := range r.executions {
		out = append(out, id)
	}
	return out
}

func (r *AgentRuntime) publishExec(ctx context.Context, topic, executionID, agentID, workspaceID, status string, violations []governance.Violation) {
	if r.bus == nil {
		return
	}
	codes := make([]string, len(violations))
	for i, v := range violations {
		codes[i] = v.Code
	}
	r.bus.Publish(ctx, topic, events.ExecutionEvent{
		Type:        topic,
		ExecutionID: executionID,
		AgentID:     agentID,
		WorkspaceID: workspaceID,
		Status:      status,
		Violations:  codes,
	})
}

// estimateTokens sizes the admission request: the serialized input plus
// each LLM node's configured prompt text and expected response.
func estimateTokens(def *AgentDefinition, input map[string]any) int64 {
	var est CallEstimate
	for _, v := range input {
		est.Prompt += provider.EstimateTokens(fmt.Sprint(v))
	}
	if def.Graph != nil {
		for i := range def.Graph.Nodes {
			n := &def.Graph.Nodes[i]
			switch n.Type {
			case graph.NodeLLM:
				est.Context += provider.EstimateTokens(configString(n, "prompt", ""))
				est.Context += provider.EstimateTokens(configString(n, "system", ""))
				if maxTokens := configInt(n, "maxTokens", 0); maxTokens > 0 {
					est.Response += int64(maxTokens)
				} else {
					est.Response += responseAllowance
				}
			case graph.NodeAgentCall:
				est.Response += responseAllowance
			}
		}
	}
	total := est.Total()
	if total == 0 {
		total = 1
	}
	return total
}

// graphTools lists the tool references the graph's TOOL nodes name, for the
// governance tool allowlist.
func graphTools(g *graph.Definition) []string {
	if g == nil {
		return nil
	}
	var out []string
	for _, n := range g.Nodes {
		if n.Type != graph.NodeTool {
			continue
		}
		if tool, ok := n.Config["tool"].(string); ok && tool != "" {
			out = append(out, tool)
		}
	}
	return out
}
