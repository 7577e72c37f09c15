package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ModuleLifecycleCounter counts module lifecycle operations.
	ModuleLifecycleCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_module_lifecycle_total",
		Help: "Total number of module lifecycle operations.",
	}, []string{"module", "operation", "status"})

	// PermissionDenialCounter counts denied capability checks.
	PermissionDenialCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_permission_denials_total",
		Help: "Total number of denied capability checks.",
	}, []string{"module", "permission"})

	// GovernanceViolationCounter counts governance violations by code.
	GovernanceViolationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_governance_violations_total",
		Help: "Total number of governance violations.",
	}, []string{"code"})

	// ExecutionCounter counts graph executions by final status.
	ExecutionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_executions_total",
		Help: "Total number of graph executions.",
	}, []string{"status"})

	// NodeStepCounter counts executed graph node steps.
	NodeStepCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_node_steps_total",
		Help: "Total number of executed graph node steps.",
	}, []string{"type", "status"})

	// NodeStepDuration measures the duration of graph node steps.
	NodeStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentd_node_step_duration_seconds",
		Help:    "Duration of graph node steps in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TokensConsumedCounter counts tokens consumed by model and kind.
	TokensConsumedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_tokens_consumed_total",
		Help: "Total number of tokens consumed.",
	}, []string{"model", "kind"})
)
