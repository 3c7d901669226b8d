// Package metrics exposes prometheus instrumentation for the worker's LLM
// and tool activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // prometheus collectors are process-wide by design
var (
	// LLMRequests counts chat-completion calls by provider model and outcome
	// (ok, rate_limited, error).
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_llm_requests_total",
		Help: "LLM chat completion requests by model and outcome.",
	}, []string{"model", "outcome"})

	// LLMRetries counts retry attempts by reason.
	LLMRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_llm_retries_total",
		Help: "LLM request retries by reason.",
	}, []string{"reason"})

	// LLMTokens counts tokens by direction (input, output).
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_llm_tokens_total",
		Help: "Tokens consumed by direction.",
	}, []string{"direction"})

	// ProviderFallbacks counts permanent switches to a lower-priority provider.
	ProviderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentd_llm_provider_fallbacks_total",
		Help: "Permanent provider fallbacks after retry exhaustion.",
	})

	// ToolExecutions counts tool handler invocations by tool and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_tool_executions_total",
		Help: "Tool executions by tool name and outcome.",
	}, []string{"tool", "outcome"})

	// Compactions counts compaction runs by result (ok, failed, skipped).
	Compactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentd_compactions_total",
		Help: "Context compaction attempts by result.",
	}, []string{"result"})

	// TurnDuration observes wall-clock time per engine turn.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentd_engine_turn_duration_seconds",
		Help:    "Duration of one conversation engine turn.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
