// Package engine runs the chat-turn loop: it posts the conversation to the
// LLM, dispatches tool calls, feeds results back into history and repeats
// until a terminal tool fires or a cap is hit.
package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"agentd/pkg/api"
	"agentd/pkg/config"
	"agentd/pkg/convo"
	"agentd/pkg/llm"
	"agentd/pkg/logx"
	"agentd/pkg/metrics"
	"agentd/pkg/ticket"
	"agentd/pkg/tools"
)

// ExitReason says why Continue returned.
type ExitReason string

const (
	// ExitCompleted: the model ended its turn without calling a tool.
	ExitCompleted ExitReason = "completed"
	// ExitToolRequested: a terminal tool fired.
	ExitToolRequested ExitReason = "tool_requested_exit"
	// ExitMaxIterations: the per-conversation turn cap was reached.
	ExitMaxIterations ExitReason = "max_iterations_reached"
	// ExitCostExceeded: the ticket's cost budget is spent.
	ExitCostExceeded ExitReason = "cost_exceeded"
	// ExitError: an unrecoverable LLM or transport failure.
	ExitError ExitReason = "error"
)

// Result is the outcome of one Continue call. FinalDetail is the terminal
// tool's raw argument (rejection feedback, subtask summary), without the
// formatting of the tool response in Content.
type Result struct {
	Reason      ExitReason
	Content     string
	FinalTool   string
	FinalDetail string
	Err         error
}

// Completer is the LLM surface the engine needs; satisfied by *llm.Chain.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	ActiveConfig() config.LLMConfig
}

// Publisher receives conversation snapshots after turns; satisfied by the hub
// client. Sends are best-effort.
type Publisher interface {
	SyncConversation(snapshot convo.Snapshot)
}

// snapshotPublishRate throttles mid-turn snapshot publication; the final
// snapshot of a Continue call is always published.
const snapshotPublishRate = rate.Limit(2)

// Engine drives conversations. One engine serves all conversations of an
// active-work scope; per-conversation state lives on the Conversation itself.
type Engine struct {
	chain     Completer
	api       *api.Client
	holder    *ticket.Holder
	compactor *Compactor
	publisher Publisher
	logger    *logx.Logger

	maxIterations int
	publishLimit  *rate.Limiter
}

// New creates an engine. publisher may be nil (sub-agents are not mirrored to
// the hub).
func New(chain Completer, apiClient *api.Client, holder *ticket.Holder, compactor *Compactor, publisher Publisher, maxIterations int, logger *logx.Logger) *Engine {
	if maxIterations <= 0 {
		maxIterations = config.DefaultMaxIterations
	}
	return &Engine{
		chain:         chain,
		api:           apiClient,
		holder:        holder,
		compactor:     compactor,
		publisher:     publisher,
		logger:        logger,
		maxIterations: maxIterations,
		publishLimit:  rate.NewLimiter(snapshotPublishRate, 1),
	}
}

// Continue runs turns until the model stops calling tools, a terminal tool
// fires, or a cap trips. maxTokens caps the completion size per turn; zero
// means provider default.
func (e *Engine) Continue(ctx context.Context, c *convo.Conversation, registry *tools.Registry, maxTokens int) Result {
	if c.Finalized {
		return Result{Reason: ExitError, Err: fmt.Errorf("conversation %s is finalized", c.ID)}
	}

	for {
		if ctx.Err() != nil {
			c.Finalize()
			e.publishSnapshot(c, true)
			return Result{Reason: ExitError, Err: ctx.Err()}
		}
		if reason, res := e.preflight(c); reason {
			return res
		}

		res, done := e.turn(ctx, c, registry, maxTokens)
		if done {
			e.publishSnapshot(c, true)
			return res
		}
	}
}

// preflight checks the caps that end a conversation before another turn runs.
func (e *Engine) preflight(c *convo.Conversation) (bool, Result) {
	if t := e.holder.Get(); t != nil && t.MaxCost > 0 && t.Cost >= t.MaxCost {
		e.logger.Warn("cost budget spent for %s: %.4f of %.4f", t.ID, t.Cost, t.MaxCost)
		return true, Result{Reason: ExitCostExceeded}
	}
	if c.Iterations >= e.maxIterations {
		return true, Result{Reason: ExitMaxIterations}
	}
	return false, Result{}
}

// turn executes one LLM round trip plus tool dispatch. done=false means the
// loop should continue.
func (e *Engine) turn(ctx context.Context, c *convo.Conversation, registry *tools.Registry, maxTokens int) (Result, bool) {
	started := time.Now()
	defer func() {
		metrics.TurnDuration.Observe(time.Since(started).Seconds())
	}()

	if e.compactor != nil && e.compactor.ShouldCompact(c) {
		if err := e.compactor.Compact(ctx, c); err != nil {
			e.logger.Warn("compaction of %s failed: %v", c.ID, err)
			e.addActivity(ctx, fmt.Sprintf("Compaction failed: %v", err))
		}
	}

	resp, err := e.chain.Complete(ctx, llm.Request{
		Messages:   e.requestMessages(c),
		Tools:      registry.Definitions(),
		ToolChoice: llm.ToolChoiceRequired,
		MaxTokens:  maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			c.Finalize()
			return Result{Reason: ExitError, Err: ctx.Err()}, true
		}
		return Result{Reason: ExitError, Err: err, Content: err.Error()}, true
	}

	c.Iterations++
	e.recordSpend(ctx, c, resp)

	calls := resp.ToolCalls
	if len(calls) == 0 {
		var parseErr error
		calls, parseErr = parseXMLToolCalls(resp.Content, registry)
		if parseErr != nil {
			e.logger.Warn("discarding inline tool calls in %s: %v", c.ID, parseErr)
			calls = nil
		}
	}

	c.AddAssistant(resp.Content, calls)
	if len(calls) == 0 {
		return Result{Reason: ExitCompleted, Content: resp.Content}, true
	}
	e.publishSnapshot(c, false)

	final := e.dispatch(ctx, c, registry, calls)
	e.publishSnapshot(c, false)
	if final != nil {
		return *final, true
	}
	return Result{}, false
}

// requestMessages rebuilds the wire history with the memory section appended
// to the system prompt, so hoisted facts are always in view.
func (e *Engine) requestMessages(c *convo.Conversation) []convo.Message {
	msgs := make([]convo.Message, len(c.Messages))
	copy(msgs, c.Messages)
	if c.Memories != nil && len(msgs) > 0 && msgs[0].Role == convo.RoleSystem {
		msgs[0].Content = c.SystemPrompt + "\n\n" + c.Memories.Format()
	}
	return msgs
}

// dispatch runs the turn's tool calls in order. Handler failures become
// error-text results and never abort the loop; a terminal tool ends it.
func (e *Engine) dispatch(ctx context.Context, c *convo.Conversation, registry *tools.Registry, calls []convo.ToolCall) *Result {
	var final *Result
	for _, call := range calls {
		response, res := e.dispatchOne(ctx, registry, call)
		c.AddToolResult(call.ID, response)
		if res != nil && res.IsFinal && final == nil {
			final = &Result{Reason: ExitToolRequested, Content: response, FinalTool: call.Name, FinalDetail: res.Detail}
		}
	}
	return final
}

func (e *Engine) dispatchOne(ctx context.Context, registry *tools.Registry, call convo.ToolCall) (string, *tools.Result) {
	tool, ok := registry.Get(call.Name)
	if !ok {
		metrics.ToolExecutions.WithLabelValues(call.Name, "unknown").Inc()
		return fmt.Sprintf("Error: Unknown tool '%s'", call.Name), nil
	}

	res, err := tool.Exec(ctx, call.Arguments)
	if err != nil {
		metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
		e.logger.Debug("tool %s failed: %v", call.Name, err)
		return "Error: " + err.Error(), nil
	}
	metrics.ToolExecutions.WithLabelValues(call.Name, "ok").Inc()
	return tools.TruncateResponse(res.Response), res
}

// recordSpend prices the turn and pushes the new total to the control plane.
// Failures only log; spend tracking must not break the loop.
func (e *Engine) recordSpend(ctx context.Context, c *convo.Conversation, resp *llm.Response) {
	cfg := e.chain.ActiveConfig()
	promptTokens, completionTokens := turnUsage(c.Messages, resp)
	metrics.LLMTokens.WithLabelValues("input").Add(float64(promptTokens))
	metrics.LLMTokens.WithLabelValues("output").Add(float64(completionTokens))

	cost := turnCost(cfg, promptTokens, completionTokens)
	if cost == 0 || e.api == nil {
		return
	}
	t := e.holder.Get()
	if t == nil {
		return
	}
	updated, err := e.api.UpdateCost(ctx, t.ID, t.Cost+cost)
	if err != nil {
		e.logger.Warn("failed to record spend for %s: %v", t.ID, err)
		return
	}
	e.holder.Set(updated)
}

func (e *Engine) addActivity(ctx context.Context, message string) {
	if e.api == nil {
		return
	}
	if t := e.holder.Get(); t != nil {
		if err := e.api.AddActivity(ctx, t.ID, message); err != nil {
			e.logger.Debug("failed to add activity: %v", err)
		}
	}
}

// publishSnapshot mirrors the conversation to the hub. Mid-turn publishes are
// throttled; the closing publish of a Continue call always goes out.
func (e *Engine) publishSnapshot(c *convo.Conversation, force bool) {
	if e.publisher == nil {
		return
	}
	if !force && !e.publishLimit.Allow() {
		return
	}
	e.publisher.SyncConversation(c.Snapshot())
}
