package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"agentd/pkg/config"
	"agentd/pkg/convo"
	"agentd/pkg/llm"
	"agentd/pkg/logx"
	"agentd/pkg/memory"
	"agentd/pkg/ticket"
	"agentd/pkg/tools"
)

// scriptedChain replays canned responses in order.
type scriptedChain struct {
	mu        sync.Mutex
	cfg       config.LLMConfig
	responses []*llm.Response
	err       error
	requests  []llm.Request
}

func (s *scriptedChain) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.Response{Content: "nothing left to say"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedChain) ActiveConfig() config.LLMConfig { return s.cfg }

// echoTool records invocations and returns a fixed response.
type echoTool struct {
	name     string
	response string
	calls    int
}

func (t *echoTool) Name() string { return t.name }
func (t *echoTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        t.name,
		Description: "test tool",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"arg": {Type: "string"},
			},
		},
	}
}
func (t *echoTool) Exec(context.Context, map[string]any) (*tools.Result, error) {
	t.calls++
	return &tools.Result{Response: t.response}, nil
}

func newTestEngine(chain Completer, maxIterations int) (*Engine, *ticket.Holder) {
	holder := ticket.NewHolder(nil)
	e := New(chain, nil, holder, nil, nil, maxIterations, logx.NewLogger("engine-test"))
	return e, holder
}

func toolCallResponse(name string, args map[string]any) *llm.Response {
	return &llm.Response{ToolCalls: []convo.ToolCall{{ID: "call_1", Name: name, Arguments: args}}}
}

func TestContinueCompletedWithoutToolCalls(t *testing.T) {
	chain := &scriptedChain{responses: []*llm.Response{{Content: "all done"}}}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	res := e.Continue(context.Background(), c, tools.NewRegistry(), 0)
	if res.Reason != ExitCompleted || res.Content != "all done" {
		t.Fatalf("unexpected result: %+v", res)
	}
	last := c.Messages[len(c.Messages)-1]
	if last.Role != convo.RoleAssistant || last.Content != "all done" {
		t.Errorf("assistant message not appended: %+v", last)
	}
	if c.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", c.Iterations)
	}
}

func TestContinueDispatchesToolsThenCompletes(t *testing.T) {
	tool := &echoTool{name: "probe", response: "probe output"}
	chain := &scriptedChain{responses: []*llm.Response{
		toolCallResponse("probe", map[string]any{"arg": "x"}),
		{Content: "finished"},
	}}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	res := e.Continue(context.Background(), c, tools.NewRegistry(tool), 0)
	if res.Reason != ExitCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if tool.calls != 1 {
		t.Errorf("tool called %d times, want 1", tool.calls)
	}

	// The tool result must be a tool-role message bound to the call id.
	var found bool
	for _, m := range c.Messages {
		if m.Role == convo.RoleTool && m.ToolCallID == "call_1" && m.Content == "probe output" {
			found = true
		}
	}
	if !found {
		t.Errorf("tool result message missing: %+v", c.Messages)
	}
}

func TestContinueUnknownToolRecordsErrorAndContinues(t *testing.T) {
	chain := &scriptedChain{responses: []*llm.Response{
		toolCallResponse("bogus", nil),
		{Content: "recovered"},
	}}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	res := e.Continue(context.Background(), c, tools.NewRegistry(), 0)
	if res.Reason != ExitCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
	var found bool
	for _, m := range c.Messages {
		if m.Role == convo.RoleTool && m.Content == "Error: Unknown tool 'bogus'" {
			found = true
		}
	}
	if !found {
		t.Errorf("unknown-tool error message missing: %+v", c.Messages)
	}
}

func TestContinueTerminalToolExits(t *testing.T) {
	chain := &scriptedChain{responses: []*llm.Response{
		toolCallResponse(tools.ToolEndSubtask, map[string]any{"summary": "built it"}),
	}}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	res := e.Continue(context.Background(), c, tools.NewRegistry(tools.NewEndSubtaskTool()), 0)
	if res.Reason != ExitToolRequested || res.FinalTool != tools.ToolEndSubtask {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Content, "built it") {
		t.Errorf("final tool response not carried: %q", res.Content)
	}
	if res.FinalDetail != "built it" {
		t.Errorf("raw terminal-tool argument not carried: %q", res.FinalDetail)
	}
}

func TestContinueMaxIterations(t *testing.T) {
	tool := &echoTool{name: "probe", response: "again"}
	chain := &scriptedChain{}
	// Always answer with another tool call.
	for i := 0; i < 5; i++ {
		chain.responses = append(chain.responses, toolCallResponse("probe", nil))
	}
	e, _ := newTestEngine(chain, 2)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	res := e.Continue(context.Background(), c, tools.NewRegistry(tool), 0)
	if res.Reason != ExitMaxIterations {
		t.Fatalf("unexpected result: %+v", res)
	}
	if tool.calls != 2 {
		t.Errorf("tool called %d times, want 2", tool.calls)
	}
}

func TestContinueCostExceeded(t *testing.T) {
	chain := &scriptedChain{responses: []*llm.Response{{Content: "should not run"}}}
	e, holder := newTestEngine(chain, 10)
	holder.Set(&ticket.Ticket{ID: "T1", Cost: 5.0, MaxCost: 5.0})
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	res := e.Continue(context.Background(), c, tools.NewRegistry(), 0)
	if res.Reason != ExitCostExceeded {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(chain.requests) != 0 {
		t.Error("LLM called despite spent budget")
	}
}

func TestContinueErrorSurfacesChainFailure(t *testing.T) {
	chain := &scriptedChain{err: fmt.Errorf("all LLM providers failed: boom")}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	res := e.Continue(context.Background(), c, tools.NewRegistry(), 0)
	if res.Reason != ExitError || res.Err == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestContinueCancelledContextFinalizes(t *testing.T) {
	chain := &scriptedChain{responses: []*llm.Response{{Content: "x"}}}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Continue(ctx, c, tools.NewRegistry(), 0)
	if res.Reason != ExitError {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !c.Finalized {
		t.Error("conversation not finalized on cancellation")
	}
}

func TestContinueFinalizedConversationRefused(t *testing.T) {
	chain := &scriptedChain{}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.Finalize()

	res := e.Continue(context.Background(), c, tools.NewRegistry(), 0)
	if res.Reason != ExitError {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestContinueTruncatesOversizedToolResponse(t *testing.T) {
	tool := &echoTool{name: "bigdump", response: strings.Repeat("y", tools.MaxResponseChars+500)}
	chain := &scriptedChain{responses: []*llm.Response{
		toolCallResponse("bigdump", nil),
		{Content: "done"},
	}}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	if res := e.Continue(context.Background(), c, tools.NewRegistry(tool), 0); res.Reason != ExitCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
	var toolMsg string
	for _, m := range c.Messages {
		if m.Role == convo.RoleTool {
			toolMsg = m.Content
		}
	}
	if !strings.Contains(toolMsg, "500 characters omitted") {
		t.Error("oversized tool response not truncated")
	}
}

func TestContinueXMLFallbackDispatch(t *testing.T) {
	tool := &echoTool{name: "probe", response: "via xml"}
	chain := &scriptedChain{responses: []*llm.Response{
		{Content: `<tool_call>{"name": "probe", "arguments": {"arg": "v"}}</tool_call>`},
		{Content: "done"},
	}}
	e, _ := newTestEngine(chain, 10)
	c := convo.New("c1", "system", memory.New())
	c.AddUser("go")

	if res := e.Continue(context.Background(), c, tools.NewRegistry(tool), 0); res.Reason != ExitCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if tool.calls != 1 {
		t.Errorf("fallback call not dispatched, calls=%d", tool.calls)
	}
}

func TestRequestMessagesIncludeMemories(t *testing.T) {
	chain := &scriptedChain{responses: []*llm.Response{{Content: "ok"}}}
	e, _ := newTestEngine(chain, 10)
	mem := memory.New()
	mem.Add("DECISION", "keep the wire format stable")
	c := convo.New("c1", "base system prompt", mem)
	c.AddUser("go")

	e.Continue(context.Background(), c, tools.NewRegistry(), 0)
	if len(chain.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(chain.requests))
	}
	sys := chain.requests[0].Messages[0].Content
	if !strings.Contains(sys, "base system prompt") || !strings.Contains(sys, "keep the wire format stable") {
		t.Errorf("memories not appended to system prompt: %q", sys)
	}
	// The stored history keeps the bare system prompt.
	if c.Messages[0].Content != "base system prompt" {
		t.Errorf("stored system prompt mutated: %q", c.Messages[0].Content)
	}
}
