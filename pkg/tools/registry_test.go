package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentd/pkg/api"
	"agentd/pkg/config"
	"agentd/pkg/memory"
	"agentd/pkg/ticket"
)

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func TestRoleRegistries(t *testing.T) {
	tc := &Context{
		WorkDir:     t.TempDir(),
		Memories:    memory.New(),
		RunSubagent: func(context.Context, string) (string, error) { return "", nil },
	}

	planning := PlanningRegistry(tc).Names()
	for _, want := range []string{ToolShell, ToolAddTask, ToolAddSubtask, ToolDeleteAllTasks, ToolSpawnAgent, ToolPlanningComplete} {
		if !contains(planning, want) {
			t.Errorf("planning registry missing %s", want)
		}
	}
	if contains(planning, ToolEndSubtask) || contains(planning, ToolApproveSubtask) {
		t.Error("planning registry has foreign terminal tools")
	}
	// Web search only appears when configured.
	if contains(planning, ToolWebSearch) {
		t.Error("web search present without configuration")
	}

	tc.Web = config.WebSearchConfig{Endpoint: "https://search.example.com"}
	if !contains(PlanningRegistry(tc).Names(), ToolWebSearch) {
		t.Error("web search missing when configured")
	}

	dev := DeveloperRegistry(tc).Names()
	if !contains(dev, ToolEndSubtask) || contains(dev, ToolPlanningComplete) || contains(dev, ToolAddTask) {
		t.Errorf("unexpected developer tool set: %v", dev)
	}

	qa := QARegistry(tc).Names()
	if !contains(qa, ToolApproveSubtask) || !contains(qa, ToolRejectSubtask) {
		t.Errorf("QA registry missing terminal tools: %v", qa)
	}
	if contains(qa, ToolSpawnAgent) || contains(qa, ToolWebSearch) {
		t.Errorf("QA registry too broad: %v", qa)
	}

	sub := SubagentRegistry(tc).Names()
	if contains(sub, ToolSpawnAgent) {
		t.Error("sub-agents must not spawn further agents")
	}
	if contains(sub, ToolAddTask) || contains(sub, ToolEndSubtask) {
		t.Errorf("sub-agent registry too broad: %v", sub)
	}
}

func TestRegistrySchemaLookup(t *testing.T) {
	tc := &Context{WorkDir: t.TempDir(), Memories: memory.New()}
	reg := DeveloperRegistry(tc)

	schema, ok := reg.Schema(ToolReadFile)
	if !ok {
		t.Fatal("read_file schema missing")
	}
	if _, ok := schema.Properties["path"]; !ok {
		t.Error("read_file schema has no path property")
	}
	if _, ok := reg.Schema("no_such_tool"); ok {
		t.Error("unknown tool returned a schema")
	}
}

func TestTruncateResponse(t *testing.T) {
	short := "short response"
	if got := TruncateResponse(short); got != short {
		t.Errorf("short response modified: %q", got)
	}

	long := strings.Repeat("x", MaxResponseChars+1000)
	got := TruncateResponse(long)
	if !strings.Contains(got, "characters omitted") {
		t.Errorf("omission marker missing: %q", got[MaxResponseChars/2-50:MaxResponseChars/2+100])
	}
	if len(got) > MaxResponseChars {
		t.Errorf("truncated response exceeds the cap: %d", len(got))
	}
	if !strings.HasPrefix(got, "xxxx") || !strings.HasSuffix(got, "xxxx") {
		t.Error("head or tail of the payload lost")
	}
}

func TestTruncateResponseJustOverCapShrinks(t *testing.T) {
	in := strings.Repeat("y", MaxResponseChars+1)
	got := TruncateResponse(in)
	if len(got) >= len(in) {
		t.Fatalf("truncation grew the payload: in=%d out=%d", len(in), len(got))
	}
	if len(got) > MaxResponseChars {
		t.Errorf("truncated response exceeds the cap: %d", len(got))
	}
	if !strings.Contains(got, "characters omitted") {
		t.Error("omission marker missing")
	}
}

func TestTicketToolsUpdateHolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/tasks") && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(ticket.Ticket{
				ID:    "T1",
				Tasks: []ticket.Task{{ID: "1", Name: "Build"}},
			})
		case strings.HasSuffix(r.URL.Path, "/tasks") && r.Method == http.MethodDelete:
			json.NewEncoder(w).Encode(ticket.Ticket{ID: "T1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	holder := ticket.NewHolder(&ticket.Ticket{ID: "T1"})
	tc := &Context{
		WorkDir:  t.TempDir(),
		TicketID: "T1",
		API:      api.NewClient(srv.URL),
		Holder:   holder,
	}

	if _, err := NewAddTaskTool(tc).Exec(context.Background(), map[string]any{"name": "Build"}); err != nil {
		t.Fatalf("add_task failed: %v", err)
	}
	if got := holder.Get(); len(got.Tasks) != 1 || got.Tasks[0].Name != "Build" {
		t.Errorf("holder not refreshed after add_task: %+v", got)
	}

	if _, err := NewDeleteAllTasksTool(tc).Exec(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("delete_all_tasks failed: %v", err)
	}
	if got := holder.Get(); len(got.Tasks) != 0 {
		t.Errorf("holder not refreshed after delete_all_tasks: %+v", got)
	}
}

func TestTerminalToolsAreFinal(t *testing.T) {
	cases := []struct {
		tool Tool
		args map[string]any
	}{
		{NewPlanningCompleteTool(), map[string]any{}},
		{NewEndSubtaskTool(), map[string]any{"summary": "done"}},
		{NewApproveSubtaskTool(), map[string]any{}},
		{NewRejectSubtaskTool(), map[string]any{"feedback": "missing tests"}},
	}
	for _, c := range cases {
		res, err := c.tool.Exec(context.Background(), c.args)
		if err != nil {
			t.Fatalf("%s failed: %v", c.tool.Name(), err)
		}
		if !res.IsFinal || res.FinalTool != c.tool.Name() {
			t.Errorf("%s did not mark itself final: %+v", c.tool.Name(), res)
		}
	}

	res, _ := NewRejectSubtaskTool().Exec(context.Background(), map[string]any{"feedback": "missing tests"})
	if !strings.Contains(res.Response, "missing tests") {
		t.Errorf("rejection feedback not carried: %q", res.Response)
	}
	if res.Detail != "missing tests" {
		t.Errorf("raw feedback not carried in Detail: %q", res.Detail)
	}

	ended, _ := NewEndSubtaskTool().Exec(context.Background(), map[string]any{"summary": "wired it up"})
	if ended.Detail != "wired it up" {
		t.Errorf("raw summary not carried in Detail: %q", ended.Detail)
	}
}

func TestMemoryTools(t *testing.T) {
	tc := &Context{Memories: memory.New()}

	add := NewAddMemoryTool(tc)
	if _, err := add.Exec(context.Background(), map[string]any{"label": "DECISION", "text": "use sqlite for the event log"}); err != nil {
		t.Fatalf("add_memory failed: %v", err)
	}
	res, err := add.Exec(context.Background(), map[string]any{"label": "DECISION", "text": "use sqlite for the event log"})
	if err != nil {
		t.Fatalf("duplicate add_memory failed: %v", err)
	}
	if !strings.Contains(res.Response, "already present") {
		t.Errorf("duplicate not reported: %q", res.Response)
	}

	remove := NewRemoveMemoryTool(tc)
	if _, err := remove.Exec(context.Background(), map[string]any{"label": "DECISION", "text": "use"}); err == nil {
		t.Error("expected error for too-short removal search")
	}
	if _, err := remove.Exec(context.Background(), map[string]any{"label": "DECISION", "text": "use sqlite"}); err != nil {
		t.Fatalf("remove_memory failed: %v", err)
	}
	if tc.Memories.Len() != 0 {
		t.Errorf("memory not removed, %d left", tc.Memories.Len())
	}
}
