package tools

import (
	"context"
	"fmt"
	"strings"
)

// SpawnAgentTool runs a one-shot sub-agent conversation on a delegated task
// and returns its final report. Sub-agents get the same workspace but cannot
// spawn further agents.
type SpawnAgentTool struct {
	tc *Context
}

// NewSpawnAgentTool creates the spawn_agent tool.
func NewSpawnAgentTool(tc *Context) *SpawnAgentTool {
	return &SpawnAgentTool{tc: tc}
}

// Name returns the tool name.
func (t *SpawnAgentTool) Name() string { return ToolSpawnAgent }

// Definition returns the tool definition for the LLM.
func (t *SpawnAgentTool) Definition() Definition {
	return Definition{
		Name:        ToolSpawnAgent,
		Description: "Delegate a self-contained task to a short-lived sub-agent and get its report back. Useful for research or exploration that would clutter the main conversation.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"task": {
					Type:        "string",
					Description: "Complete description of the delegated task. The sub-agent sees nothing else from this conversation.",
				},
			},
			Required: []string{"task"},
		},
	}
}

// Exec runs the sub-agent.
func (t *SpawnAgentTool) Exec(ctx context.Context, args map[string]any) (*Result, error) {
	task, err := stringArg(args, "task")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("task must not be empty")
	}
	if t.tc.RunSubagent == nil {
		return nil, fmt.Errorf("sub-agents cannot spawn further agents")
	}

	report, err := t.tc.RunSubagent(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("sub-agent failed: %w", err)
	}
	if report == "" {
		report = "(sub-agent produced no report)"
	}
	return &Result{Response: report}, nil
}
