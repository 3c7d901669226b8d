package tools

import (
	"context"
)

// Terminal tools end the engine's turn loop by returning IsFinal. The
// orchestrator inspects the final tool name to decide the next phase.

// finalTool is the shared shape of the four terminal tools.
type finalTool struct {
	name        string
	description string
	schema      InputSchema
	respond     func(args map[string]any) string
	detail      func(args map[string]any) string
}

// Name returns the tool name.
func (t *finalTool) Name() string { return t.name }

// Definition returns the tool definition for the LLM.
func (t *finalTool) Definition() Definition {
	return Definition{Name: t.name, Description: t.description, InputSchema: t.schema}
}

// Exec ends the turn loop.
func (t *finalTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	res := &Result{
		Response:  t.respond(args),
		IsFinal:   true,
		FinalTool: t.name,
	}
	if t.detail != nil {
		res.Detail = t.detail(args)
	}
	return res, nil
}

// NewPlanningCompleteTool creates the terminal tool the planner calls once the
// plan is in place. The orchestrator re-validates the plan before accepting it.
func NewPlanningCompleteTool() Tool {
	return &finalTool{
		name:        ToolPlanningComplete,
		description: "Declare the plan finished. Call this only after every task and subtask has been added with add_task and add_subtask.",
		schema:      InputSchema{Type: "object"},
		respond: func(map[string]any) string {
			return "Planning marked complete."
		},
	}
}

// NewEndSubtaskTool creates the terminal tool the developer calls when the
// current subtask's work is done and ready for review.
func NewEndSubtaskTool() Tool {
	return &finalTool{
		name:        ToolEndSubtask,
		description: "Declare the current subtask implemented and ready for review. Summarize what was done.",
		schema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"summary": {
					Type:        "string",
					Description: "What was implemented and how it was verified.",
				},
			},
		},
		respond: func(args map[string]any) string {
			if s := optStringArg(args, "summary"); s != "" {
				return "Subtask ended: " + s
			}
			return "Subtask ended."
		},
		detail: func(args map[string]any) string {
			return optStringArg(args, "summary")
		},
	}
}

// NewApproveSubtaskTool creates the QA terminal tool that accepts the work.
func NewApproveSubtaskTool() Tool {
	return &finalTool{
		name:        ToolApproveSubtask,
		description: "Approve the subtask under review.",
		schema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"notes": {
					Type:        "string",
					Description: "Optional review notes.",
				},
			},
		},
		respond: func(args map[string]any) string {
			if s := optStringArg(args, "notes"); s != "" {
				return "Approved: " + s
			}
			return "Approved."
		},
	}
}

// NewRejectSubtaskTool creates the QA terminal tool that sends the work back.
// The feedback is replayed to the developer conversation verbatim.
func NewRejectSubtaskTool() Tool {
	return &finalTool{
		name:        ToolRejectSubtask,
		description: "Reject the subtask under review. Give concrete, actionable feedback on what must change.",
		schema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"feedback": {
					Type:        "string",
					Description: "What is wrong and what to do about it.",
				},
			},
			Required: []string{"feedback"},
		},
		respond: func(args map[string]any) string {
			return "Rejected: " + optStringArg(args, "feedback")
		},
		detail: func(args map[string]any) string {
			return optStringArg(args, "feedback")
		},
	}
}
