package tools

import (
	"context"
	"fmt"
	"strings"

	"agentd/pkg/memory"
)

// AddMemoryTool records a labelled note that survives context compaction and
// conversation resets.
type AddMemoryTool struct {
	tc *Context
}

// NewAddMemoryTool creates the add_memory tool.
func NewAddMemoryTool(tc *Context) *AddMemoryTool {
	return &AddMemoryTool{tc: tc}
}

// Name returns the tool name.
func (t *AddMemoryTool) Name() string { return ToolAddMemory }

// Definition returns the tool definition for the LLM.
func (t *AddMemoryTool) Definition() Definition {
	return Definition{
		Name:        ToolAddMemory,
		Description: "Record a labelled memory that survives context compaction. Use labels like INVARIANT, DECISION or CONSTRAINT to group related notes.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"label": {
					Type:        "string",
					Description: "Grouping label, e.g. INVARIANT or DECISION.",
				},
				"text": {
					Type:        "string",
					Description: "The note to remember.",
				},
			},
			Required: []string{"label", "text"},
		},
	}
}

// Exec adds the memory.
func (t *AddMemoryTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	label, err := stringArg(args, "label")
	if err != nil {
		return nil, err
	}
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	if t.tc.Memories.Add(label, text) {
		return &Result{Response: "Memory recorded."}, nil
	}
	return &Result{Response: "Memory already present, nothing added."}, nil
}

// RemoveMemoryTool deletes a memory by label and text prefix.
type RemoveMemoryTool struct {
	tc *Context
}

// NewRemoveMemoryTool creates the remove_memory tool.
func NewRemoveMemoryTool(tc *Context) *RemoveMemoryTool {
	return &RemoveMemoryTool{tc: tc}
}

// Name returns the tool name.
func (t *RemoveMemoryTool) Name() string { return ToolRemoveMemory }

// Definition returns the tool definition for the LLM.
func (t *RemoveMemoryTool) Definition() Definition {
	return Definition{
		Name:        ToolRemoveMemory,
		Description: "Remove a previously recorded memory. Matches by label plus the start of the memory's text; the search text must be at least 8 characters.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"label": {
					Type:        "string",
					Description: "Label of the memory to remove.",
				},
				"text": {
					Type:        "string",
					Description: "Start of the memory text, at least 8 characters.",
				},
			},
			Required: []string{"label", "text"},
		},
	}
}

// Exec removes the memory.
func (t *RemoveMemoryTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	label, err := stringArg(args, "label")
	if err != nil {
		return nil, err
	}
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(text)) < memory.DefaultMinRemoveLength {
		return nil, fmt.Errorf("search text must be at least %d characters", memory.DefaultMinRemoveLength)
	}
	if !t.tc.Memories.Remove(label, text) {
		return &Result{Response: fmt.Sprintf("No memory under %q starts with that text.", label)}, nil
	}
	return &Result{Response: "Memory removed."}, nil
}
