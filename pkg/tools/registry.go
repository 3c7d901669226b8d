package tools

import (
	"fmt"
)

// Registry is the per-conversation tool set. It is built once at
// conversation-construction time and read-only afterwards.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry builds a registry from the given tools. Duplicate names panic:
// that is a programming error in a role's tool list, not a runtime condition.
func NewRegistry(list ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(list))}
	for _, t := range list {
		name := t.Name()
		if _, dup := r.tools[name]; dup {
			panic(fmt.Sprintf("duplicate tool registration: %s", name))
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool definitions in registration order, ready to be
// sent with an LLM request.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Schema returns the input schema of a registered tool. The second return is
// false for unknown tools.
func (r *Registry) Schema(name string) (InputSchema, bool) {
	t, ok := r.tools[name]
	if !ok {
		return InputSchema{}, false
	}
	return t.Definition().InputSchema, true
}

// workTools is the exploration and editing set shared by every role.
func workTools(tc *Context) []Tool {
	return []Tool{
		NewShellTool(tc),
		NewPersistentShellTool(tc),
		NewReadFileTool(tc),
		NewWriteFileTool(tc),
		NewEditFileTool(tc),
		NewListFilesTool(tc),
		NewGlobTool(tc),
		NewGrepTool(tc),
	}
}

func maybeWeb(tc *Context, list []Tool) []Tool {
	if tc.Web.Enabled() {
		list = append(list, NewWebSearchTool(tc))
	}
	return list
}

// PlanningRegistry builds the tool set for the planning conversation.
func PlanningRegistry(tc *Context) *Registry {
	list := workTools(tc)
	list = maybeWeb(tc, list)
	list = append(list,
		NewAddTaskTool(tc),
		NewAddSubtaskTool(tc),
		NewUpdateSubtaskTool(tc),
		NewDeleteAllTasksTool(tc),
		NewAddMemoryTool(tc),
		NewRemoveMemoryTool(tc),
		NewSpawnAgentTool(tc),
		NewPlanningCompleteTool(),
	)
	return NewRegistry(list...)
}

// DeveloperRegistry builds the tool set for developer conversations.
func DeveloperRegistry(tc *Context) *Registry {
	list := workTools(tc)
	list = maybeWeb(tc, list)
	list = append(list,
		NewAddMemoryTool(tc),
		NewRemoveMemoryTool(tc),
		NewSpawnAgentTool(tc),
		NewEndSubtaskTool(),
	)
	return NewRegistry(list...)
}

// QARegistry builds the tool set for review conversations. Writes are
// technically possible but the prompt discourages them.
func QARegistry(tc *Context) *Registry {
	list := workTools(tc)
	list = append(list,
		NewAddMemoryTool(tc),
		NewRemoveMemoryTool(tc),
		NewApproveSubtaskTool(),
		NewRejectSubtaskTool(),
	)
	return NewRegistry(list...)
}

// SubagentRegistry builds the tool set for spawned sub-agents: the work tools
// only, with no further delegation and no ticket mutation.
func SubagentRegistry(tc *Context) *Registry {
	list := workTools(tc)
	list = maybeWeb(tc, list)
	return NewRegistry(list...)
}
