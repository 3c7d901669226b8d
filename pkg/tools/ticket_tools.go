package tools

import (
	"context"
	"fmt"

	"agentd/pkg/ticket"
)

// Ticket tools forward to the control-plane API and refresh the shared
// ticket holder from the server's response, so no local mutation can drift
// from the server state.

// AddTaskTool appends a task to the ticket's plan.
type AddTaskTool struct {
	tc *Context
}

// NewAddTaskTool creates the add_task tool.
func NewAddTaskTool(tc *Context) *AddTaskTool {
	return &AddTaskTool{tc: tc}
}

// Name returns the tool name.
func (t *AddTaskTool) Name() string { return ToolAddTask }

// Definition returns the tool definition for the LLM.
func (t *AddTaskTool) Definition() Definition {
	return Definition{
		Name:        ToolAddTask,
		Description: "Add a task to the ticket's plan. Tasks group related subtasks.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"name": {
					Type:        "string",
					Description: "Short task name.",
				},
				"description": {
					Type:        "string",
					Description: "What the task covers.",
				},
			},
			Required: []string{"name"},
		},
	}
}

// Exec adds the task.
func (t *AddTaskTool) Exec(ctx context.Context, args map[string]any) (*Result, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	updated, err := t.tc.API.AddTask(ctx, t.tc.TicketID, ticket.Task{
		Name:        name,
		Description: optStringArg(args, "description"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add task: %w", err)
	}
	t.tc.Holder.Set(updated)
	return &Result{Response: fmt.Sprintf("Added task %q. The plan now has %d tasks.", name, len(updated.Tasks))}, nil
}

// AddSubtaskTool appends a subtask to an existing task.
type AddSubtaskTool struct {
	tc *Context
}

// NewAddSubtaskTool creates the add_subtask tool.
func NewAddSubtaskTool(tc *Context) *AddSubtaskTool {
	return &AddSubtaskTool{tc: tc}
}

// Name returns the tool name.
func (t *AddSubtaskTool) Name() string { return ToolAddSubtask }

// Definition returns the tool definition for the LLM.
func (t *AddSubtaskTool) Definition() Definition {
	return Definition{
		Name:        ToolAddSubtask,
		Description: "Add a subtask to an existing task. Subtasks are the units of work the developer phase executes one at a time.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"taskId": {
					Type:        "string",
					Description: "ID of the task to add the subtask to.",
				},
				"name": {
					Type:        "string",
					Description: "Short subtask name.",
				},
				"description": {
					Type:        "string",
					Description: "What the subtask should accomplish, specific enough to implement without the planning context.",
				},
			},
			Required: []string{"taskId", "name"},
		},
	}
}

// Exec adds the subtask.
func (t *AddSubtaskTool) Exec(ctx context.Context, args map[string]any) (*Result, error) {
	taskID, err := stringArg(args, "taskId")
	if err != nil {
		return nil, err
	}
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	updated, err := t.tc.API.AddSubtask(ctx, t.tc.TicketID, taskID, ticket.Subtask{
		Name:        name,
		Description: optStringArg(args, "description"),
		Status:      ticket.SubtaskIncomplete,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add subtask: %w", err)
	}
	t.tc.Holder.Set(updated)
	return &Result{Response: fmt.Sprintf("Added subtask %q to task %s.", name, taskID)}, nil
}

// UpdateSubtaskTool changes a subtask's status.
type UpdateSubtaskTool struct {
	tc *Context
}

// NewUpdateSubtaskTool creates the update_subtask tool.
func NewUpdateSubtaskTool(tc *Context) *UpdateSubtaskTool {
	return &UpdateSubtaskTool{tc: tc}
}

// Name returns the tool name.
func (t *UpdateSubtaskTool) Name() string { return ToolUpdateSubtask }

// Definition returns the tool definition for the LLM.
func (t *UpdateSubtaskTool) Definition() Definition {
	return Definition{
		Name:        ToolUpdateSubtask,
		Description: "Update the status of a subtask.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"taskId": {
					Type:        "string",
					Description: "ID of the task containing the subtask.",
				},
				"subtaskId": {
					Type:        "string",
					Description: "ID of the subtask to update.",
				},
				"status": {
					Type:        "string",
					Description: "New status.",
					Enum: []string{
						string(ticket.SubtaskIncomplete),
						string(ticket.SubtaskInProgress),
						string(ticket.SubtaskAwaitingReview),
						string(ticket.SubtaskComplete),
						string(ticket.SubtaskRejected),
					},
				},
			},
			Required: []string{"taskId", "subtaskId", "status"},
		},
	}
}

// Exec updates the subtask.
func (t *UpdateSubtaskTool) Exec(ctx context.Context, args map[string]any) (*Result, error) {
	taskID, err := stringArg(args, "taskId")
	if err != nil {
		return nil, err
	}
	subtaskID, err := stringArg(args, "subtaskId")
	if err != nil {
		return nil, err
	}
	statusStr, err := stringArg(args, "status")
	if err != nil {
		return nil, err
	}
	status := ticket.SubtaskStatus(statusStr)
	switch status {
	case ticket.SubtaskIncomplete, ticket.SubtaskInProgress, ticket.SubtaskAwaitingReview,
		ticket.SubtaskComplete, ticket.SubtaskRejected:
	default:
		return nil, fmt.Errorf("invalid status %q", statusStr)
	}

	updated, err := t.tc.API.UpdateSubtaskStatus(ctx, t.tc.TicketID, taskID, subtaskID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update subtask: %w", err)
	}
	t.tc.Holder.Set(updated)
	return &Result{Response: fmt.Sprintf("Subtask %s is now %s.", subtaskID, status)}, nil
}

// DeleteAllTasksTool wipes the plan so planning can start over.
type DeleteAllTasksTool struct {
	tc *Context
}

// NewDeleteAllTasksTool creates the delete_all_tasks tool.
func NewDeleteAllTasksTool(tc *Context) *DeleteAllTasksTool {
	return &DeleteAllTasksTool{tc: tc}
}

// Name returns the tool name.
func (t *DeleteAllTasksTool) Name() string { return ToolDeleteAllTasks }

// Definition returns the tool definition for the LLM.
func (t *DeleteAllTasksTool) Definition() Definition {
	return Definition{
		Name:        ToolDeleteAllTasks,
		Description: "Delete every task and subtask from the ticket so planning can restart from scratch.",
		InputSchema: InputSchema{Type: "object"},
	}
}

// Exec deletes the plan.
func (t *DeleteAllTasksTool) Exec(ctx context.Context, _ map[string]any) (*Result, error) {
	updated, err := t.tc.API.DeleteAllTasks(ctx, t.tc.TicketID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete tasks: %w", err)
	}
	t.tc.Holder.Set(updated)
	return &Result{Response: "All tasks deleted."}, nil
}
