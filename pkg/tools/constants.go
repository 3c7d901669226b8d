package tools

// Tool name constants - use these instead of magic strings to prevent typos.
const (
	// Shell tools.
	ToolShell           = "shell"
	ToolPersistentShell = "persistent_shell"

	// File tools.
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolEditFile  = "edit_file"
	ToolListFiles = "list_files"

	// Search tools.
	ToolGlob = "glob"
	ToolGrep = "grep"

	// Web tools.
	ToolWebSearch = "web_search"

	// Ticket tools.
	ToolAddTask        = "add_task"
	ToolAddSubtask     = "add_subtask"
	ToolUpdateSubtask  = "update_subtask"
	ToolDeleteAllTasks = "delete_all_tasks"

	// Memory tools.
	ToolAddMemory    = "add_memory"
	ToolRemoveMemory = "remove_memory"

	// Sub-agent tool.
	ToolSpawnAgent = "spawn_agent"

	// Terminal tools - their handlers return is-final and end the turn loop.
	ToolPlanningComplete = "planning_complete"
	ToolEndSubtask       = "end_subtask"
	ToolApproveSubtask   = "approve_subtask"
	ToolRejectSubtask    = "reject_subtask"
)
