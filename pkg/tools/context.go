package tools

import (
	"context"

	"agentd/pkg/api"
	"agentd/pkg/config"
	"agentd/pkg/logx"
	"agentd/pkg/memory"
	"agentd/pkg/ticket"
)

// SubagentRunner runs a one-shot sub-agent conversation and returns its final
// report. Injected by the engine so the tools package does not depend on it.
type SubagentRunner func(ctx context.Context, task string) (string, error)

// Context carries the per-conversation state tool handlers operate on. One
// Context is built per active-work scope and shared by all tools of that
// conversation.
type Context struct {
	WorkDir  string
	TicketID string

	API      *api.Client
	Holder   *ticket.Holder
	Memories *memory.Memories

	// SubtaskID is set during developer conversations so ticket tools can
	// attribute changes; empty during planning.
	SubtaskID string

	Web config.WebSearchConfig

	// Session is the shared persistent shell, created lazily by the
	// persistent_shell tool.
	Session *ShellSession

	// RunSubagent is nil when sub-agent spawning is not available (inside a
	// sub-agent itself).
	RunSubagent SubagentRunner

	Logger *logx.Logger
}
