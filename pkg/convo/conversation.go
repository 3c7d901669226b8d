// Package convo defines conversation state shared between the orchestrator,
// the conversation engine and the hub snapshot publisher.
package convo

import (
	"agentd/pkg/memory"
)

// Role tags a message turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function call emitted by the assistant, either natively or
// recovered by the XML fallback parser.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is a single role-tagged turn.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`  // assistant only
	ToolCallID string     `json:"toolCallId,omitempty"` // tool only
}

// Conversation is a single LLM dialogue. The planning conversation lives for
// the whole ticket; developer and QA conversations are per-subtask and are
// discarded after memory hoisting. A conversation is only ever touched from
// the engine's turn loop.
type Conversation struct {
	ID           string
	SystemPrompt string
	Messages     []Message
	Memories     *memory.Memories
	Finalized    bool

	// Iterations counts engine turns since the conversation was created or
	// last reset; the engine exits with max_iterations_reached when it hits
	// the configured cap.
	Iterations int
}

// New creates a conversation seeded with the system prompt as message zero.
func New(id, systemPrompt string, mem *memory.Memories) *Conversation {
	if mem == nil {
		mem = memory.New()
	}
	return &Conversation{
		ID:           id,
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: RoleSystem, Content: systemPrompt}},
		Memories:     mem,
	}
}

// AddUser appends a user message.
func (c *Conversation) AddUser(content string) {
	c.Messages = append(c.Messages, Message{Role: RoleUser, Content: content})
}

// AddAssistant appends an assistant message with optional tool calls.
func (c *Conversation) AddAssistant(content string, calls []ToolCall) {
	c.Messages = append(c.Messages, Message{Role: RoleAssistant, Content: content, ToolCalls: calls})
}

// AddToolResult appends a tool-role message bound to the originating call id.
func (c *Conversation) AddToolResult(callID, content string) {
	c.Messages = append(c.Messages, Message{Role: RoleTool, Content: content, ToolCallID: callID})
}

// Finalize marks the conversation closed. Further turns are a programming
// error; the engine refuses to continue a finalized conversation.
func (c *Conversation) Finalize() {
	c.Finalized = true
}

// Clear truncates history back to the system prompt plus the first user
// message if one exists. Memories are preserved.
func (c *Conversation) Clear() {
	kept := []Message{{Role: RoleSystem, Content: c.SystemPrompt}}
	for _, m := range c.Messages[1:] {
		if m.Role == RoleUser {
			kept = append(kept, m)
			break
		}
	}
	c.Messages = kept
	c.Iterations = 0
}

// ByteSize returns the total content byte count across all messages, the
// measure the compaction threshold is applied to.
func (c *Conversation) ByteSize() int {
	n := 0
	for i := range c.Messages {
		n += len(c.Messages[i].Content)
	}
	return n
}

// Snapshot is the immutable view published to the hub after each turn.
type Snapshot struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Finalized bool      `json:"finalized"`
}

// Snapshot builds a deep-enough copy for publication: the message slice is
// copied so later appends do not race with the hub send.
func (c *Conversation) Snapshot() Snapshot {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return Snapshot{ID: c.ID, Messages: msgs, Finalized: c.Finalized}
}
