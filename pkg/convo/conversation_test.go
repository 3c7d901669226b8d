package convo

import (
	"testing"

	"agentd/pkg/memory"
)

func TestNewSeedsSystemMessage(t *testing.T) {
	c := New("plan", "you are a planner", nil)
	if len(c.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(c.Messages))
	}
	if c.Messages[0].Role != RoleSystem {
		t.Errorf("messages[0].role = %s, want system", c.Messages[0].Role)
	}
	if c.Memories == nil {
		t.Error("nil memories should be replaced with an empty store")
	}
}

func TestToolCallPairing(t *testing.T) {
	c := New("dev-1", "sys", memory.New())
	c.AddUser("do the thing")
	c.AddAssistant("", []ToolCall{{ID: "call_1", Name: "shell", Arguments: map[string]any{"command": "ls"}}})
	c.AddToolResult("call_1", "file.txt")

	// Every assistant tool_call must have a matching subsequent tool message.
	for i, m := range c.Messages {
		for _, tc := range m.ToolCalls {
			found := false
			for _, later := range c.Messages[i+1:] {
				if later.Role == RoleTool && later.ToolCallID == tc.ID {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("tool call %s has no matching tool message", tc.ID)
			}
		}
	}
}

func TestClearKeepsSystemAndFirstUser(t *testing.T) {
	mem := memory.New()
	mem.Add("NOTE", "memories survive conversation clears")

	c := New("plan", "sys", mem)
	c.AddUser("initial prompt")
	c.AddAssistant("working on it", nil)
	c.AddUser("second message")
	c.Iterations = 12

	c.Clear()

	if len(c.Messages) != 2 {
		t.Fatalf("expected 2 messages after clear, got %d", len(c.Messages))
	}
	if c.Messages[0].Role != RoleSystem || c.Messages[1].Content != "initial prompt" {
		t.Errorf("clear kept wrong messages: %+v", c.Messages)
	}
	if c.Iterations != 0 {
		t.Error("clear must reset iteration count")
	}
	if c.Memories.Len() != 1 {
		t.Error("clear must preserve memories")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	c := New("plan", "sys", nil)
	c.AddUser("hello")

	snap := c.Snapshot()
	c.AddAssistant("reply", nil)

	if len(snap.Messages) != 2 {
		t.Errorf("snapshot must not grow with the conversation: %d", len(snap.Messages))
	}
}

func TestByteSize(t *testing.T) {
	c := New("x", "abcd", nil)
	c.AddUser("ef")
	if got := c.ByteSize(); got != 6 {
		t.Errorf("ByteSize = %d, want 6", got)
	}
}
