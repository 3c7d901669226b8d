// Package tools implements the tool registry and the tool handlers the
// conversation engine dispatches LLM function calls to.
package tools

import (
	"context"
	"fmt"
)

// MaxResponseChars caps the text a single tool result may feed back into the
// conversation.
const MaxResponseChars = 160000

// Property describes one parameter in a tool's JSON schema.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Definition is the tool description sent to the LLM.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Result is what a tool handler hands back to the engine. IsFinal signals the
// engine to exit the turn loop after appending the result. Detail carries the
// raw argument a terminal tool hands to the next phase (rejection feedback,
// the developer's subtask summary), free of the response formatting.
type Result struct {
	Response  string
	IsFinal   bool
	FinalTool string
	Detail    string
}

// Tool is one callable handler with its LLM-facing definition.
type Tool interface {
	Name() string
	Definition() Definition
	Exec(ctx context.Context, args map[string]any) (*Result, error)
}

// TruncateResponse enforces MaxResponseChars, replacing the middle of an
// oversized payload with an omission marker. The marker counts against the
// cap, so the result never exceeds it and is always shorter than the input.
func TruncateResponse(s string) string {
	if len(s) <= MaxResponseChars {
		return s
	}
	// Size the marker for the worst case, then restate the omitted count for
	// the kept budget. The count can only lose digits, never gain them.
	marker := omissionMarker(len(s))
	kept := MaxResponseChars - len(marker)
	marker = omissionMarker(len(s) - kept)
	head := kept / 2
	return s[:head] + marker + s[len(s)-(kept-head):]
}

func omissionMarker(omitted int) string {
	return fmt.Sprintf("\n... [%d characters omitted] ...\n", omitted)
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// optStringArg extracts an optional string argument, returning "" when absent.
func optStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArgOrDefault extracts an integer argument, tolerating the float64 values
// JSON unmarshalling produces.
func intArgOrDefault(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return defaultVal
	}
}

// boolArg extracts an optional boolean argument.
func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
