package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"agentd/pkg/convo"
	"agentd/pkg/tools"
)

// Some models ignore the function-calling API and emit tool intents as inline
// <tool_call> or <function_call> tags instead. The fallback parser recovers
// those, but strictly: unknown tool names and argument keys outside the tool's
// schema are rejected so a hallucinated call can never reach a handler.

// xmlCallIDPrefix prefixes synthesized IDs for fallback-parsed calls.
const xmlCallIDPrefix = "xmltc_"

// One pattern per tag name so an open tag only pairs with its own close tag;
// a mismatched pair like <tool_call>...</function_call> reads as plain text.
//
//nolint:gochecknoglobals // compiled once
var toolCallTagRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<tool_call>(.*?)</tool_call>`),
	regexp.MustCompile(`(?is)<function_call>(.*?)</function_call>`),
}

type xmlCallPayload struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Parameters map[string]any `json:"parameters"`
}

// parseXMLToolCalls scans content for inline tool-call tags. It returns nil
// when the content has no tags at all, and an error when tags are present but
// none survive validation against the registry.
func parseXMLToolCalls(content string, registry *tools.Registry) ([]convo.ToolCall, error) {
	bodies := findToolCallTags(content)
	if len(bodies) == 0 {
		return nil, nil
	}

	var calls []convo.ToolCall
	var firstErr error
	for _, body := range bodies {
		call, err := parseOneXMLCall(body, registry)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		call.ID = fmt.Sprintf("%s%d", xmlCallIDPrefix, len(calls)+1)
		calls = append(calls, *call)
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("tool-call tags present but none were valid: %w", firstErr)
	}
	return calls, nil
}

// findToolCallTags collects tag bodies in document order across both tag
// names.
func findToolCallTags(content string) []string {
	type match struct {
		pos  int
		body string
	}
	var found []match
	for _, re := range toolCallTagRes {
		for _, idx := range re.FindAllStringSubmatchIndex(content, -1) {
			found = append(found, match{pos: idx[0], body: content[idx[2]:idx[3]]})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].pos < found[j].pos })
	bodies := make([]string, len(found))
	for i, m := range found {
		bodies[i] = m.body
	}
	return bodies
}

func parseOneXMLCall(body string, registry *tools.Registry) (*convo.ToolCall, error) {
	var payload xmlCallPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("tool-call tag does not contain valid JSON: %w", err)
	}
	if payload.Name == "" {
		return nil, fmt.Errorf("tool-call tag has no name")
	}

	schema, known := registry.Schema(payload.Name)
	if !known {
		return nil, fmt.Errorf("unknown tool %q", payload.Name)
	}

	args := payload.Arguments
	if args == nil {
		args = payload.Parameters
	}
	for key := range args {
		if _, ok := schema.Properties[key]; !ok {
			return nil, fmt.Errorf("tool %q does not accept argument %q", payload.Name, key)
		}
	}
	return &convo.ToolCall{Name: payload.Name, Arguments: args}, nil
}
