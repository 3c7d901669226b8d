package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentd/pkg/config"
	"agentd/pkg/convo"
	"agentd/pkg/tools"
)

// DefaultEndpoint is used when a provider config leaves the endpoint empty.
const DefaultEndpoint = "https://api.openai.com/v1"

const clientRequestTimeout = 5 * time.Minute

// ToolChoice controls how hard the request pushes the model toward calling a
// tool. Providers that reject "required" get downgraded adaptively.
type ToolChoice int8

const (
	ToolChoiceRequired ToolChoice = iota
	ToolChoiceAuto
	ToolChoiceOmit
)

// Downgrade relaxes the tool choice one step: Required -> Auto -> Omit.
func (tc ToolChoice) Downgrade() ToolChoice {
	switch tc {
	case ToolChoiceRequired:
		return ToolChoiceAuto
	default:
		return ToolChoiceOmit
	}
}

func (tc ToolChoice) wireValue() (string, bool) {
	switch tc {
	case ToolChoiceRequired:
		return "required", true
	case ToolChoiceAuto:
		return "auto", true
	default:
		return "", false
	}
}

// Request is one chat-completion call.
type Request struct {
	Messages   []convo.Message
	Tools      []tools.Definition
	ToolChoice ToolChoice
	MaxTokens  int
}

// Usage is the token accounting returned by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is the parsed assistant turn.
type Response struct {
	Content   string
	ToolCalls []convo.ToolCall
	Usage     Usage
}

// Client speaks the OpenAI-compatible chat-completion protocol to a single
// configured provider.
type Client struct {
	cfg  config.LLMConfig
	http *http.Client
}

// NewClient creates a client for one provider config.
func NewClient(cfg config.LLMConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: clientRequestTimeout},
	}
}

// NewClientWithHTTP creates a client with a caller-supplied http.Client for
// tests.
func NewClientWithHTTP(cfg config.LLMConfig, httpClient *http.Client) *Client {
	return &Client{cfg: cfg, http: httpClient}
}

// Config returns the provider configuration this client was built from.
func (c *Client) Config() config.LLMConfig { return c.cfg }

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) endpoint() string {
	ep := c.cfg.Endpoint
	if ep == "" {
		ep = DefaultEndpoint
	}
	return strings.TrimRight(ep, "/") + "/chat/completions"
}

// wire types for the OpenAI chat completion protocol.

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Parameters  tools.InputSchema `json:"parameters"`
	} `json:"function"`
}

// Complete executes one chat-completion call. Errors are always classified
// *Error values or context errors.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	body := map[string]any{
		"model":    c.cfg.Model,
		"messages": encodeMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		body["tools"] = encodeTools(req.Tools)
		if choice, ok := req.ToolChoice.wireValue(); ok {
			body["tool_choice"] = choice
		}
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if c.cfg.Temperature > 0 {
		body["temperature"] = c.cfg.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Type: ErrorTypeBadRequest, Err: err, Message: "failed to marshal request"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Type: ErrorTypeBadRequest, Err: err, Message: "failed to create request"}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Type: ErrorTypeTransient, Err: err, Message: "transport failure"}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Type: ErrorTypeTransient, Err: err, Message: "failed to read response body"}
	}

	if apiErr := classifyHTTP(resp, data); apiErr != nil {
		return nil, apiErr
	}

	return parseCompletion(data)
}

func encodeMessages(messages []convo.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for i := range messages {
		m := &messages[i]
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func encodeTools(defs []tools.Definition) []wireTool {
	out := make([]wireTool, len(defs))
	for i, def := range defs {
		out[i].Type = "function"
		out[i].Function.Name = def.Name
		out[i].Function.Description = def.Description
		out[i].Function.Parameters = def.InputSchema
	}
	return out
}

// classifyHTTP maps a non-2xx response to a classified error, or returns nil
// for success responses.
func classifyHTTP(resp *http.Response, body []byte) *Error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}

	bodyStr := string(body)

	if isRateLimited(status, resp.Header, bodyStr) {
		return &Error{
			Type:       ErrorTypeRateLimit,
			StatusCode: status,
			Message:    trimForError(bodyStr),
			RetryAfter: parseRetryDelay(resp.Header, bodyStr),
		}
	}

	switch {
	case status == http.StatusBadRequest && strings.Contains(bodyStr, "tool_choice"):
		return &Error{Type: ErrorTypeToolChoice, StatusCode: status, Message: trimForError(bodyStr)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Type: ErrorTypeAuth, StatusCode: status, Message: trimForError(bodyStr)}
	case status >= 500:
		return &Error{Type: ErrorTypeTransient, StatusCode: status, Message: trimForError(bodyStr)}
	default:
		return &Error{Type: ErrorTypeBadRequest, StatusCode: status, Message: trimForError(bodyStr)}
	}
}

// isRateLimited recognizes the rate-limit shapes providers actually emit:
// HTTP 429, a body error code of 429, an exhausted remaining-quota header,
// or a body mentioning rate limiting.
func isRateLimited(status int, header http.Header, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	var envelope struct {
		Error struct {
			Code any    `json:"code"`
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil {
		switch code := envelope.Error.Code.(type) {
		case float64:
			if int(code) == http.StatusTooManyRequests {
				return true
			}
		case string:
			if code == "429" || code == "rate_limit_exceeded" {
				return true
			}
		}
		if envelope.Error.Type == "rate_limit_error" {
			return true
		}
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit")
}

// parseRetryDelay extracts the provider-suggested wait from Retry-After or
// X-RateLimit-Reset. Reset values may be delay seconds, an epoch in seconds
// or an epoch in milliseconds; all are normalized to a duration.
func parseRetryDelay(header http.Header, body string) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		if raw, err := strconv.ParseFloat(v, 64); err == nil && raw > 0 {
			return normalizeReset(raw)
		}
	}
	// Some providers put retry_after into the body instead.
	var envelope struct {
		Error struct {
			RetryAfter float64 `json:"retry_after"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Error.RetryAfter > 0 {
		return time.Duration(envelope.Error.RetryAfter * float64(time.Second))
	}
	return 0
}

// normalizeReset interprets a reset value that may be a relative delay in
// seconds, an absolute epoch in seconds, or an absolute epoch in
// milliseconds.
func normalizeReset(raw float64) time.Duration {
	const (
		epochSecondsFloor = 1e9  // ~2001 as a unix-seconds timestamp
		epochMillisFloor  = 1e12 // same boundary in milliseconds
	)
	switch {
	case raw >= epochMillisFloor:
		reset := time.UnixMilli(int64(raw))
		if d := time.Until(reset); d > 0 {
			return d
		}
		return 0
	case raw >= epochSecondsFloor:
		reset := time.Unix(int64(raw), 0)
		if d := time.Until(reset); d > 0 {
			return d
		}
		return 0
	default:
		return time.Duration(raw * float64(time.Second))
	}
}

func trimForError(body string) string {
	const max = 300
	body = strings.TrimSpace(body)
	if len(body) > max {
		return body[:max] + "..."
	}
	return body
}

func parseCompletion(data []byte) (*Response, error) {
	var payload struct {
		Choices []struct {
			Message struct {
				Content   string         `json:"content"`
				ToolCalls []wireToolCall `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &Error{Type: ErrorTypeProtocol, Err: err, Message: "malformed completion payload"}
	}
	if len(payload.Choices) == 0 {
		return nil, &Error{Type: ErrorTypeProtocol, Message: "completion contained no choices"}
	}

	msg := payload.Choices[0].Message
	out := &Response{
		Content: msg.Content,
		Usage:   payload.Usage,
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &Error{
					Type:    ErrorTypeProtocol,
					Err:     err,
					Message: fmt.Sprintf("tool call %s has malformed arguments", tc.Function.Name),
				}
			}
		}
		out.ToolCalls = append(out.ToolCalls, convo.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}
