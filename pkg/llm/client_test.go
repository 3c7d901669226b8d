package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"agentd/pkg/config"
	"agentd/pkg/convo"
)

func testConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:   "test-key",
		Model:    "test-model",
		Endpoint: endpoint,
	}
}

func completionBody(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`, content)
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		fmt.Fprint(w, completionBody("hello"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	resp, err := c.Complete(context.Background(), Request{
		Messages: []convo.Message{{Role: convo.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if resp.Usage.PromptTokens != 10 || resp.Usage.CompletionTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestCompleteParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"filePath\":\"main.go\"}"}}
		]}}]}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	resp, err := c.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "read_file" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if tc.Arguments["filePath"] != "main.go" {
		t.Errorf("unexpected arguments: %v", tc.Arguments)
	}
}

func TestCompleteMalformedArgumentsIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"not json"}}
		]}}]}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), Request{})
	if TypeOf(err) != ErrorTypeProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestCompleteNoChoicesIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), Request{})
	if TypeOf(err) != ErrorTypeProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestClassifyRateLimitShapes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header http.Header
		body   string
	}{
		{"status 429", http.StatusTooManyRequests, http.Header{}, "{}"},
		{"remaining header", http.StatusServiceUnavailable, http.Header{"X-Ratelimit-Remaining": {"0"}}, "{}"},
		{"numeric body code", http.StatusBadRequest, http.Header{}, `{"error":{"code":429}}`},
		{"string body code", http.StatusBadRequest, http.Header{}, `{"error":{"code":"rate_limit_exceeded"}}`},
		{"anthropic-style type", http.StatusBadRequest, http.Header{}, `{"error":{"type":"rate_limit_error"}}`},
		{"prose body", http.StatusForbidden, http.Header{}, `rate limit reached for requests`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !isRateLimited(tc.status, tc.header, tc.body) {
				t.Errorf("expected %s to be recognized as rate limited", tc.name)
			}
		})
	}

	if isRateLimited(http.StatusBadRequest, http.Header{}, `{"error":{"code":"invalid_request"}}`) {
		t.Error("plain 400 misclassified as rate limited")
	}
}

func TestParseRetryDelay(t *testing.T) {
	mkHeader := func(key, value string) http.Header {
		h := http.Header{}
		h.Set(key, value)
		return h
	}

	t.Run("retry-after seconds", func(t *testing.T) {
		got := parseRetryDelay(mkHeader("Retry-After", "7"), "")
		if got != 7*time.Second {
			t.Errorf("got %s, want 7s", got)
		}
	})

	t.Run("reset as relative seconds", func(t *testing.T) {
		got := parseRetryDelay(mkHeader("X-RateLimit-Reset", "30"), "")
		if got != 30*time.Second {
			t.Errorf("got %s, want 30s", got)
		}
	})

	t.Run("reset as epoch seconds", func(t *testing.T) {
		reset := time.Now().Add(45 * time.Second).Unix()
		got := parseRetryDelay(mkHeader("X-RateLimit-Reset", strconv.FormatInt(reset, 10)), "")
		if got < 40*time.Second || got > 45*time.Second {
			t.Errorf("got %s, want ~45s", got)
		}
	})

	t.Run("reset as epoch milliseconds", func(t *testing.T) {
		reset := time.Now().Add(45 * time.Second).UnixMilli()
		got := parseRetryDelay(mkHeader("X-RateLimit-Reset", strconv.FormatInt(reset, 10)), "")
		if got < 40*time.Second || got > 45*time.Second {
			t.Errorf("got %s, want ~45s", got)
		}
	})

	t.Run("reset in the past", func(t *testing.T) {
		reset := time.Now().Add(-time.Minute).Unix()
		got := parseRetryDelay(mkHeader("X-RateLimit-Reset", strconv.FormatInt(reset, 10)), "")
		if got != 0 {
			t.Errorf("got %s, want 0 for elapsed reset", got)
		}
	})

	t.Run("body retry_after", func(t *testing.T) {
		got := parseRetryDelay(http.Header{}, `{"error":{"retry_after":2.5}}`)
		if got != 2500*time.Millisecond {
			t.Errorf("got %s, want 2.5s", got)
		}
	})

	t.Run("nothing present", func(t *testing.T) {
		if got := parseRetryDelay(http.Header{}, "{}"); got != 0 {
			t.Errorf("got %s, want 0", got)
		}
	})
}

func TestToolChoiceRejectionClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"tool_choice is not supported"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), Request{})
	if !IsToolChoiceRejection(err) {
		t.Fatalf("expected tool_choice rejection, got %v", err)
	}
}

func TestToolChoiceDowngrade(t *testing.T) {
	if got := ToolChoiceRequired.Downgrade(); got != ToolChoiceAuto {
		t.Errorf("required should downgrade to auto, got %v", got)
	}
	if got := ToolChoiceAuto.Downgrade(); got != ToolChoiceOmit {
		t.Errorf("auto should downgrade to omit, got %v", got)
	}
	if got := ToolChoiceOmit.Downgrade(); got != ToolChoiceOmit {
		t.Errorf("omit should stay omit, got %v", got)
	}

	if _, ok := ToolChoiceOmit.wireValue(); ok {
		t.Error("omit must not serialize a tool_choice value")
	}
}

func TestAuthErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), Request{})
	le, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected classified error, got %v", err)
	}
	if le.Type != ErrorTypeAuth || le.Retryable() {
		t.Errorf("expected non-retryable auth error, got %+v", le)
	}
}
