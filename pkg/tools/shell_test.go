package tools

import (
	"context"
	"strings"
	"testing"
)

func TestShellCapturesOutputAndExitCode(t *testing.T) {
	tc := testContext(t)

	res, err := NewShellTool(tc).Exec(context.Background(), map[string]any{
		"command": "echo out; echo err >&2; exit 3",
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if !strings.Contains(res.Response, "out") || !strings.Contains(res.Response, "err") {
		t.Errorf("combined output missing: %q", res.Response)
	}
	if !strings.Contains(res.Response, "Exit code: 3") {
		t.Errorf("exit code missing: %q", res.Response)
	}
}

func TestShellEmptyCommandRejected(t *testing.T) {
	tc := testContext(t)
	if _, err := NewShellTool(tc).Exec(context.Background(), map[string]any{"command": "   "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestShellMissingWorkDirRejected(t *testing.T) {
	tc := &Context{WorkDir: "/nonexistent/workdir"}
	if _, err := NewShellTool(tc).Exec(context.Background(), map[string]any{"command": "true"}); err == nil {
		t.Fatal("expected error for missing working directory")
	}
}

func TestShellRunsInWorkDir(t *testing.T) {
	tc := testContext(t)
	writeTestFile(t, tc, "marker.txt", "x")

	res, err := NewShellTool(tc).Exec(context.Background(), map[string]any{"command": "ls"})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if !strings.Contains(res.Response, "marker.txt") {
		t.Errorf("command did not run in workspace: %q", res.Response)
	}
}

func TestShellSessionLifecycle(t *testing.T) {
	s := NewShellSession()
	if _, err := s.Send("echo hi", false); err == nil {
		t.Fatal("send before start should fail")
	}

	if err := s.Start(t.TempDir()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Kill()

	if err := s.Start(t.TempDir()); err == nil {
		t.Fatal("starting a running session should fail")
	}

	out, err := s.Send("echo session-output", false)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !strings.Contains(out, "session-output") {
		t.Errorf("session output missing: %q", out)
	}

	// clearFirst drops accumulated output so only fresh output is returned.
	out, err = s.Send("echo fresh", true)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if strings.Contains(out, "session-output") {
		t.Errorf("buffer not cleared: %q", out)
	}

	s.Kill()
	if s.Running() {
		t.Error("session still running after Kill")
	}
}

func TestPersistentShellToolActions(t *testing.T) {
	tc := testContext(t)
	tool := NewPersistentShellTool(tc)

	if _, err := tool.Exec(context.Background(), map[string]any{"action": "dance"}); err == nil {
		t.Fatal("expected error for unknown action")
	}

	res, err := tool.Exec(context.Background(), map[string]any{"action": "start"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if res.Response != "Session started." {
		t.Errorf("unexpected response: %q", res.Response)
	}
	defer tc.Session.Kill()

	if _, err := tool.Exec(context.Background(), map[string]any{"action": "start"}); err == nil {
		t.Fatal("second start should fail")
	}

	res, err = tool.Exec(context.Background(), map[string]any{
		"action":     "send",
		"input":      "echo from-tool",
		"clearFirst": true,
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !strings.Contains(res.Response, "from-tool") {
		t.Errorf("unexpected send output: %q", res.Response)
	}

	if _, err := tool.Exec(context.Background(), map[string]any{"action": "kill"}); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
}
