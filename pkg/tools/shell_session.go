package tools

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// sendSettleDelay gives the shell a moment to produce output after input is
// injected before the accumulated buffer is read.
const sendSettleDelay = 500 * time.Millisecond

// ShellSession is a long-lived interactive shell. One session lives on the
// tool Context and survives across turns until killed.
type ShellSession struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	output  strings.Builder
	running bool
}

// NewShellSession creates an idle session.
func NewShellSession() *ShellSession {
	return &ShellSession{}
}

// Start launches the shell in workDir. Starting a running session is an error.
func (s *ShellSession) Start(workDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("session already running")
	}

	cmd := exec.Command("bash", "-i")
	cmd.Dir = workDir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.output.Reset()
	s.running = true

	go s.collect(stdout)
	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

func (s *ShellSession) collect(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.output.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Send injects input into the session and returns the output accumulated so
// far. When clearFirst is set the buffer is emptied before the input runs, so
// only fresh output is returned.
func (s *ShellSession) Send(input string, clearFirst bool) (string, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return "", fmt.Errorf("session is not running")
	}
	if clearFirst {
		s.output.Reset()
	}
	stdin := s.stdin
	s.mu.Unlock()

	if input != "" {
		if !strings.HasSuffix(input, "\n") {
			input += "\n"
		}
		if _, err := io.WriteString(stdin, input); err != nil {
			return "", fmt.Errorf("failed to write to session: %w", err)
		}
		time.Sleep(sendSettleDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String(), nil
}

// Kill terminates the session. Killing an idle session is a no-op.
func (s *ShellSession) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.stdin.Close()
	_ = s.cmd.Process.Kill()
	s.running = false
}

// Running reports whether the session process is alive.
func (s *ShellSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PersistentShellTool exposes the shared shell session to the model with
// start/send/kill actions.
type PersistentShellTool struct {
	tc *Context
}

// NewPersistentShellTool creates the persistent shell tool.
func NewPersistentShellTool(tc *Context) *PersistentShellTool {
	return &PersistentShellTool{tc: tc}
}

// Name returns the tool name.
func (t *PersistentShellTool) Name() string { return ToolPersistentShell }

// Definition returns the tool definition for the LLM.
func (t *PersistentShellTool) Definition() Definition {
	return Definition{
		Name:        ToolPersistentShell,
		Description: "Control a long-lived interactive shell. Use it for processes that must stay alive between commands, like dev servers or REPLs.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"action": {
					Type:        "string",
					Description: "What to do with the session.",
					Enum:        []string{"start", "send", "kill"},
				},
				"input": {
					Type:        "string",
					Description: "Input to send to the session. Only used with the send action.",
				},
				"clearFirst": {
					Type:        "boolean",
					Description: "Clear accumulated output before sending, so only fresh output is returned.",
				},
			},
			Required: []string{"action"},
		},
	}
}

// Exec dispatches the session action.
func (t *PersistentShellTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	action, err := stringArg(args, "action")
	if err != nil {
		return nil, err
	}
	if t.tc.Session == nil {
		t.tc.Session = NewShellSession()
	}

	switch action {
	case "start":
		if err := t.tc.Session.Start(t.tc.WorkDir); err != nil {
			return nil, err
		}
		return &Result{Response: "Session started."}, nil
	case "send":
		out, err := t.tc.Session.Send(optStringArg(args, "input"), boolArg(args, "clearFirst"))
		if err != nil {
			return nil, err
		}
		if out == "" {
			out = "(no output)"
		}
		return &Result{Response: out}, nil
	case "kill":
		t.tc.Session.Kill()
		return &Result{Response: "Session killed."}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}
