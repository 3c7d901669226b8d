package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const defaultShellTimeout = 2 * time.Minute

// ShellTool runs a one-shot command in the workspace and captures combined
// output plus the exit code.
type ShellTool struct {
	tc *Context
}

// NewShellTool creates the one-shot shell tool.
func NewShellTool(tc *Context) *ShellTool {
	return &ShellTool{tc: tc}
}

// Name returns the tool name.
func (t *ShellTool) Name() string { return ToolShell }

// Definition returns the tool definition for the LLM.
func (t *ShellTool) Definition() Definition {
	return Definition{
		Name:        ToolShell,
		Description: "Run a shell command in the repository working directory and return its combined output and exit code.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"command": {
					Type:        "string",
					Description: "The command to run. Executed with bash -c.",
				},
				"timeoutSeconds": {
					Type:        "integer",
					Description: "Optional timeout in seconds. Defaults to 120.",
				},
			},
			Required: []string{"command"},
		},
	}
}

// Exec runs the command.
func (t *ShellTool) Exec(ctx context.Context, args map[string]any) (*Result, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command must not be empty")
	}
	if _, err := os.Stat(t.tc.WorkDir); err != nil {
		return nil, fmt.Errorf("working directory %s does not exist", t.tc.WorkDir)
	}

	timeout := defaultShellTimeout
	if secs := intArgOrDefault(args, "timeoutSeconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = t.tc.WorkDir
	output, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		var ee *exec.ExitError
		switch {
		case runCtx.Err() == context.DeadlineExceeded:
			return &Result{Response: fmt.Sprintf("Command timed out after %s.\n%s", timeout, output)}, nil
		case errors.As(err, &ee):
			exitCode = ee.ExitCode()
		default:
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
	}

	var b strings.Builder
	b.Write(output)
	if exitCode != 0 {
		fmt.Fprintf(&b, "\nExit code: %d", exitCode)
	}
	return &Result{Response: b.String()}, nil
}
