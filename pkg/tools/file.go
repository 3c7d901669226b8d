package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolveWorkspacePath joins a model-supplied relative path onto the
// workspace root, rejecting traversal outside it.
func resolveWorkspacePath(workDir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(workDir, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(workDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return full, nil
}

// ReadFileTool reads file contents, optionally as a numbered window.
type ReadFileTool struct {
	tc *Context
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(tc *Context) *ReadFileTool {
	return &ReadFileTool{tc: tc}
}

// Name returns the tool name.
func (t *ReadFileTool) Name() string { return ToolReadFile }

// Definition returns the tool definition for the LLM.
func (t *ReadFileTool) Definition() Definition {
	return Definition{
		Name:        ToolReadFile,
		Description: "Read a file from the workspace. With offset and lines set, output is numbered lines with a Lines A-B of TOTAL header; with both unset the raw content is returned.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "Path to the file, relative to the workspace root.",
				},
				"offset": {
					Type:        "integer",
					Description: "1-based line to start reading from.",
				},
				"lines": {
					Type:        "integer",
					Description: "Number of lines to read.",
				},
			},
			Required: []string{"path"},
		},
	}
}

// Exec reads the file.
func (t *ReadFileTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	full, err := resolveWorkspacePath(t.tc.WorkDir, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	offset := intArgOrDefault(args, "offset", 0)
	lines := intArgOrDefault(args, "lines", 0)
	if offset < 0 || lines < 0 {
		return nil, fmt.Errorf("offset and lines must not be negative")
	}
	if offset == 0 && lines == 0 {
		return &Result{Response: string(data)}, nil
	}

	all := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	total := len(all)

	// Offset is 1-based toward the model, clamped to the file bounds.
	start := offset
	if start < 1 {
		start = 1
	}
	if start > total {
		start = total
	}
	end := total
	if lines > 0 && start-1+lines < total {
		end = start - 1 + lines
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Lines %d-%d of %d\n", start, end, total)
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, all[i-1])
	}
	return &Result{Response: b.String()}, nil
}

// WriteFileTool writes a file, creating intermediate directories.
type WriteFileTool struct {
	tc *Context
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(tc *Context) *WriteFileTool {
	return &WriteFileTool{tc: tc}
}

// Name returns the tool name.
func (t *WriteFileTool) Name() string { return ToolWriteFile }

// Definition returns the tool definition for the LLM.
func (t *WriteFileTool) Definition() Definition {
	return Definition{
		Name:        ToolWriteFile,
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing content.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "Path to the file, relative to the workspace root.",
				},
				"content": {
					Type:        "string",
					Description: "Full content to write.",
				},
			},
			Required: []string{"path", "content"},
		},
	}
}

// Exec writes the file.
func (t *WriteFileTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	full, err := resolveWorkspacePath(t.tc.WorkDir, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directories for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return &Result{Response: fmt.Sprintf("Wrote %d bytes to %s.", len(content), path)}, nil
}

// EditFileTool does single-match substring replacement.
type EditFileTool struct {
	tc *Context
}

// NewEditFileTool creates the edit_file tool.
func NewEditFileTool(tc *Context) *EditFileTool {
	return &EditFileTool{tc: tc}
}

// Name returns the tool name.
func (t *EditFileTool) Name() string { return ToolEditFile }

// Definition returns the tool definition for the LLM.
func (t *EditFileTool) Definition() Definition {
	return Definition{
		Name:        ToolEditFile,
		Description: "Replace an exact substring in a file. The old content must appear exactly once; include enough surrounding context to make it unique.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "Path to the file, relative to the workspace root.",
				},
				"oldContent": {
					Type:        "string",
					Description: "Exact substring to replace. Must match exactly once.",
				},
				"newContent": {
					Type:        "string",
					Description: "Replacement text.",
				},
			},
			Required: []string{"path", "oldContent", "newContent"},
		},
	}
}

// Exec applies the edit.
func (t *EditFileTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	oldContent, err := stringArg(args, "oldContent")
	if err != nil {
		return nil, err
	}
	if oldContent == "" {
		return nil, fmt.Errorf("oldContent must not be empty")
	}
	newContent, err := stringArg(args, "newContent")
	if err != nil {
		return nil, err
	}

	full, err := resolveWorkspacePath(t.tc.WorkDir, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch n := strings.Count(string(data), oldContent); {
	case n == 0:
		return nil, fmt.Errorf("oldContent not found in %s", path)
	case n > 1:
		return nil, fmt.Errorf("oldContent matches %d times in %s, must match exactly once", n, path)
	}

	updated := strings.Replace(string(data), oldContent, newContent, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return &Result{Response: fmt.Sprintf("Edited %s.", path)}, nil
}

// ListFilesTool lists the entries of a workspace directory.
type ListFilesTool struct {
	tc *Context
}

// NewListFilesTool creates the list_files tool.
func NewListFilesTool(tc *Context) *ListFilesTool {
	return &ListFilesTool{tc: tc}
}

// Name returns the tool name.
func (t *ListFilesTool) Name() string { return ToolListFiles }

// Definition returns the tool definition for the LLM.
func (t *ListFilesTool) Definition() Definition {
	return Definition{
		Name:        ToolListFiles,
		Description: "List the entries of a directory in the workspace. Directories are suffixed with a slash.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "Directory to list, relative to the workspace root. Defaults to the root.",
				},
			},
		},
	}
}

// Exec lists the directory.
func (t *ListFilesTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	path := optStringArg(args, "path")
	if path == "" {
		path = "."
	}
	full, err := resolveWorkspacePath(t.tc.WorkDir, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return &Result{Response: "(empty directory)"}, nil
	}
	return &Result{Response: strings.Join(names, "\n")}, nil
}
