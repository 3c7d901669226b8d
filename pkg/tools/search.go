package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const defaultGrepMaxResults = 100

// GlobTool matches workspace files against a shell glob. ** crosses
// directories, * does not, ? matches one character and {a,b} alternates.
type GlobTool struct {
	tc *Context
}

// NewGlobTool creates the glob tool.
func NewGlobTool(tc *Context) *GlobTool {
	return &GlobTool{tc: tc}
}

// Name returns the tool name.
func (t *GlobTool) Name() string { return ToolGlob }

// Definition returns the tool definition for the LLM.
func (t *GlobTool) Definition() Definition {
	return Definition{
		Name:        ToolGlob,
		Description: "Find workspace files matching a glob pattern. ** matches across directories, * within one, ? matches a single character, {a,b} alternates. Returns relative paths.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"pattern": {
					Type:        "string",
					Description: "Glob pattern, relative to the workspace root.",
				},
			},
			Required: []string{"pattern"},
		},
	}
}

// Exec runs the glob.
func (t *GlobTool) Exec(_ context.Context, args map[string]any) (*Result, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(t.tc.WorkDir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob failed: %w", err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return &Result{Response: "No files matched."}, nil
	}
	return &Result{Response: strings.Join(matches, "\n")}, nil
}

// GrepTool searches workspace file contents.
type GrepTool struct {
	tc *Context
}

// NewGrepTool creates the grep tool.
func NewGrepTool(tc *Context) *GrepTool {
	return &GrepTool{tc: tc}
}

// Name returns the tool name.
func (t *GrepTool) Name() string { return ToolGrep }

// Definition returns the tool definition for the LLM.
func (t *GrepTool) Definition() Definition {
	return Definition{
		Name:        ToolGrep,
		Description: "Search workspace file contents for a substring. Modes: files_with_matches lists matching files, content shows matching lines, count shows per-file match counts.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "Text to search for.",
				},
				"mode": {
					Type:        "string",
					Description: "Output mode. Defaults to files_with_matches.",
					Enum:        []string{"files_with_matches", "content", "count"},
				},
				"include": {
					Type:        "string",
					Description: "Optional glob restricting which files are searched, e.g. **/*.go.",
				},
				"caseInsensitive": {
					Type:        "boolean",
					Description: "Match case-insensitively.",
				},
				"contextLines": {
					Type:        "integer",
					Description: "Lines of context around each match in content mode.",
				},
				"maxResults": {
					Type:        "integer",
					Description: "Cap on reported matches. Defaults to 100.",
				},
			},
			Required: []string{"query"},
		},
	}
}

type grepMatch struct {
	path string
	line int
	text string
}

// Exec runs the search.
func (t *GrepTool) Exec(ctx context.Context, args map[string]any) (*Result, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	mode := optStringArg(args, "mode")
	if mode == "" {
		mode = "files_with_matches"
	}
	switch mode {
	case "files_with_matches", "content", "count":
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	include := optStringArg(args, "include")
	if include != "" && !doublestar.ValidatePattern(include) {
		return nil, fmt.Errorf("invalid include pattern %q", include)
	}
	caseInsensitive := boolArg(args, "caseInsensitive")
	contextLines := intArgOrDefault(args, "contextLines", 0)
	maxResults := intArgOrDefault(args, "maxResults", defaultGrepMaxResults)
	if maxResults < 1 {
		maxResults = defaultGrepMaxResults
	}

	needle := query
	if caseInsensitive {
		needle = strings.ToLower(needle)
	}

	var matches []grepMatch
	contents := make(map[string][]string)
	root := t.tc.WorkDir
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil //nolint:nilerr
		}
		rel = filepath.ToSlash(rel)
		if include != "" {
			if ok, _ := doublestar.Match(include, rel); !ok {
				return nil
			}
		}

		lines, err := readTextLines(path)
		if err != nil {
			return nil //nolint:nilerr // binary or unreadable files are skipped
		}
		for i, line := range lines {
			hay := line
			if caseInsensitive {
				hay = strings.ToLower(hay)
			}
			if strings.Contains(hay, needle) {
				matches = append(matches, grepMatch{path: rel, line: i + 1, text: line})
				contents[rel] = lines
				if len(matches) >= maxResults {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return nil, walkErr
	}

	if len(matches) == 0 {
		return &Result{Response: "No matches."}, nil
	}
	return &Result{Response: formatGrep(mode, matches, contents, contextLines)}, nil
}

func formatGrep(mode string, matches []grepMatch, contents map[string][]string, contextLines int) string {
	var b strings.Builder
	switch mode {
	case "files_with_matches":
		seen := make(map[string]bool)
		for _, m := range matches {
			if !seen[m.path] {
				seen[m.path] = true
				b.WriteString(m.path + "\n")
			}
		}
	case "count":
		counts := make(map[string]int)
		var order []string
		for _, m := range matches {
			if counts[m.path] == 0 {
				order = append(order, m.path)
			}
			counts[m.path]++
		}
		for _, path := range order {
			fmt.Fprintf(&b, "%s: %d\n", path, counts[path])
		}
	case "content":
		for _, m := range matches {
			if contextLines == 0 {
				fmt.Fprintf(&b, "%s:%d: %s\n", m.path, m.line, m.text)
				continue
			}
			lines := contents[m.path]
			start := m.line - contextLines
			if start < 1 {
				start = 1
			}
			end := m.line + contextLines
			if end > len(lines) {
				end = len(lines)
			}
			for i := start; i <= end; i++ {
				fmt.Fprintf(&b, "%s:%d: %s\n", m.path, i, lines[i-1])
			}
			b.WriteString("--\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// readTextLines reads a file as lines, refusing binary content.
func readTextLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.ContainsRune(line, '\x00') {
			return nil, fmt.Errorf("binary file")
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
