package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Prompt role keys. Each key corresponds to a <role>.txt file in the prompt
// directory.
const (
	PromptPlanning   = "planning"
	PromptDeveloper  = "developer"
	PromptSubagent   = "subagent"
	PromptCompaction = "compaction"
	PromptQA         = "qualityassurance"
)

// requiredPrompts are the keys the worker refuses to start without. The QA
// role uses its own dedicated prompt file rather than sharing the planning
// prompt.
var requiredPrompts = []string{
	PromptPlanning,
	PromptDeveloper,
	PromptSubagent,
	PromptCompaction,
	PromptQA,
}

// Prompts holds prompt templates keyed by filename stem.
type Prompts struct {
	templates map[string]string
}

// LoadPrompts reads every .txt file in dir and asserts the required role keys
// are present.
func LoadPrompts(dir string) (*Prompts, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt directory %s: %w", dir, err)
	}

	templates := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".txt")
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt %s: %w", entry.Name(), err)
		}
		templates[key] = string(data)
	}

	for _, key := range requiredPrompts {
		if _, ok := templates[key]; !ok {
			return nil, fmt.Errorf("required prompt %s.txt not found in %s", key, dir)
		}
	}

	return &Prompts{templates: templates}, nil
}

// NewPromptsFromMap builds a prompt set directly, for tests.
func NewPromptsFromMap(templates map[string]string) *Prompts {
	copied := make(map[string]string, len(templates))
	for k, v := range templates {
		copied[k] = v
	}
	return &Prompts{templates: copied}
}

// Get returns the raw template for a role key, or empty string.
func (p *Prompts) Get(key string) string {
	return p.templates[key]
}

// Render returns the template for key with placeholder substitutions applied:
// {repoDir}, {currentDate} and {ticketId}.
func (p *Prompts) Render(key, repoDir, ticketID string) string {
	tmpl := p.templates[key]
	replacer := strings.NewReplacer(
		"{repoDir}", repoDir,
		"{currentDate}", time.Now().Format("2006-01-02"),
		"{ticketId}", ticketID,
	)
	return replacer.Replace(tmpl)
}
