// Package config loads and validates the worker settings file and the prompt
// template directory.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SettingsFilename is the well-known settings path relative to the working
// directory.
const SettingsFilename = "settings.json"

// Compaction modes.
const (
	CompactionNone      = "none"
	CompactionSummarize = "summarize"
)

// Defaults applied when the settings file leaves fields zero.
const (
	DefaultContextSizePercent  = 0.9
	DefaultMaxIterations       = 50
	DefaultStuckNudgeThreshold = 3
	DefaultStuckResetThreshold = 7
)

// ErrNoLLMConfigs indicates the settings file has an empty llmConfigs list.
var ErrNoLLMConfigs = errors.New("settings contain no LLM configurations")

// LLMConfig describes one OpenAI-compatible provider. Order in the settings
// list is the fallback order; index 0 is the primary.
type LLMConfig struct {
	APIKey           string  `json:"apiKey"`
	Model            string  `json:"model"`
	Endpoint         string  `json:"endpoint,omitempty"`
	ContextLength    int     `json:"contextLength"`
	InputTokenPrice  float64 `json:"inputTokenPrice,omitempty"`
	OutputTokenPrice float64 `json:"outputTokenPrice,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
}

// GitConfig carries the repository coordinates and identity used by the
// workspace bootstrap.
type GitConfig struct {
	RepositoryURL string `json:"repositoryUrl"`
	SSHKey        string `json:"sshKey,omitempty"`
	Password      string `json:"password,omitempty"`
	APIToken      string `json:"apiToken,omitempty"`
	Username      string `json:"username"`
	Email         string `json:"email"`
}

// CompactionConfig selects the context compaction policy.
type CompactionConfig struct {
	Type               string  `json:"type"`
	ContextSizePercent float64 `json:"contextSizePercent"`
}

// WebSearchConfig enables the web_search tool when an endpoint is set.
type WebSearchConfig struct {
	Endpoint   string `json:"endpoint,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// Enabled reports whether web search is configured.
func (w *WebSearchConfig) Enabled() bool {
	return w != nil && w.Endpoint != ""
}

// Settings is the worker configuration loaded from SettingsFilename.
type Settings struct {
	LLMConfigs          []LLMConfig      `json:"llmConfigs"`
	GitConfig           GitConfig        `json:"gitConfig"`
	Compaction          CompactionConfig `json:"compaction"`
	WebSearch           WebSearchConfig  `json:"webSearch"`
	JSONLogging         bool             `json:"jsonLogging"`
	MaxIterations       int              `json:"maxIterations,omitempty"`
	StuckNudgeThreshold int              `json:"stuckNudgeThreshold,omitempty"`
	StuckResetThreshold int              `json:"stuckResetThreshold,omitempty"`
}

// Load reads and validates the settings file at the given directory, applying
// defaults for zero-valued tunables.
func Load(dir string) (*Settings, error) {
	path := filepath.Join(dir, SettingsFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	// Providers may omit the key in the file and supply it via environment.
	for i := range s.LLMConfigs {
		if s.LLMConfigs[i].APIKey == "" {
			s.LLMConfigs[i].APIKey = os.Getenv("AGENTD_LLM_API_KEY")
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.applyDefaults()
	return &s, nil
}

// Validate checks the invariants the worker cannot run without.
func (s *Settings) Validate() error {
	if len(s.LLMConfigs) == 0 {
		return ErrNoLLMConfigs
	}
	for i := range s.LLMConfigs {
		cfg := &s.LLMConfigs[i]
		if cfg.APIKey == "" {
			return fmt.Errorf("llmConfigs[%d]: apiKey is required", i)
		}
		if cfg.Model == "" {
			return fmt.Errorf("llmConfigs[%d]: model is required", i)
		}
		if cfg.ContextLength <= 0 {
			return fmt.Errorf("llmConfigs[%d]: contextLength must be positive", i)
		}
	}
	switch s.Compaction.Type {
	case "", CompactionNone, CompactionSummarize:
	default:
		return fmt.Errorf("compaction.type must be %q or %q, got %q",
			CompactionNone, CompactionSummarize, s.Compaction.Type)
	}
	return nil
}

func (s *Settings) applyDefaults() {
	if s.Compaction.Type == "" {
		s.Compaction.Type = CompactionNone
	}
	if s.Compaction.ContextSizePercent <= 0 || s.Compaction.ContextSizePercent > 1 {
		s.Compaction.ContextSizePercent = DefaultContextSizePercent
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	if s.StuckNudgeThreshold <= 0 {
		s.StuckNudgeThreshold = DefaultStuckNudgeThreshold
	}
	if s.StuckResetThreshold <= 0 {
		s.StuckResetThreshold = DefaultStuckResetThreshold
	}
}

// Primary returns the first LLM config. Callers must only use it after
// Validate has passed.
func (s *Settings) Primary() LLMConfig {
	return s.LLMConfigs[0]
}
