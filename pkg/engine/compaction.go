package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"agentd/pkg/config"
	"agentd/pkg/convo"
	"agentd/pkg/llm"
	"agentd/pkg/logx"
	"agentd/pkg/metrics"
)

const (
	// compactionMinBytes is the floor below which compaction never runs; a
	// summary of a tiny conversation costs more than it saves.
	compactionMinBytes = 3072

	// approxBytesPerToken converts a model context length in tokens to the
	// byte budget the threshold is applied against.
	approxBytesPerToken = 4

	summaryPreamble = "Summary of prior work:\n\n"
)

//nolint:gochecknoglobals // compiled once
var (
	summaryBlockRe = regexp.MustCompile(`(?is)<summary>(.*?)</summary>`)
	memoryLineRe   = regexp.MustCompile(`^([A-Z][A-Z0-9_-]{1,31}):\s+(.+)$`)
)

// Compactor replaces a conversation's history with an LLM-written summary
// when it outgrows the configured share of the model context, hoisting
// labelled facts into the memory store first so they survive the rewrite.
type Compactor struct {
	chain   Completer
	cfg     config.CompactionConfig
	prompts *config.Prompts
	logger  *logx.Logger
}

// NewCompactor creates a compactor. With compaction type "none" every method
// is a no-op.
func NewCompactor(chain Completer, cfg config.CompactionConfig, prompts *config.Prompts, logger *logx.Logger) *Compactor {
	return &Compactor{chain: chain, cfg: cfg, prompts: prompts, logger: logger}
}

// ShouldCompact reports whether the conversation has crossed the compaction
// threshold for the active provider's context length.
func (k *Compactor) ShouldCompact(c *convo.Conversation) bool {
	if k.cfg.Type != config.CompactionSummarize {
		return false
	}
	size := c.ByteSize()
	if size < compactionMinBytes {
		return false
	}
	contextBytes := k.chain.ActiveConfig().ContextLength * approxBytesPerToken
	if contextBytes <= 0 {
		return false
	}
	return float64(size) >= k.cfg.ContextSizePercent*float64(contextBytes)
}

// Compact summarizes the conversation and replaces its history with the
// system prompt plus the summary. The original history is kept when the
// summary fails to shrink the conversation.
func (k *Compactor) Compact(ctx context.Context, c *convo.Conversation) error {
	if k.cfg.Type != config.CompactionSummarize {
		metrics.Compactions.WithLabelValues("skipped").Inc()
		return nil
	}
	if c.ByteSize() < compactionMinBytes {
		metrics.Compactions.WithLabelValues("skipped").Inc()
		return nil
	}

	origSize := c.ByteSize()
	messages := append(append([]convo.Message{}, c.Messages...), convo.Message{
		Role:    convo.RoleUser,
		Content: k.prompts.Get(config.PromptCompaction),
	})

	resp, err := k.chain.Complete(ctx, llm.Request{Messages: messages})
	if err != nil {
		metrics.Compactions.WithLabelValues("failed").Inc()
		return fmt.Errorf("summarization call failed: %w", err)
	}

	summary := extractSummary(resp.Content)
	if strings.TrimSpace(summary) == "" {
		metrics.Compactions.WithLabelValues("failed").Inc()
		return fmt.Errorf("summarization produced no content")
	}

	hoisted := hoistMemories(resp.Content, c)
	if hoisted > 0 {
		k.logger.Info("hoisted %d memories during compaction of %s", hoisted, c.ID)
	}

	rebuilt := []convo.Message{
		{Role: convo.RoleSystem, Content: c.SystemPrompt},
		{Role: convo.RoleUser, Content: summaryPreamble + summary},
	}
	newSize := len(c.SystemPrompt) + len(summaryPreamble) + len(summary)
	if newSize >= origSize {
		metrics.Compactions.WithLabelValues("failed").Inc()
		return fmt.Errorf("summary (%d bytes) did not shrink the conversation (%d bytes)", newSize, origSize)
	}

	c.Messages = rebuilt
	metrics.Compactions.WithLabelValues("ok").Inc()
	k.logger.Info("compacted %s from %d to %d bytes", c.ID, origSize, newSize)
	return nil
}

// CompactNow runs a compaction regardless of the size threshold. Used at
// subtask boundaries so labelled facts are hoisted into memories before the
// per-subtask conversation is discarded.
func (k *Compactor) CompactNow(ctx context.Context, c *convo.Conversation) error {
	return k.Compact(ctx, c)
}

// extractSummary pulls the <summary> block out of the model response, falling
// back to the whole response when the model skipped the tags.
func extractSummary(content string) string {
	if m := summaryBlockRe.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

// hoistMemories records every "LABEL: text" line of the model response in the
// conversation's memory store. The whole response is scanned, not just the
// <summary> block; models often emit the labelled lines after the closing tag.
// Returns the number of new entries.
func hoistMemories(content string, c *convo.Conversation) int {
	if c.Memories == nil {
		return 0
	}
	added := 0
	for _, line := range strings.Split(content, "\n") {
		if m := memoryLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if c.Memories.Add(m[1], m[2]) {
				added++
			}
		}
	}
	return added
}
