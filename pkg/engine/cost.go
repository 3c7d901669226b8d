package engine

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"agentd/pkg/config"
	"agentd/pkg/convo"
	"agentd/pkg/llm"
)

// Token prices in the provider config are per million tokens.
const tokensPerPriceUnit = 1_000_000

//nolint:gochecknoglobals // the codec is immutable and expensive to build
var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func tokenCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		// cl100k is a reasonable estimator across OpenAI-compatible models;
		// exact counts come from the provider's usage block when present.
		codec, _ = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec
}

// estimateTokens approximates the token count of text, falling back to a
// bytes/4 heuristic when the tokenizer is unavailable.
func estimateTokens(text string) int {
	if c := tokenCodec(); c != nil {
		if ids, _, err := c.Encode(text); err == nil {
			return len(ids)
		}
	}
	return len(text) / approxBytesPerToken
}

// turnUsage resolves the token counts for one completed turn, preferring the
// provider's usage block and estimating locally when it is absent.
func turnUsage(messages []convo.Message, resp *llm.Response) (promptTokens, completionTokens int) {
	promptTokens = resp.Usage.PromptTokens
	completionTokens = resp.Usage.CompletionTokens
	if promptTokens == 0 {
		for i := range messages {
			promptTokens += estimateTokens(messages[i].Content)
		}
	}
	if completionTokens == 0 {
		completionTokens = estimateTokens(resp.Content)
	}
	return promptTokens, completionTokens
}

// turnCost prices a turn against the active provider config.
func turnCost(cfg config.LLMConfig, promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*cfg.InputTokenPrice/tokensPerPriceUnit +
		float64(completionTokens)*cfg.OutputTokenPrice/tokensPerPriceUnit
}
