package llm

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"agentd/pkg/config"
	"agentd/pkg/logx"
	"agentd/pkg/metrics"
)

// Retry caps per provider before falling through to the next one.
const (
	rateLimitRetries = 3
	transientRetries = 3
	protocolRetries  = 1

	defaultRateLimitDelay = 2 * time.Second
	transientBaseDelay    = 500 * time.Millisecond
	maxBackoffDelay       = 30 * time.Second
)

// Chain tries the configured providers in order. A provider that exhausts its
// retries is marked down for the remainder of the run; subsequent calls start
// from the first provider still up. The tool_choice mode is tracked per
// provider and downgraded when the provider rejects it.
type Chain struct {
	mu         sync.Mutex
	clients    []*Client
	down       []bool
	toolChoice []ToolChoice
	logger     *logx.Logger

	// newClient builds a client from a config; tests may substitute one that
	// injects a custom http.Client.
	newClient func(config.LLMConfig) *Client
	// sleep waits between retries; tests stub it out.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewChain creates a provider chain from the ordered config list.
func NewChain(configs []config.LLMConfig, logger *logx.Logger) *Chain {
	c := &Chain{
		logger:    logger,
		newClient: NewClient,
		sleep:     sleepWithJitter,
	}
	c.setConfigs(configs)
	return c
}

// NewChainWithFactory creates a chain with a custom client factory, for tests.
func NewChainWithFactory(configs []config.LLMConfig, logger *logx.Logger, factory func(config.LLMConfig) *Client) *Chain {
	c := &Chain{
		logger:    logger,
		newClient: factory,
		sleep:     sleepWithJitter,
	}
	c.setConfigs(configs)
	return c
}

func (c *Chain) setConfigs(configs []config.LLMConfig) {
	clients := make([]*Client, len(configs))
	for i, cfg := range configs {
		clients[i] = c.newClient(cfg)
	}
	c.clients = clients
	c.down = make([]bool, len(configs))
	c.toolChoice = make([]ToolChoice, len(configs))
	for i := range c.toolChoice {
		c.toolChoice[i] = ToolChoiceRequired
	}
}

// SwapConfigs replaces the provider list. The currently executing call keeps
// its old clients; the next call uses the new list.
func (c *Chain) SwapConfigs(configs []config.LLMConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setConfigs(configs)
}

// ActiveConfig returns the config of the first provider still up. Falls back
// to the primary when everything is down.
func (c *Chain) ActiveConfig() config.LLMConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, client := range c.clients {
		if !c.down[i] {
			return client.Config()
		}
	}
	return c.clients[0].Config()
}

func (c *Chain) snapshot() ([]*Client, []ToolChoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clients := make([]*Client, 0, len(c.clients))
	choices := make([]ToolChoice, 0, len(c.clients))
	for i, client := range c.clients {
		if !c.down[i] {
			clients = append(clients, client)
			choices = append(choices, c.toolChoice[i])
		}
	}
	return clients, choices
}

func (c *Chain) markDown(client *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cl := range c.clients {
		if cl == client {
			if !c.down[i] {
				c.down[i] = true
				metrics.ProviderFallbacks.Inc()
			}
			return
		}
	}
}

func (c *Chain) rememberToolChoice(client *Client, choice ToolChoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cl := range c.clients {
		if cl == client {
			c.toolChoice[i] = choice
			return
		}
	}
}

// Complete runs the request against the chain, retrying and falling through
// providers per the error classification. The returned error is non-nil only
// after every provider is exhausted.
func (c *Chain) Complete(ctx context.Context, req Request) (*Response, error) {
	clients, choices := c.snapshot()
	if len(clients) == 0 {
		return nil, fmt.Errorf("all LLM providers are marked down")
	}

	var lastErr error
	for idx, client := range clients {
		resp, err := c.completeOne(ctx, client, req, choices[idx])
		if err == nil {
			metrics.LLMRequests.WithLabelValues(client.Model(), "ok").Inc()
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		metrics.LLMRequests.WithLabelValues(client.Model(), TypeOf(err).String()).Inc()

		le, isClassified := err.(*Error) //nolint:errorlint // completeOne returns bare *Error
		if isClassified && !le.Retryable() && le.Type != ErrorTypeRateLimit {
			// Auth/bad-request failures are configuration problems; trying
			// the next provider is still worthwhile, retrying this one is not.
			c.logger.Warn("provider %s failed permanently (%s), falling through", client.Model(), le.Type)
		} else {
			c.logger.Warn("provider %s exhausted retries, marking down", client.Model())
		}
		c.markDown(client)
	}

	return nil, fmt.Errorf("all LLM providers failed: %w", lastErr)
}

// completeOne retries a single provider until success, retry exhaustion, or a
// non-retryable error.
func (c *Chain) completeOne(ctx context.Context, client *Client, req Request, choice ToolChoice) (*Response, error) {
	rateLimitLeft := rateLimitRetries
	transientLeft := transientRetries
	protocolLeft := protocolRetries

	attempt := 0
	for {
		req.ToolChoice = choice
		resp, err := client.Complete(ctx, req)
		if err == nil {
			c.rememberToolChoice(client, choice)
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		le, ok := err.(*Error) //nolint:errorlint // Complete returns bare *Error
		if !ok {
			return nil, err
		}

		switch le.Type {
		case ErrorTypeToolChoice:
			if choice == ToolChoiceOmit {
				return nil, le
			}
			choice = choice.Downgrade()
			c.logger.Info("provider %s rejected tool_choice, downgrading and retrying", client.Model())
			metrics.LLMRetries.WithLabelValues("tool_choice").Inc()
			continue

		case ErrorTypeRateLimit:
			if rateLimitLeft == 0 {
				return nil, le
			}
			rateLimitLeft--
			delay := le.RetryAfter
			if delay <= 0 {
				delay = defaultRateLimitDelay
			}
			metrics.LLMRetries.WithLabelValues("rate_limit").Inc()
			c.logger.Info("provider %s rate limited, sleeping %s", client.Model(), delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}

		case ErrorTypeTransient:
			if transientLeft == 0 {
				return nil, le
			}
			transientLeft--
			metrics.LLMRetries.WithLabelValues("transient").Inc()
			if err := c.sleep(ctx, backoffDelay(attempt)); err != nil {
				return nil, err
			}

		case ErrorTypeProtocol:
			if protocolLeft == 0 {
				return nil, le
			}
			protocolLeft--
			metrics.LLMRetries.WithLabelValues("protocol").Inc()

		default:
			return nil, le
		}
		attempt++
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := transientBaseDelay
	for i := 0; i < attempt && delay < maxBackoffDelay; i++ {
		delay *= 2
	}
	if delay > maxBackoffDelay {
		delay = maxBackoffDelay
	}
	return delay
}

// sleepWithJitter sleeps for d plus up to 10% random jitter, honoring ctx.
func sleepWithJitter(ctx context.Context, d time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1)) //nolint:gosec // jitter does not need crypto randomness
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d + jitter):
		return nil
	}
}
