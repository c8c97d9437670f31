package llm

import (
	"context"
	"sync"
	"time"
)

const (
	defaultResponseTokenEstimate = 512
	minTokenEstimate             = 8
)

// rateLimitedClient wraps another Client and enforces request and token-based throttling.
type rateLimitedClient struct {
	delegate     Client
	interval     time.Duration
	mu           sync.Mutex
	nextAllowed  time.Time
	tokenMu      sync.Mutex
	nextToken    time.Time
	tokensPerMin int
}

// NewRateLimitedClient returns a Client that spaces calls at least interval
// apart and, when tokensPerMinute is set, paces them by estimated tokens.
func NewRateLimitedClient(base Client, interval time.Duration, tokensPerMinute int) Client {
	if base == nil {
		return base
	}
	if interval <= 0 && tokensPerMinute <= 0 {
		return base
	}
	return &rateLimitedClient{
		delegate:     base,
		interval:     interval,
		tokensPerMin: tokensPerMinute,
	}
}

// IntervalForRPM converts a requests-per-minute limit into a spacing interval
func IntervalForRPM(rpm int) time.Duration {
	if rpm <= 0 {
		return 0
	}
	return time.Minute / time.Duration(rpm)
}

func (c *rateLimitedClient) wait(ctx context.Context, tokens int) error {
	if err := c.waitInterval(ctx); err != nil {
		return err
	}
	return c.waitTokens(ctx, tokens)
}

func (c *rateLimitedClient) waitInterval(ctx context.Context) error {
	if c.interval <= 0 {
		return nil
	}

	for {
		c.mu.Lock()
		now := time.Now()
		if c.nextAllowed.IsZero() || !now.Before(c.nextAllowed) {
			c.nextAllowed = now.Add(c.interval)
			c.mu.Unlock()
			return nil
		}

		wait := time.Until(c.nextAllowed)
		c.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *rateLimitedClient) waitTokens(ctx context.Context, tokens int) error {
	if c.tokensPerMin <= 0 || tokens <= 0 {
		return nil
	}

	delay := time.Duration(float64(time.Minute) * float64(tokens) / float64(c.tokensPerMin))

	c.tokenMu.Lock()
	start := time.Now()
	if c.nextToken.Before(start) {
		c.nextToken = start
	}
	waitUntil := c.nextToken
	c.nextToken = c.nextToken.Add(delay)
	c.tokenMu.Unlock()

	if waitUntil.After(start) {
		return sleepCtx(ctx, waitUntil.Sub(start))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *rateLimitedClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.wait(ctx, estimateTokens(prompt, 0)); err != nil {
		return "", err
	}
	return c.delegate.Complete(ctx, prompt)
}

func (c *rateLimitedClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var text string
	maxTokens := 0
	if req != nil {
		text = req.SystemPrompt
		for _, msg := range req.Messages {
			if msg != nil {
				text += msg.Content
			}
		}
		maxTokens = req.MaxTokens
	}
	if err := c.wait(ctx, estimateTokens(text, maxTokens)); err != nil {
		return nil, err
	}
	return c.delegate.CompleteWithRequest(ctx, req)
}

func (c *rateLimitedClient) GetModelName() string {
	return c.delegate.GetModelName()
}

func estimateTokens(prompt string, maxTokens int) int {
	estimated := EstimateTokenCount(prompt)
	if estimated < minTokenEstimate {
		estimated = minTokenEstimate
	}
	if maxTokens > 0 {
		return estimated + maxTokens
	}
	return estimated + defaultResponseTokenEstimate
}
