package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text in model tokens
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter
type TokenCounterFunc func(text string) int

// Count implements TokenCounter
func (f TokenCounterFunc) Count(text string) int { return f(text) }

// EstimateTokenCount returns a rough token estimate for the provided content.
func EstimateTokenCount(content string) int {
	return charsToTokens(utf8.RuneCountInString(content))
}

// HeuristicCounter counts roughly four characters per token
var HeuristicCounter TokenCounter = TokenCounterFunc(EstimateTokenCount)

func charsToTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

// TiktokenCounter counts with the encoding of a model, falling back to
// cl100k_base for unknown models and to the heuristic when no encoding
// can be loaded.
type TiktokenCounter struct {
	modelID string

	once    sync.Once
	encoder *tiktoken.Tiktoken
	approx  bool
}

// NewTiktokenCounter creates a counter for modelID. Encodings load lazily.
func NewTiktokenCounter(modelID string) *TiktokenCounter {
	return &TiktokenCounter{modelID: modelID}
}

func (c *TiktokenCounter) load() {
	c.once.Do(func() {
		encoder, err := tiktoken.EncodingForModel(c.modelID)
		if err == nil {
			c.encoder = encoder
			return
		}
		c.approx = true
		if fallback, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.encoder = fallback
		}
	})
}

// Count implements TokenCounter
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.load()
	if c.encoder == nil {
		return EstimateTokenCount(text)
	}
	return len(c.encoder.Encode(text, nil, nil))
}

// Approximate reports whether counts come from a fallback encoding
func (c *TiktokenCounter) Approximate() bool {
	c.load()
	return c.approx
}
