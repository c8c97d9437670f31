package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []time.Time
}

func (f *fakeClient) recordCall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, time.Now())
}

func (f *fakeClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	f.recordCall()
	return &CompletionResponse{Content: "ok"}, nil
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	f.recordCall()
	return "ok", nil
}

func (f *fakeClient) GetModelName() string {
	return "fake"
}

func (f *fakeClient) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]time.Time, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func TestRateLimitedClientEnforcesInterval(t *testing.T) {
	base := &fakeClient{}
	const interval = 50 * time.Millisecond
	client := NewRateLimitedClient(base, interval, 0)

	ctx := context.Background()
	if _, err := client.Complete(ctx, "first"); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}
	if _, err := client.CompleteWithRequest(ctx, &CompletionRequest{Messages: []*Message{{Role: "user", Content: "second"}}}); err != nil {
		t.Fatalf("second completion failed: %v", err)
	}

	calls := base.callTimes()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if gap := calls[1].Sub(calls[0]); gap < interval-5*time.Millisecond {
		t.Fatalf("expected calls spaced by at least %v, got %v", interval, gap)
	}
}

func TestRateLimitedClientRespectsContext(t *testing.T) {
	base := &fakeClient{}
	client := NewRateLimitedClient(base, time.Hour, 0)

	if _, err := client.Complete(context.Background(), "first"); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, "second")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := len(base.callTimes()); got != 1 {
		t.Fatalf("expected 1 delegated call, got %d", got)
	}
}

func TestNewRateLimitedClientPassthrough(t *testing.T) {
	base := &fakeClient{}
	if got := NewRateLimitedClient(base, 0, 0); got != Client(base) {
		t.Fatalf("expected unwrapped client when no limits are set")
	}
}

func TestIntervalForRPM(t *testing.T) {
	if got := IntervalForRPM(60); got != time.Second {
		t.Fatalf("IntervalForRPM(60) = %v, want 1s", got)
	}
	if got := IntervalForRPM(0); got != 0 {
		t.Fatalf("IntervalForRPM(0) = %v, want 0", got)
	}
}

func TestTrimCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding space", "  \n```json\n{}\n```\n ", `{}`},
		{"prose before fence", "Here:\n```json\n{}\n```", "Here:\n```json\n{}\n```"},
		{"two fences", "```\n{}\n```\n```\n{}\n```", "```\n{}\n```\n```\n{}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimCodeFence(tt.input); got != tt.want {
				t.Errorf("TrimCodeFence() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokenCount(tt.input); got != tt.want {
			t.Errorf("EstimateTokenCount(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeGoogleModelName(t *testing.T) {
	tests := map[string]string{
		"":                    defaultGoogleModel,
		"gemini-2.5-pro":      "models/gemini-2.5-pro",
		"models/gemini-2.5":   "models/gemini-2.5",
		"publishers/google/x": "publishers/google/x",
	}
	for in, want := range tests {
		if got := normalizeGoogleModelName(in); got != want {
			t.Errorf("normalizeGoogleModelName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClientConstructorsRequireKeys(t *testing.T) {
	if _, err := NewAnthropicClient("", "", ""); err == nil {
		t.Error("expected error for missing anthropic key")
	}
	if _, err := NewOpenAIClient("", "", ""); err == nil {
		t.Error("expected error for missing openai key")
	}
	if _, err := NewOpenAIClient("", "llama3", "http://localhost:11434/v1"); err != nil {
		t.Errorf("local endpoint should not require a key: %v", err)
	}
	if _, err := NewGoogleAIClient(context.Background(), "", ""); err == nil {
		t.Error("expected error for missing google key")
	}
}

func TestConvertMessagesToOpenAI(t *testing.T) {
	msgs := convertMessagesToOpenAI(&CompletionRequest{
		SystemPrompt: "sys",
		Messages: []*Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "   "},
			nil,
		},
	})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
}
