package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
)

// Command execution limits
const (
	// MaxCommandOutputBytes caps the captured stdout and stderr of a single command
	MaxCommandOutputBytes = BufferSize64KB
	// CommandTimeout is the hard limit for a single command
	CommandTimeout = 300 * time.Second
	// ArtifactSettleDelay is how long the artifact watcher waits for trailing events
	ArtifactSettleDelay = 150 * time.Millisecond
	// MaxSummaryOutputChars bounds command output copied into execution summaries
	MaxSummaryOutputChars = 2000
)

// LLM default configurations
const (
	// DefaultMaxTokens is the default maximum tokens for LLM responses
	DefaultMaxTokens = 1024
	// DefaultTokenLimit is the context limit assumed when a provider reports none
	DefaultTokenLimit = 32000
	// PlanningBudgetTokens is the default budget for planning requests
	PlanningBudgetTokens = 1500
	// StepBudgetTokens is the default budget for step generation requests
	StepBudgetTokens = 4000
	// NoteReserveTokens is kept free for the aggregate truncation note
	NoteReserveTokens = 64
)

// Timeouts for various operations
const (
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout60Seconds is a 60 second timeout (1 minute)
	Timeout60Seconds = 60 * time.Second
)

// Retry and attempt limits
const (
	// DefaultMaxRetries is the default number of attempts per workflow step
	DefaultMaxRetries = 5
	// ModelCallRetries is how often a timed out or malformed model call is retried
	ModelCallRetries = 1
	// MaxPlanSteps is the largest workflow plan accepted from a model
	MaxPlanSteps = 12
	// RecentExecutions is how many successful executions step context keeps at high priority
	RecentExecutions = 3
)

// Session defaults
const (
	// MaxHistoryEntries is how many recent direct commands and digests feed the model context
	MaxHistoryEntries = 50
	// ContextRetentionDays is the default retention window for stored sessions
	ContextRetentionDays = 30
	// CompressionThreshold is the share of a budget at which context is summarised
	CompressionThreshold = 0.8
)
