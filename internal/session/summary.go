package session

import "time"

// Artifact is a file or directory produced by an executed command
type Artifact struct {
	Path      string `json:"path"`
	StepIndex int    `json:"step_index"`
	IsDir     bool   `json:"is_dir,omitempty"`
}

// EnvironmentChangeKind identifies what part of the environment changed
type EnvironmentChangeKind string

const (
	ChangeWorkingDir  EnvironmentChangeKind = "working_dir"
	ChangeEnvVar      EnvironmentChangeKind = "env"
	ChangeTool        EnvironmentChangeKind = "tool"
	ChangeProjectType EnvironmentChangeKind = "project_type"
)

// EnvironmentChange is a delta caused by a command
type EnvironmentChange struct {
	Kind      EnvironmentChangeKind `json:"kind"`
	Key       string                `json:"key,omitempty"`
	Old       string                `json:"old,omitempty"`
	New       string                `json:"new"`
	StepIndex int                   `json:"step_index"`
	Command   string                `json:"command,omitempty"`
}

// ContextSummary is derived from a conversation's attempts and never edited directly
type ContextSummary struct {
	KeyAchievements    []string            `json:"key_achievements"`
	GeneratedArtifacts []Artifact          `json:"generated_artifacts"`
	EnvironmentChanges []EnvironmentChange `json:"environment_changes"`
	LearnedPreferences map[string]string   `json:"learned_preferences"`
	SkippedSteps       []string            `json:"skipped_steps"`
	Finalized          bool                `json:"finalized"`
}

// NewContextSummary returns an empty summary
func NewContextSummary() ContextSummary {
	return ContextSummary{
		KeyAchievements:    []string{},
		GeneratedArtifacts: []Artifact{},
		EnvironmentChanges: []EnvironmentChange{},
		LearnedPreferences: map[string]string{},
		SkippedSteps:       []string{},
	}
}

// ArtifactPaths returns artifact paths in the order they were recorded
func (s *ContextSummary) ArtifactPaths() []string {
	paths := make([]string, 0, len(s.GeneratedArtifacts))
	for _, a := range s.GeneratedArtifacts {
		paths = append(paths, a.Path)
	}
	return paths
}

// ConversationDigest carries what later conversations may learn from a finished one
type ConversationDigest struct {
	ConversationID string             `json:"conversation_id"`
	Name           string             `json:"name"`
	Prompt         string             `json:"prompt"`
	Status         ConversationStatus `json:"status"`
	Achievements   []string           `json:"achievements,omitempty"`
	Artifacts      []string           `json:"artifacts,omitempty"`
	Preferences    map[string]string  `json:"preferences,omitempty"`
	EndedAt        time.Time          `json:"ended_at"`
}

// EventType names an audit trail entry
type EventType string

const (
	EventConversationCreated EventType = "conversation_created"
	EventWorkflowPlanned     EventType = "workflow_planned"
	EventWorkflowStarted     EventType = "workflow_started"
	EventCommandSuggested    EventType = "command_suggested"
	EventCommandRejected     EventType = "command_rejected"
	EventCommandExecuted     EventType = "command_executed"
	EventCommandFailed       EventType = "command_failed"
	EventStepCompleted       EventType = "step_completed"
	EventStepSkipped         EventType = "step_skipped"
	EventStepInterrupted     EventType = "step_interrupted"
	EventResponseDiscarded   EventType = "response_discarded"
	EventConversationFailed  EventType = "conversation_failed"
	EventConversationAborted EventType = "conversation_aborted"
	EventConversationDone    EventType = "conversation_finished"
)

// Event is one entry of a conversation's audit trail
type Event struct {
	Type      EventType         `json:"type"`
	StepIndex int               `json:"step_index"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// FailureRecord keeps the error that ended a conversation
type FailureRecord struct {
	Op        string    `json:"op"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw,omitempty"`
	StepIndex int       `json:"step_index"`
	At        time.Time `json:"at"`
}
