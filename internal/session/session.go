package session

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/codefionn/parsec/internal/consts"
)

// GlobalContext is the environment shared by every conversation in a session
type GlobalContext struct {
	WorkingDirectory    string            `json:"working_directory"`
	EnvironmentSnapshot map[string]string `json:"environment_snapshot"`
	DetectedProjectType string            `json:"detected_project_type,omitempty"`
	ActiveTools         []string          `json:"active_tools"`
}

// Clone returns a deep copy
func (g GlobalContext) Clone() GlobalContext {
	env := make(map[string]string, len(g.EnvironmentSnapshot))
	for k, v := range g.EnvironmentSnapshot {
		env[k] = v
	}
	g.EnvironmentSnapshot = env
	g.ActiveTools = append([]string(nil), g.ActiveTools...)
	return g
}

// HasTool reports whether name is among the active tools
func (g GlobalContext) HasTool(name string) bool {
	for _, t := range g.ActiveTools {
		if t == name {
			return true
		}
	}
	return false
}

// DirectCommandExecution is an immutable record of a shell input run outside a conversation
type DirectCommandExecution struct {
	Command          string        `json:"command"`
	ExecutedAt       time.Time     `json:"executed_at"`
	ExitStatus       int           `json:"exit_status"`
	Stdout           TruncatedText `json:"stdout"`
	Stderr           TruncatedText `json:"stderr"`
	WorkingDirectory string        `json:"working_directory"`
	Duration         time.Duration `json:"duration"`
	Error            string        `json:"error,omitempty"`
}

// Settings holds per-session behaviour switches
type Settings struct {
	MaxConversationHistory          int     `json:"max_conversation_history"`
	ContextRetentionDays            int     `json:"context_retention_days"`
	EnableCrossConversationLearning bool    `json:"enable_cross_conversation_learning"`
	ContextCompressionThreshold     float64 `json:"context_compression_threshold"`
	PrivacyMode                     bool    `json:"privacy_mode"`
}

// DefaultSettings returns the settings new sessions start with
func DefaultSettings() Settings {
	return Settings{
		MaxConversationHistory:          consts.MaxHistoryEntries,
		ContextRetentionDays:            consts.ContextRetentionDays,
		EnableCrossConversationLearning: true,
		ContextCompressionThreshold:     consts.CompressionThreshold,
		PrivacyMode:                     false,
	}
}

// Session is the top-level container for one continuous run
type Session struct {
	ID             string                   `json:"id"`
	Title          string                   `json:"title,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	LastActive     time.Time                `json:"last_active"`
	Conversations  []string                 `json:"conversations"`
	CommandHistory []DirectCommandExecution `json:"command_history"`
	GlobalContext  GlobalContext            `json:"global_context"`
	Settings       Settings                 `json:"settings"`
	Digests        []ConversationDigest     `json:"digests"`

	mu sync.RWMutex
}

// NewSession creates a new session rooted at workingDir
func NewSession(workingDir string) *Session {
	now := time.Now()
	return &Session{
		ID:             GenerateID(),
		CreatedAt:      now,
		LastActive:     now,
		Conversations:  make([]string, 0),
		CommandHistory: make([]DirectCommandExecution, 0),
		GlobalContext: GlobalContext{
			WorkingDirectory:    workingDir,
			EnvironmentSnapshot: make(map[string]string),
			ActiveTools:         make([]string, 0),
		},
		Settings: DefaultSettings(),
		Digests:  make([]ConversationDigest, 0),
	}
}

// Touch updates LastActive
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActive = time.Now()
}

// SetTitle names the session unless it already has a title
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Title == "" {
		s.Title = title
	}
}

// AddConversation appends a conversation ID
func (s *Session) AddConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Conversations = append(s.Conversations, id)
	s.LastActive = time.Now()
}

// ConversationIDs returns a copy of the conversation list
func (s *Session) ConversationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.Conversations...)
}

// AddCommand appends a direct execution record. The history is an audit
// trail and is never trimmed; readers window it with RecentCommands.
func (s *Session) AddCommand(rec DirectCommandExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommandHistory = append(s.CommandHistory, rec)
}

// RecentCommands returns up to n most recent direct executions, oldest
// first. n <= 0 returns the whole history.
func (s *Session) RecentCommands(n int) []DirectCommandExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && len(s.CommandHistory) > n {
		start = len(s.CommandHistory) - n
	}
	return append([]DirectCommandExecution(nil), s.CommandHistory[start:]...)
}

// Context returns a copy of the global context
func (s *Session) Context() GlobalContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.GlobalContext.Clone()
}

// UpdateContext mutates the global context under the session lock
func (s *Session) UpdateContext(fn func(g *GlobalContext)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GlobalContext.EnvironmentSnapshot == nil {
		s.GlobalContext.EnvironmentSnapshot = make(map[string]string)
	}
	fn(&s.GlobalContext)
}

// ApplyChanges merges environment changes into the global context
func (s *Session) ApplyChanges(changes []EnvironmentChange) {
	s.UpdateContext(func(g *GlobalContext) {
		for _, ch := range changes {
			switch ch.Kind {
			case ChangeWorkingDir:
				g.WorkingDirectory = ch.New
			case ChangeEnvVar:
				g.EnvironmentSnapshot[ch.Key] = ch.New
			case ChangeTool:
				if !g.HasTool(ch.New) {
					g.ActiveTools = append(g.ActiveTools, ch.New)
					sort.Strings(g.ActiveTools)
				}
			case ChangeProjectType:
				g.DetectedProjectType = ch.New
			}
		}
	})
}

// AddDigest records a finished conversation for cross-conversation learning
func (s *Session) AddDigest(d ConversationDigest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Digests = append(s.Digests, d)
	if limit := s.Settings.MaxConversationHistory; limit > 0 && len(s.Digests) > limit {
		s.Digests = append([]ConversationDigest(nil), s.Digests[len(s.Digests)-limit:]...)
	}
}

// RecentDigests returns the stored digests when cross-conversation
// learning is enabled, newest last.
func (s *Session) RecentDigests() []ConversationDigest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.Settings.EnableCrossConversationLearning {
		return nil
	}
	return append([]ConversationDigest(nil), s.Digests...)
}

// SettingsSnapshot returns a copy of the settings
func (s *Session) SettingsSnapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Settings
}

// Summary returns lightweight listing information
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:                s.ID,
		Title:             s.Title,
		WorkingDirectory:  s.GlobalContext.WorkingDirectory,
		CreatedAt:         s.CreatedAt,
		LastActive:        s.LastActive,
		ConversationCount: len(s.Conversations),
		CommandCount:      len(s.CommandHistory),
	}
}

// Summary contains lightweight session information for listing
type Summary struct {
	ID                string    `json:"id"`
	Title             string    `json:"title,omitempty"`
	WorkingDirectory  string    `json:"working_directory"`
	CreatedAt         time.Time `json:"created_at"`
	LastActive        time.Time `json:"last_active"`
	ConversationCount int       `json:"conversation_count"`
	CommandCount      int       `json:"command_count"`
}

type sessionJSON Session

// MarshalJSON encodes the session under its read lock
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal((*sessionJSON)(s))
}

// UnmarshalJSON decodes into the session
func (s *Session) UnmarshalJSON(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(data, (*sessionJSON)(s)); err != nil {
		return err
	}
	if s.GlobalContext.EnvironmentSnapshot == nil {
		s.GlobalContext.EnvironmentSnapshot = make(map[string]string)
	}
	return nil
}
