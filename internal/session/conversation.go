package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrPlanAlreadySet is returned when a second plan is assigned to a conversation
var ErrPlanAlreadySet = errors.New("workflow plan already set")

// Conversation is one workflow instance created from a single prompt.
//
// Fields are exported for persistence. Code that runs concurrently with
// the orchestrator (abort, status display) goes through Status, View and
// Update, which hold the conversation lock. Methods documented as
// "lock held" must only be called from inside Update or View.
type Conversation struct {
	ID          string               `json:"id"`
	SessionID   string               `json:"session_id"`
	Name        string               `json:"name"`
	Prompt      string               `json:"prompt"`
	State       ConversationStatus   `json:"status"`
	Plan        *WorkflowPlan        `json:"plan,omitempty"`
	Steps       []*WorkflowStepState `json:"steps"`
	CurrentStep int                  `json:"current_step"`
	Summary     ContextSummary       `json:"summary"`
	Provider    string               `json:"provider"`
	History     []Event              `json:"history"`
	Failure     *FailureRecord       `json:"failure,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`

	mu sync.RWMutex
}

// NewConversation creates a conversation in the planning state
func NewConversation(sessionID, name, prompt, provider string) *Conversation {
	now := time.Now()
	c := &Conversation{
		ID:        GenerateID(),
		SessionID: sessionID,
		Name:      name,
		Prompt:    prompt,
		State:     StatusPlanning,
		Steps:     make([]*WorkflowStepState, 0),
		Summary:   NewContextSummary(),
		Provider:  provider,
		History:   make([]Event, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.AddEvent(EventConversationCreated, -1, map[string]string{"prompt": prompt})
	return c
}

// Status returns the current conversation status
func (c *Conversation) Status() ConversationStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.State
}

// View runs fn with the read lock held
func (c *Conversation) View(fn func(c *Conversation)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c)
}

// Update runs fn with the write lock held
func (c *Conversation) Update(fn func(c *Conversation) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now()
	return nil
}

// TransitionTo changes the conversation status if the edge exists (lock held).
func (c *Conversation) TransitionTo(to ConversationStatus) error {
	if !CanTransition(c.State, to) {
		return &TransitionError{Subject: "conversation", From: string(c.State), To: string(to)}
	}
	c.State = to
	return nil
}

// SetPlan stores the plan and creates one pending state per step (lock held).
func (c *Conversation) SetPlan(plan *WorkflowPlan) error {
	if c.Plan != nil {
		return ErrPlanAlreadySet
	}
	c.Plan = plan
	c.Steps = make([]*WorkflowStepState, len(plan.Steps))
	for i, step := range plan.Steps {
		c.Steps[i] = &WorkflowStepState{
			Step:     step,
			Status:   StepPending,
			Attempts: make([]*CommandAttempt, 0),
		}
	}
	c.CurrentStep = 0
	return nil
}

// AddEvent appends to the audit trail (lock held)
func (c *Conversation) AddEvent(t EventType, stepIndex int, details map[string]string) {
	c.History = append(c.History, Event{
		Type:      t,
		StepIndex: stepIndex,
		Timestamp: time.Now(),
		Details:   details,
	})
}

// CurrentStepState returns the state of the current step or nil (lock held)
func (c *Conversation) CurrentStepState() *WorkflowStepState {
	if c.CurrentStep < 0 || c.CurrentStep >= len(c.Steps) {
		return nil
	}
	return c.Steps[c.CurrentStep]
}

// AllStepsResolved reports whether every step is complete or skipped (lock held)
func (c *Conversation) AllStepsResolved() bool {
	if len(c.Steps) == 0 {
		return false
	}
	for _, s := range c.Steps {
		if !s.Status.IsResolved() {
			return false
		}
	}
	return true
}

// LastCompleteStep returns the index of the last complete step, or -1 (lock held)
func (c *Conversation) LastCompleteStep() int {
	for i := len(c.Steps) - 1; i >= 0; i-- {
		if c.Steps[i].Status == StepComplete {
			return i
		}
	}
	return -1
}

// Digest summarises the conversation for later ones (lock held)
func (c *Conversation) Digest() ConversationDigest {
	prefs := make(map[string]string, len(c.Summary.LearnedPreferences))
	for k, v := range c.Summary.LearnedPreferences {
		prefs[k] = v
	}
	return ConversationDigest{
		ConversationID: c.ID,
		Name:           c.Name,
		Prompt:         c.Prompt,
		Status:         c.State,
		Achievements:   append([]string(nil), c.Summary.KeyAchievements...),
		Artifacts:      c.Summary.ArtifactPaths(),
		Preferences:    prefs,
		EndedAt:        c.UpdatedAt,
	}
}

type conversationJSON Conversation

// MarshalJSON encodes the conversation under its read lock
func (c *Conversation) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal((*conversationJSON)(c))
}

// UnmarshalJSON decodes into the conversation
func (c *Conversation) UnmarshalJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := json.Unmarshal(data, (*conversationJSON)(c)); err != nil {
		return err
	}
	if c.Summary.LearnedPreferences == nil {
		c.Summary.LearnedPreferences = map[string]string{}
	}
	return nil
}
