package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codefionn/parsec/internal/session"
)

type sessionRecord struct {
	summary session.Summary
	data    []byte
}

type conversationRecord struct {
	sessionID string
	status    string
	updatedAt time.Time
	data      []byte
}

// MemoryStore keeps serialized copies in memory. It is used when
// persistence is disabled and in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]sessionRecord
	conversations map[string]conversationRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]sessionRecord),
		conversations: make(map[string]conversationRecord),
	}
}

func (m *MemoryStore) SaveSession(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return serialization("save session", err)
	}
	summary := sess.Summary()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[summary.ID] = sessionRecord{summary: summary, data: data}
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	rec, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	var sess session.Session
	if err := json.Unmarshal(rec.data, &sess); err != nil {
		return nil, serialization("load session", err)
	}
	return &sess, nil
}

func (m *MemoryStore) SaveConversation(ctx context.Context, conv *session.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return serialization("save conversation", err)
	}
	var rec conversationRecord
	conv.View(func(c *session.Conversation) {
		rec = conversationRecord{sessionID: c.SessionID, status: string(c.State), updatedAt: c.UpdatedAt, data: data}
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = rec
	return nil
}

func (m *MemoryStore) LoadConversation(ctx context.Context, id string) (*session.Conversation, error) {
	m.mu.RLock()
	rec, ok := m.conversations[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	var conv session.Conversation
	if err := json.Unmarshal(rec.data, &conv); err != nil {
		return nil, serialization("load conversation", err)
	}
	return &conv, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]session.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]session.Summary, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.summary)
	}
	sortSummaries(out)
	return out, nil
}

func (m *MemoryStore) PruneOldContext(ctx context.Context, policy RetentionPolicy) (PruneResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summaries := make([]session.Summary, 0, len(m.sessions))
	for _, rec := range m.sessions {
		summaries = append(summaries, rec.summary)
	}
	doomed := expiredSessions(summaries, policy)

	var res PruneResult
	for id := range doomed {
		delete(m.sessions, id)
		res.Sessions++
	}

	now := policy.now()
	for id, rec := range m.conversations {
		expired := policy.ConversationMaxAge > 0 && isTerminal(rec.status) && now.Sub(rec.updatedAt) > policy.ConversationMaxAge
		if doomed[rec.sessionID] || expired {
			delete(m.conversations, id)
			res.Conversations++
		}
	}
	return res, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

func sortSummaries(s []session.Summary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].LastActive.Equal(s[j].LastActive) {
			return s[i].LastActive.After(s[j].LastActive)
		}
		return s[i].ID > s[j].ID
	})
}

// expiredSessions applies the age and count rules to summaries
func expiredSessions(summaries []session.Summary, policy RetentionPolicy) map[string]bool {
	sortSummaries(summaries)
	now := policy.now()
	doomed := make(map[string]bool)
	for i, s := range summaries {
		if policy.SessionMaxAge > 0 && now.Sub(s.LastActive) > policy.SessionMaxAge {
			doomed[s.ID] = true
		}
		if policy.MaxSessions > 0 && i >= policy.MaxSessions {
			doomed[s.ID] = true
		}
	}
	return doomed
}

var _ Store = (*MemoryStore)(nil)
