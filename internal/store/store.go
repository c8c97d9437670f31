// Package store persists sessions and conversations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/parsec/internal/session"
)

// ErrNotFound is returned when a session or conversation does not exist
var ErrNotFound = errors.New("not found")

// Kind classifies a store failure
type Kind string

const (
	KindStoreUnavailable     Kind = "store_unavailable"
	KindSerializationFailure Kind = "serialization_failure"
)

// Error wraps every backend failure
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a store error, or "" for other errors
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}

func unavailable(op string, err error) error {
	return &Error{Kind: KindStoreUnavailable, Op: op, Err: err}
}

func serialization(op string, err error) error {
	return &Error{Kind: KindSerializationFailure, Op: op, Err: err}
}

// Store is the persistence interface consumed by the session manager
type Store interface {
	SaveSession(ctx context.Context, sess *session.Session) error
	LoadSession(ctx context.Context, id string) (*session.Session, error)
	SaveConversation(ctx context.Context, conv *session.Conversation) error
	LoadConversation(ctx context.Context, id string) (*session.Conversation, error)
	// ListSessions returns summaries, most recently active first
	ListSessions(ctx context.Context) ([]session.Summary, error)
	PruneOldContext(ctx context.Context, policy RetentionPolicy) (PruneResult, error)
	Close() error
}

// RetentionPolicy decides what PruneOldContext removes. Zero fields disable
// the corresponding rule.
type RetentionPolicy struct {
	// SessionMaxAge removes sessions, with their conversations, that were
	// inactive for longer
	SessionMaxAge time.Duration
	// ConversationMaxAge removes terminal conversations last updated before it
	ConversationMaxAge time.Duration
	// MaxSessions keeps only the most recently active sessions
	MaxSessions int
	Now         func() time.Time
}

// PolicyFromDays builds a policy from configuration values
func PolicyFromDays(sessionDays, conversationDays, maxSessions int) RetentionPolicy {
	day := 24 * time.Hour
	return RetentionPolicy{
		SessionMaxAge:      time.Duration(sessionDays) * day,
		ConversationMaxAge: time.Duration(conversationDays) * day,
		MaxSessions:        maxSessions,
	}
}

func (p RetentionPolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// PruneResult counts what was removed
type PruneResult struct {
	Sessions      int
	Conversations int
}

func isTerminal(status string) bool {
	return session.ConversationStatus(status).IsTerminal()
}

// Open returns the store selected by backend ("memory" or "sqlite")
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
