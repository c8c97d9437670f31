package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	working_dir TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_active INTEGER NOT NULL,
	conversation_count INTEGER NOT NULL DEFAULT 0,
	command_count INTEGER NOT NULL DEFAULT 0,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);
CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);
`

// SQLiteStore keeps sessions and conversations as JSON documents in SQLite,
// with the listing and retention columns extracted.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logger.Logger
}

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, unavailable("open", fmt.Errorf("failed to create database directory: %w", err))
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, unavailable("open", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, unavailable("migrate", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath, log: logger.Global().WithPrefix("store")}, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string { return s.dbPath }

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return serialization("save session", err)
	}
	sum := sess.Summary()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, working_dir, created_at, last_active, conversation_count, command_count, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			working_dir = excluded.working_dir,
			last_active = excluded.last_active,
			conversation_count = excluded.conversation_count,
			command_count = excluded.command_count,
			data = excluded.data`,
		sum.ID, sum.Title, sum.WorkingDirectory, sum.CreatedAt.UnixNano(), sum.LastActive.UnixNano(),
		sum.ConversationCount, sum.CommandCount, string(data))
	if err != nil {
		return unavailable("save session", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("load session", err)
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, serialization("load session", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *session.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return serialization("save conversation", err)
	}
	var (
		sessionID string
		status    string
		updatedAt time.Time
	)
	conv.View(func(c *session.Conversation) {
		sessionID, status, updatedAt = c.SessionID, string(c.State), c.UpdatedAt
	})

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, session_id, status, updated_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data`,
		conv.ID, sessionID, status, updatedAt.UnixNano(), string(data))
	if err != nil {
		return unavailable("save conversation", err)
	}
	return nil
}

func (s *SQLiteStore) LoadConversation(ctx context.Context, id string) (*session.Conversation, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM conversations WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("load conversation", err)
	}

	var conv session.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, serialization("load conversation", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]session.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, working_dir, created_at, last_active, conversation_count, command_count
		FROM sessions ORDER BY last_active DESC, id DESC`)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		var (
			sum               session.Summary
			created, lastSeen int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.WorkingDirectory, &created, &lastSeen, &sum.ConversationCount, &sum.CommandCount); err != nil {
			return nil, unavailable("list sessions", err)
		}
		sum.CreatedAt = time.Unix(0, created)
		sum.LastActive = time.Unix(0, lastSeen)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list sessions", err)
	}
	return out, nil
}

func (s *SQLiteStore) PruneOldContext(ctx context.Context, policy RetentionPolicy) (PruneResult, error) {
	summaries, err := s.ListSessions(ctx)
	if err != nil {
		return PruneResult{}, err
	}
	doomed := expiredSessions(summaries, policy)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PruneResult{}, unavailable("prune", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res PruneResult
	if len(doomed) > 0 {
		ids := make([]any, 0, len(doomed))
		for id := range doomed {
			ids = append(ids, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

		r, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id IN (`+placeholders+`)`, ids...)
		if err != nil {
			return PruneResult{}, unavailable("prune", err)
		}
		n, _ := r.RowsAffected()
		res.Conversations += int(n)

		r, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id IN (`+placeholders+`)`, ids...)
		if err != nil {
			return PruneResult{}, unavailable("prune", err)
		}
		n, _ = r.RowsAffected()
		res.Sessions += int(n)
	}

	if policy.ConversationMaxAge > 0 {
		cutoff := policy.now().Add(-policy.ConversationMaxAge).UnixNano()
		r, err := tx.ExecContext(ctx, `
			DELETE FROM conversations
			WHERE updated_at < ? AND status IN (?, ?, ?)`,
			cutoff, string(session.StatusFinished), string(session.StatusAborted), string(session.StatusError))
		if err != nil {
			return PruneResult{}, unavailable("prune", err)
		}
		n, _ := r.RowsAffected()
		res.Conversations += int(n)
	}

	if err := tx.Commit(); err != nil {
		return PruneResult{}, unavailable("prune", err)
	}
	s.log.Info("pruned %d sessions and %d conversations", res.Sessions, res.Conversations)
	return res, nil
}

var _ Store = (*SQLiteStore)(nil)
