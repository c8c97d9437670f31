// Package manager owns sessions: it routes classified input either to the
// execution coordinator or to a new orchestrated conversation, and keeps the
// store in sync with the in-memory state.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/parsec/internal/classifier"
	"github.com/codefionn/parsec/internal/execution"
	"github.com/codefionn/parsec/internal/lockfile"
	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/orchestrator"
	"github.com/codefionn/parsec/internal/secretdetect"
	"github.com/codefionn/parsec/internal/session"
	"github.com/codefionn/parsec/internal/store"
)

// Orchestrator drives one conversation to a resting state
type Orchestrator interface {
	ProviderName() string
	Run(ctx context.Context, sess *session.Session, conv *session.Conversation, p orchestrator.Prompter) error
	Abort(conv *session.Conversation, reason string) error
}

// ShellRunner executes direct shell input
type ShellRunner interface {
	Run(ctx context.Context, command, workingDir string) (*execution.Result, error)
}

// Options wires the manager's collaborators. Store, Runner and
// Orchestrator are required.
type Options struct {
	Store        store.Store
	Runner       ShellRunner
	Orchestrator Orchestrator
	Classifier   classifier.Classifier
	Names        *session.NameGenerator
	Tools        *execution.ToolDetector
	Projects     execution.ProjectDetector
	Redactor     *secretdetect.Redactor
	// Environ returns the process environment as KEY=VALUE pairs
	Environ func() []string
	// Retention, when set, is applied once per StartOrResume
	Retention *store.RetentionPolicy
	Settings  *session.Settings
	// LockDir holds per-session lock files; empty disables locking
	LockDir string
}

// Outcome reports what Dispatch did with one input
type Outcome struct {
	Kind         classifier.Kind
	Command      *session.DirectCommandExecution
	Changes      []session.EnvironmentChange
	Conversation *session.Conversation
}

// Manager is the entry point for terminal input
type Manager struct {
	opts Options
	log  *logger.Logger

	mu     sync.Mutex
	active map[string]*session.Conversation // session ID -> most recent conversation
	locks  []*lockfile.Lock
}

// New creates a manager
func New(opts Options) *Manager {
	if opts.Classifier == nil {
		opts.Classifier = classifier.NewHeuristicClassifier()
	}
	if opts.Names == nil {
		opts.Names = session.NewNameGenerator(nil)
	}
	if opts.Redactor == nil {
		opts.Redactor = secretdetect.NewRedactor()
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	return &Manager{
		opts:   opts,
		log:    logger.Global().WithPrefix("manager"),
		active: make(map[string]*session.Conversation),
	}
}

// StartOrResume loads the session resumeID, or starts a new one in
// workingDir when resumeID is empty.
func (m *Manager) StartOrResume(ctx context.Context, workingDir, resumeID string) (*session.Session, error) {
	if m.opts.Retention != nil {
		res, err := m.opts.Store.PruneOldContext(ctx, *m.opts.Retention)
		if err != nil {
			m.log.Warn("pruning old context failed: %v", err)
		} else if res.Sessions > 0 || res.Conversations > 0 {
			m.log.Info("pruned %d sessions and %d conversations", res.Sessions, res.Conversations)
		}
	}

	if resumeID != "" {
		sess, err := m.opts.Store.LoadSession(ctx, resumeID)
		if err != nil {
			return nil, fmt.Errorf("resume session %s: %w", resumeID, err)
		}
		if err := m.lock(sess.ID); err != nil {
			return nil, err
		}
		sess.Touch()
		m.saveSession(ctx, sess)
		m.log.Info("resumed session %s with %d conversations", sess.ID, len(sess.ConversationIDs()))
		return sess, nil
	}

	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}
	workingDir, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	info, err := os.Stat(workingDir)
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", workingDir)
	}

	sess := session.NewSession(workingDir)
	if err := m.lock(sess.ID); err != nil {
		return nil, err
	}
	if m.opts.Settings != nil {
		sess.Settings = *m.opts.Settings
	}
	snapshot := m.opts.Redactor.FilterEnvironment(parseEnviron(m.opts.Environ()))

	var tools []string
	if m.opts.Tools != nil {
		if tools, err = m.opts.Tools.Detect(ctx); err != nil {
			m.log.Warn("tool detection failed: %v", err)
		}
	}
	project := m.opts.Projects.Primary(ctx, workingDir)

	sess.UpdateContext(func(g *session.GlobalContext) {
		g.EnvironmentSnapshot = snapshot
		if tools != nil {
			g.ActiveTools = tools
		}
		g.DetectedProjectType = project
	})
	m.saveSession(ctx, sess)
	m.log.Info("started session %s in %s (project %q, %d tools)", sess.ID, workingDir, project, len(tools))
	return sess, nil
}

func (m *Manager) lock(sessionID string) error {
	if m.opts.LockDir == "" {
		return nil
	}
	l := lockfile.ForSession(m.opts.LockDir, sessionID)
	if err := l.TryAcquire(); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	m.mu.Lock()
	m.locks = append(m.locks, l)
	m.mu.Unlock()
	return nil
}

// Close releases the session locks taken by StartOrResume
func (m *Manager) Close() error {
	m.mu.Lock()
	locks := m.locks
	m.locks = nil
	m.mu.Unlock()

	var errs []error
	for _, l := range locks {
		errs = append(errs, l.Release())
	}
	return errors.Join(errs...)
}

// Handle classifies input and dispatches it
func (m *Manager) Handle(ctx context.Context, sess *session.Session, input string, p orchestrator.Prompter) (*Outcome, classifier.Classification, error) {
	c := m.opts.Classifier.Classify(ctx, input)
	m.log.Debug("classified %q as %s (%.2f): %s", input, c.Kind, c.Confidence, c.Reasoning)
	out, err := m.Dispatch(ctx, sess, input, c.Kind, p)
	return out, c, err
}

// Dispatch routes input that was already classified
func (m *Manager) Dispatch(ctx context.Context, sess *session.Session, input string, kind classifier.Kind, p orchestrator.Prompter) (*Outcome, error) {
	sess.Touch()
	defer m.saveSession(context.WithoutCancel(ctx), sess)

	switch kind {
	case classifier.KindShell:
		return m.runShell(ctx, sess, input)
	case classifier.KindPrompt:
		return m.startConversation(ctx, sess, input, p)
	}
	return nil, fmt.Errorf("unknown input kind %q", kind)
}

func (m *Manager) runShell(ctx context.Context, sess *session.Session, input string) (*Outcome, error) {
	out := &Outcome{Kind: classifier.KindShell}
	command := strings.TrimSpace(input)
	if command == "" {
		return out, nil
	}

	gc := sess.Context()
	res, err := m.opts.Runner.Run(ctx, command, gc.WorkingDirectory)
	if err != nil && ctx.Err() != nil {
		return out, ctx.Err()
	}

	rec := session.DirectCommandExecution{
		Command:          command,
		ExecutedAt:       time.Now(),
		ExitStatus:       -1,
		WorkingDirectory: gc.WorkingDirectory,
	}
	if res != nil {
		rec.ExecutedAt = res.StartedAt
		rec.ExitStatus = res.ExitStatus
		rec.Stdout = res.Stdout
		rec.Stderr = res.Stderr
		rec.Duration = res.Duration
	}
	if err != nil {
		var execErr *execution.Error
		if !errors.As(err, &execErr) || execErr.Kind != execution.KindNonZeroExit {
			rec.Error = err.Error()
		}
	}
	sess.AddCommand(rec)
	out.Command = &rec

	if err == nil && res != nil {
		out.Changes = execution.EffectiveChanges(gc, res.Changes)
		sess.ApplyChanges(out.Changes)
	}
	return out, nil
}

func (m *Manager) startConversation(ctx context.Context, sess *session.Session, prompt string, p orchestrator.Prompter) (*Outcome, error) {
	name := m.opts.Names.GenerateName(ctx, prompt)
	conv := session.NewConversation(sess.ID, name, prompt, m.opts.Orchestrator.ProviderName())
	sess.AddConversation(conv.ID)
	sess.SetTitle(name)
	m.log.Info("conversation %s (%q) created in session %s", conv.ID, name, sess.ID)

	err := m.drive(ctx, sess, conv, p)
	return &Outcome{Kind: classifier.KindPrompt, Conversation: conv}, err
}

// Resume continues a conversation that was left in a non-terminal state
func (m *Manager) Resume(ctx context.Context, sess *session.Session, conv *session.Conversation, p orchestrator.Prompter) error {
	if conv.Status().IsTerminal() {
		return fmt.Errorf("conversation %s is %s", conv.ID, conv.Status())
	}
	sess.Touch()
	defer m.saveSession(context.WithoutCancel(ctx), sess)
	return m.drive(ctx, sess, conv, p)
}

func (m *Manager) drive(ctx context.Context, sess *session.Session, conv *session.Conversation, p orchestrator.Prompter) error {
	m.mu.Lock()
	m.active[sess.ID] = conv
	m.mu.Unlock()

	m.saveConversation(ctx, conv)
	err := m.opts.Orchestrator.Run(ctx, sess, conv, p)
	m.saveConversation(context.WithoutCancel(ctx), conv)
	return err
}

// Unfinished returns the session's conversations that can still be resumed
func (m *Manager) Unfinished(ctx context.Context, sess *session.Session) ([]*session.Conversation, error) {
	var out []*session.Conversation
	for _, id := range sess.ConversationIDs() {
		conv, err := m.opts.Store.LoadConversation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !conv.Status().IsTerminal() {
			out = append(out, conv)
		}
	}
	return out, nil
}

// Current returns the conversation most recently dispatched in the session
func (m *Manager) Current(sess *session.Session) *session.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[sess.ID]
}

// Status renders the status line of the current conversation
func (m *Manager) Status(sess *session.Session) string {
	conv := m.Current(sess)
	if conv == nil {
		return "No active conversation | Provider: " + m.opts.Orchestrator.ProviderName()
	}
	return orchestrator.StatusLine(conv)
}

// Abort aborts the current conversation of the session, if any
func (m *Manager) Abort(ctx context.Context, sess *session.Session, reason string) error {
	conv := m.Current(sess)
	if conv == nil {
		return nil
	}
	if err := m.opts.Orchestrator.Abort(conv, reason); err != nil {
		return err
	}
	m.saveConversation(ctx, conv)
	return nil
}

// Sessions lists stored sessions, newest first
func (m *Manager) Sessions(ctx context.Context) ([]session.Summary, error) {
	return m.opts.Store.ListSessions(ctx)
}

// Save flushes the session and its current conversation
func (m *Manager) Save(ctx context.Context, sess *session.Session) {
	m.saveSession(ctx, sess)
	if conv := m.Current(sess); conv != nil {
		m.saveConversation(ctx, conv)
	}
}

// Store failures never discard in-memory state.
func (m *Manager) saveSession(ctx context.Context, sess *session.Session) {
	if err := m.opts.Store.SaveSession(ctx, sess); err != nil {
		m.log.Warn("saving session %s failed (%s): %v", sess.ID, store.KindOf(err), err)
	}
}

func (m *Manager) saveConversation(ctx context.Context, conv *session.Conversation) {
	if err := m.opts.Store.SaveConversation(ctx, conv); err != nil {
		m.log.Warn("saving conversation %s failed (%s): %v", conv.ID, store.KindOf(err), err)
	}
}

func parseEnviron(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}
