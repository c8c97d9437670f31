package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/parsec/internal/approval"
	"github.com/codefionn/parsec/internal/classifier"
	"github.com/codefionn/parsec/internal/execution"
	"github.com/codefionn/parsec/internal/lockfile"
	"github.com/codefionn/parsec/internal/orchestrator"
	"github.com/codefionn/parsec/internal/session"
	"github.com/codefionn/parsec/internal/store"
)

type fakeRunner struct {
	results map[string]*execution.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, command, dir string) (*execution.Result, error) {
	f.calls = append(f.calls, command+"@"+dir)
	return f.results[command], f.errs[command]
}

type fakeOrchestrator struct {
	runs    []string
	aborted []string
	runErr  error
}

func (f *fakeOrchestrator) ProviderName() string { return "fake" }

func (f *fakeOrchestrator) Run(ctx context.Context, sess *session.Session, conv *session.Conversation, p orchestrator.Prompter) error {
	f.runs = append(f.runs, conv.ID)
	if f.runErr != nil {
		return f.runErr
	}
	return conv.Update(func(c *session.Conversation) error {
		return c.TransitionTo(session.StatusReady)
	})
}

func (f *fakeOrchestrator) Abort(conv *session.Conversation, reason string) error {
	f.aborted = append(f.aborted, conv.ID)
	return conv.Update(func(c *session.Conversation) error {
		return c.TransitionTo(session.StatusAborted)
	})
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) SaveSession(ctx context.Context, sess *session.Session) error {
	return &store.Error{Kind: store.KindStoreUnavailable, Op: "save session", Err: errors.New("disk full")}
}

type nopPrompter struct{}

func (nopPrompter) Choose(context.Context, *approval.Review) (approval.Choice, error) {
	return approval.ChoiceAbort, nil
}
func (nopPrompter) ConfirmDestructive(context.Context, *approval.Review) (bool, error) {
	return false, nil
}
func (nopPrompter) Recover(context.Context, *approval.FailureReview) (approval.Choice, error) {
	return approval.ChoiceAbort, nil
}
func (nopPrompter) ConfirmPlan(context.Context, string, session.WorkflowPlan) (bool, error) {
	return false, nil
}

func newTestManager(t *testing.T, st store.Store, runner ShellRunner, orch Orchestrator) *Manager {
	t.Helper()
	return New(Options{
		Store:        st,
		Runner:       runner,
		Orchestrator: orch,
		Tools: &execution.ToolDetector{
			Tools: []string{"cargo", "git", "docker"},
			LookPath: func(name string) (string, error) {
				if name == "docker" {
					return "", errors.New("not found")
				}
				return "/usr/bin/" + name, nil
			},
		},
		Environ: func() []string {
			return []string{"HOME=/home/dev", "SHELL=/bin/bash", "GITHUB_TOKEN=ghp_secret", "BROKEN"}
		},
	})
}

func TestStartPopulatesGlobalContext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\n"), 0o644))

	st := store.NewMemoryStore()
	m := newTestManager(t, st, &fakeRunner{}, &fakeOrchestrator{})

	sess, err := m.StartOrResume(context.Background(), dir, "")
	require.NoError(t, err)

	gc := sess.Context()
	assert.Equal(t, dir, gc.WorkingDirectory)
	assert.Equal(t, "rust", gc.DetectedProjectType)
	assert.Equal(t, []string{"cargo", "git"}, gc.ActiveTools)
	assert.Equal(t, "/home/dev", gc.EnvironmentSnapshot["HOME"])
	assert.NotContains(t, gc.EnvironmentSnapshot, "GITHUB_TOKEN")
	assert.NotContains(t, gc.EnvironmentSnapshot, "BROKEN")

	_, err = st.LoadSession(context.Background(), sess.ID)
	assert.NoError(t, err)
}

func TestStartRejectsMissingDirectory(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(), &fakeRunner{}, &fakeOrchestrator{})
	_, err := m.StartOrResume(context.Background(), filepath.Join(t.TempDir(), "nope"), "")
	assert.Error(t, err)
}

func TestResumeLoadsStoredSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := newTestManager(t, st, &fakeRunner{}, &fakeOrchestrator{})

	first, err := m.StartOrResume(ctx, t.TempDir(), "")
	require.NoError(t, err)

	again, err := m.StartOrResume(ctx, "", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = m.StartOrResume(ctx, "", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionLockPreventsConcurrentUse(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	locks := t.TempDir()
	opts := Options{Store: st, Runner: &fakeRunner{}, Orchestrator: &fakeOrchestrator{}, LockDir: locks}

	first := New(opts)
	sess, err := first.StartOrResume(ctx, t.TempDir(), "")
	require.NoError(t, err)

	second := New(opts)
	_, err = second.StartOrResume(ctx, "", sess.ID)
	assert.ErrorIs(t, err, lockfile.ErrLocked)

	require.NoError(t, first.Close())
	_, err = second.StartOrResume(ctx, "", sess.ID)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestDispatchShellRecordsHistoryAndContext(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sub := filepath.Join(dir, "mylib")
	runner := &fakeRunner{results: map[string]*execution.Result{
		"cd mylib && export RUST_LOG=debug": {
			ExitStatus: 0,
			StartedAt:  time.Now(),
			WorkingDir: sub,
			Changes: []session.EnvironmentChange{
				{Kind: session.ChangeWorkingDir, New: sub},
				{Kind: session.ChangeEnvVar, Key: "RUST_LOG", New: "debug"},
				{Kind: session.ChangeTool, New: "git"},
			},
		},
	}}
	m := newTestManager(t, store.NewMemoryStore(), runner, &fakeOrchestrator{})
	sess, err := m.StartOrResume(ctx, dir, "")
	require.NoError(t, err)
	before := sess.LastActive

	out, err := m.Dispatch(ctx, sess, "cd mylib && export RUST_LOG=debug", classifier.KindShell, nopPrompter{})
	require.NoError(t, err)
	require.NotNil(t, out.Command)
	assert.Equal(t, 0, out.Command.ExitStatus)
	assert.Equal(t, []string{"cd mylib && export RUST_LOG=debug@" + dir}, runner.calls)
	// git was already detected, so only two changes survive
	assert.Len(t, out.Changes, 2)

	gc := sess.Context()
	assert.Equal(t, sub, gc.WorkingDirectory)
	assert.Equal(t, "debug", gc.EnvironmentSnapshot["RUST_LOG"])
	assert.Len(t, sess.RecentCommands(10), 1)
	assert.False(t, sess.LastActive.Before(before))
}

func TestDispatchShellFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{
		results: map[string]*execution.Result{
			"false":   {ExitStatus: 1, StartedAt: time.Now()},
			"sleep 9": {ExitStatus: -1, StartedAt: time.Now()},
		},
		errs: map[string]error{
			"false":   &execution.Error{Kind: execution.KindNonZeroExit, ExitStatus: 1},
			"sleep 9": &execution.Error{Kind: execution.KindTimeout, ExitStatus: -1, Err: context.DeadlineExceeded},
		},
	}
	m := newTestManager(t, store.NewMemoryStore(), runner, &fakeOrchestrator{})
	sess, err := m.StartOrResume(ctx, t.TempDir(), "")
	require.NoError(t, err)

	out, err := m.Dispatch(ctx, sess, "false", classifier.KindShell, nopPrompter{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Command.ExitStatus)
	assert.Empty(t, out.Command.Error)

	out, err = m.Dispatch(ctx, sess, "sleep 9", classifier.KindShell, nopPrompter{})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Command.Error)
	assert.Len(t, sess.RecentCommands(10), 2)
}

func TestDispatchBlankShellInputIsNoop(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, store.NewMemoryStore(), runner, &fakeOrchestrator{})
	sess, err := m.StartOrResume(context.Background(), t.TempDir(), "")
	require.NoError(t, err)

	out, err := m.Dispatch(context.Background(), sess, "   ", classifier.KindShell, nopPrompter{})
	require.NoError(t, err)
	assert.Nil(t, out.Command)
	assert.Empty(t, runner.calls)
}

func TestDispatchPromptCreatesConversation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	orch := &fakeOrchestrator{}
	m := newTestManager(t, st, &fakeRunner{}, orch)
	sess, err := m.StartOrResume(ctx, t.TempDir(), "")
	require.NoError(t, err)

	out, _, err := m.Handle(ctx, sess, "please initialize a new rust crate with a license", nopPrompter{})
	require.NoError(t, err)
	assert.Equal(t, classifier.KindPrompt, out.Kind)
	require.NotNil(t, out.Conversation)

	conv := out.Conversation
	assert.Equal(t, []string{conv.ID}, orch.runs)
	assert.Equal(t, []string{conv.ID}, sess.ConversationIDs())
	assert.Equal(t, "Please initialize a new", conv.Name)
	assert.Equal(t, "Please initialize a new", sess.Title)
	assert.Equal(t, "fake", conv.Provider)

	stored, err := st.LoadConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, stored.Status())

	assert.Contains(t, m.Status(sess), "[Please initialize a new]")

	unfinished, err := m.Unfinished(ctx, sess)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, conv.ID, unfinished[0].ID)
}

func TestAbortCurrentConversation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	orch := &fakeOrchestrator{}
	m := newTestManager(t, st, &fakeRunner{}, orch)
	sess, err := m.StartOrResume(ctx, t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, m.Abort(ctx, sess, "nothing running"))
	assert.Empty(t, orch.aborted)

	out, err := m.Dispatch(ctx, sess, "set up a go module", classifier.KindPrompt, nopPrompter{})
	require.NoError(t, err)
	require.NoError(t, m.Abort(ctx, sess, "user"))
	assert.Equal(t, []string{out.Conversation.ID}, orch.aborted)

	stored, err := st.LoadConversation(ctx, out.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAborted, stored.Status())

	assert.Error(t, m.Resume(ctx, sess, out.Conversation, nopPrompter{}))
}

func TestStoreFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	orch := &fakeOrchestrator{runErr: errors.New("model down")}
	m := newTestManager(t, failingStore{store.NewMemoryStore()}, &fakeRunner{}, orch)

	sess, err := m.StartOrResume(ctx, t.TempDir(), "")
	require.NoError(t, err)

	out, err := m.Dispatch(ctx, sess, "build the project", classifier.KindPrompt, nopPrompter{})
	assert.EqualError(t, err, "model down")
	require.NotNil(t, out.Conversation)
	assert.Equal(t, []string{out.Conversation.ID}, sess.ConversationIDs())
}

func TestRetentionAppliedOnStart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	stale := session.NewSession("/old")
	stale.LastActive = time.Now().Add(-90 * 24 * time.Hour)
	require.NoError(t, st.SaveSession(ctx, stale))

	policy := store.PolicyFromDays(30, 7, 0)
	m := New(Options{Store: st, Runner: &fakeRunner{}, Orchestrator: &fakeOrchestrator{}, Retention: &policy})
	_, err := m.StartOrResume(ctx, t.TempDir(), "")
	require.NoError(t, err)

	_, err = st.LoadSession(ctx, stale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := m.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestParseEnviron(t *testing.T) {
	env := parseEnviron([]string{"A=1", "B=x=y", "=bad", "C"})
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, env)
}
