package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/parsec/internal/session"
)

type scriptedPrompter struct {
	choices  []Choice
	confirms []bool

	chooseCalls  int
	confirmCalls int
}

func (p *scriptedPrompter) Choose(ctx context.Context, r *Review) (Choice, error) {
	if p.chooseCalls >= len(p.choices) {
		return "", errors.New("no more choices")
	}
	c := p.choices[p.chooseCalls]
	p.chooseCalls++
	return c, nil
}

func (p *scriptedPrompter) ConfirmDestructive(ctx context.Context, r *Review) (bool, error) {
	if p.confirmCalls >= len(p.confirms) {
		return false, errors.New("no more confirmations")
	}
	c := p.confirms[p.confirmCalls]
	p.confirmCalls++
	return c, nil
}

func (p *scriptedPrompter) Recover(ctx context.Context, f *FailureReview) (Choice, error) {
	return p.Choose(ctx, nil)
}

func TestScreenDestructivePatterns(t *testing.T) {
	tests := []struct {
		command string
		rule    string
	}{
		{"rm -rf /", "recursive-delete-root"},
		{"rm -fr ~", "recursive-delete-root"},
		{"sudo rm -r -f --no-preserve-root /", "recursive-delete-root"},
		{`rm --recursive --force "$HOME"`, "recursive-delete-root"},
		{"cd /tmp && rm -rf /*", "recursive-delete-root"},
		{":(){ :|:& };:", "fork-bomb"},
		{"bomb() { bomb | bomb & }; bomb", "fork-bomb"},
		{"dd if=/dev/zero of=/dev/sda bs=1M", "raw-device-write"},
		{"cat image.iso > /dev/nvme0n1", "raw-device-write"},
		{"mkfs.ext4 /dev/sdb1", "filesystem-create"},
		{"echo ok; sudo wipefs -a /dev/sdc", "filesystem-create"},
	}

	s, err := NewScreener(nil)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			warnings := s.Screen(tt.command)
			require.NotEmpty(t, warnings)
			var rules []string
			for _, w := range warnings {
				rules = append(rules, w.Rule)
			}
			assert.Contains(t, rules, tt.rule)
		})
	}
}

func TestScreenAllowsOrdinaryCommands(t *testing.T) {
	s, err := NewScreener(nil)
	require.NoError(t, err)

	for _, cmd := range []string{
		"rm -rf build",
		"rm -rf ./target",
		"rm file.txt",
		"cargo new mylib --lib",
		"dd if=/dev/zero of=disk.img bs=1M count=10",
		"echo hello > /dev/null",
		"git status && git log --oneline | head",
	} {
		assert.Empty(t, s.Screen(cmd), cmd)
	}
}

func TestScreenRecursiveDeleteTargetForms(t *testing.T) {
	s, err := NewScreener(nil)
	require.NoError(t, err)

	tests := []struct {
		command     string
		destructive bool
	}{
		{"rm -Rf /root/", true},
		{`rm -rf "$HOME"/`, true},
		{"rm -rf ${HOME}/*", true},
		{"rm -rf /home/alice", true},
		{"rm -rf ~alice/", true},
		{"rm -rf ~/.", true},
		{"rm -rf //", true},
		{"rm -rf /*/", true},
		{"rm -rf /usr/./", true},
		{"rm -rf '/etc'", true},
		{"rm -rf /home/alice/project", false},
		{"rm -rf ~/project/build", false},
		{"rm -rf /tmp/scratch", false},
		{"rm -r /root", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.destructive, len(s.Screen(tt.command)) > 0)
		})
	}
}

func TestScreenExtraPatterns(t *testing.T) {
	s, err := NewScreener([]string{`^git\s+push\s+.*--force`})
	require.NoError(t, err)

	warnings := s.Screen("git add . && git push origin main --force")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Rule, "custom:")

	_, err = NewScreener([]string{"("})
	assert.Error(t, err)
}

func TestSplitCommands(t *testing.T) {
	parts := SplitCommands("cd /tmp && ls -la | grep foo; echo done")
	assert.Equal(t, "cd /tmp && ls -la | grep foo; echo done", parts[0])
	assert.Contains(t, parts, "cd /tmp")
	assert.Contains(t, parts, "grep foo")
	assert.Contains(t, parts, "echo done")
	assert.Nil(t, SplitCommands("   "))
}

func TestSplitFallbackRespectsQuotes(t *testing.T) {
	parts := splitFallback(`echo "a;b" && rm -rf $(echo /)`)
	assert.Contains(t, parts, `echo "a;b"`)
	assert.Contains(t, parts, "rm -rf")
	assert.Contains(t, parts, "echo /")
}

func pendingAttempt(cmd string) session.CommandAttempt {
	return session.CommandAttempt{Command: cmd, Explanation: "why", Disposition: session.DispositionPending}
}

func TestReviewDestructiveNeedsSecondConfirmation(t *testing.T) {
	g, err := NewGate(nil)
	require.NoError(t, err)

	review, err := g.Prepare(pendingAttempt("rm -rf /"), 0, 1, "clean up")
	require.NoError(t, err)
	require.True(t, review.Destructive())

	p := &scriptedPrompter{choices: []Choice{ChoiceApprove}, confirms: []bool{true}}
	choice, err := g.Review(context.Background(), review, p)
	require.NoError(t, err)
	assert.Equal(t, ChoiceApprove, choice)
	assert.Equal(t, 1, p.confirmCalls)
}

func TestReviewDestructiveDeclinedAsksAgain(t *testing.T) {
	g, err := NewGate(nil)
	require.NoError(t, err)
	review, err := g.Prepare(pendingAttempt("rm -rf /"), 0, 1, "clean up")
	require.NoError(t, err)

	p := &scriptedPrompter{choices: []Choice{ChoiceApprove, ChoiceSkip}, confirms: []bool{false}}
	choice, err := g.Review(context.Background(), review, p)
	require.NoError(t, err)
	assert.Equal(t, ChoiceSkip, choice)
	assert.Equal(t, 2, p.chooseCalls)
}

func TestReviewOrdinaryApproveNoConfirmation(t *testing.T) {
	g, err := NewGate(nil)
	require.NoError(t, err)
	review, err := g.Prepare(pendingAttempt("ls"), 0, 1, "list")
	require.NoError(t, err)

	p := &scriptedPrompter{choices: []Choice{ChoiceApprove}}
	choice, err := g.Review(context.Background(), review, p)
	require.NoError(t, err)
	assert.Equal(t, ChoiceApprove, choice)
	assert.Zero(t, p.confirmCalls)
}

func TestPrepareRejectsFinalAttempt(t *testing.T) {
	g, err := NewGate(nil)
	require.NoError(t, err)

	executed := pendingAttempt("ls")
	executed.Executed = true
	executed.Disposition = session.DispositionExecuted
	_, err = g.Prepare(executed, 0, 1, "list")
	assert.ErrorIs(t, err, ErrAttemptFinalized)

	rejected := pendingAttempt("ls")
	rejected.Disposition = session.DispositionRejected
	_, err = g.Prepare(rejected, 0, 1, "list")
	assert.ErrorIs(t, err, ErrAttemptFinalized)
}

func TestReviewInvalidChoice(t *testing.T) {
	g, err := NewGate(nil)
	require.NoError(t, err)
	review, err := g.Prepare(pendingAttempt("ls"), 0, 1, "list")
	require.NoError(t, err)

	_, err = g.Review(context.Background(), review, &scriptedPrompter{choices: []Choice{ChoiceRetry}})
	assert.ErrorIs(t, err, ErrInvalidChoice)
}

func TestRecover(t *testing.T) {
	g, err := NewGate(nil)
	require.NoError(t, err)

	choice, err := g.Recover(context.Background(), &FailureReview{RetryAllowed: true}, &scriptedPrompter{choices: []Choice{ChoiceRetry}})
	require.NoError(t, err)
	assert.Equal(t, ChoiceRetry, choice)

	_, err = g.Recover(context.Background(), &FailureReview{RetryAllowed: false}, &scriptedPrompter{choices: []Choice{ChoiceRetry}})
	assert.ErrorIs(t, err, ErrInvalidChoice)

	_, err = g.Recover(context.Background(), &FailureReview{RetryAllowed: true}, &scriptedPrompter{choices: []Choice{ChoiceApprove}})
	assert.ErrorIs(t, err, ErrInvalidChoice)
}
