package assembler

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/parsec/internal/llm"
	"github.com/codefionn/parsec/internal/session"
)

func newTestAssembler() *Assembler {
	return New(Options{Counter: llm.HeuristicCounter})
}

func sumTokens(a *Assembler, items []ContextItem) int {
	total := 0
	for _, it := range items {
		total += a.counter.Count(it.Content)
	}
	return total
}

func TestSelectStaysWithinBudget(t *testing.T) {
	a := newTestAssembler()

	var items []ContextItem
	items = append(items,
		ContextItem{Content: strings.Repeat("current step detail ", 20), Tier: TierCritical, Type: TypeCurrentStep},
		ContextItem{Content: strings.Repeat("error output ", 30), Tier: TierCritical, Type: TypeError},
	)
	for i := 0; i < 30; i++ {
		items = append(items, ContextItem{
			Content: fmt.Sprintf("execution %d %s", i, strings.Repeat("x", i*7)),
			Tier:    Tier(1 + i%3),
			Type:    TypeExecution,
			Recency: float64(i) / 30,
		})
	}

	for _, budget := range []int{0, 1, 5, 17, 64, 120, 400, 5000} {
		t.Run(fmt.Sprintf("budget_%d", budget), func(t *testing.T) {
			res := a.Select(items, budget)
			if budget >= 5 {
				assert.LessOrEqual(t, res.Tokens, budget)
			}
			assert.Equal(t, sumTokens(a, res.Items), res.Tokens)

			var sawStep, sawErr bool
			for _, it := range res.Items {
				sawStep = sawStep || it.Type == TypeCurrentStep
				sawErr = sawErr || it.Type == TypeError
				if it.Tier == TierCritical {
					assert.NotEmpty(t, it.Content)
				}
			}
			assert.True(t, sawStep, "current step must be present")
			assert.True(t, sawErr, "active error must be present")
		})
	}
}

func TestSelectTruncatesCriticalOnlyWhenNeeded(t *testing.T) {
	a := newTestAssembler()
	items := []ContextItem{{Content: strings.Repeat("word ", 100), Tier: TierCritical, Type: TypeCurrentStep}}

	res := a.Select(items, 1000)
	assert.False(t, res.Truncated)
	assert.False(t, res.Items[0].Truncated)

	res = a.Select(items, 20)
	require.Len(t, res.Items, 1)
	assert.True(t, res.Truncated)
	assert.True(t, res.Items[0].Truncated)
	assert.True(t, strings.HasSuffix(res.Items[0].Content, truncationMarker))
	assert.LessOrEqual(t, res.Tokens, 20)
}

func TestSelectKeepsCriticalPrefixUnderTinyBudget(t *testing.T) {
	a := newTestAssembler()
	items := []ContextItem{
		{Content: "Create library project", Tier: TierCritical, Type: TypeCurrentStep},
		{Content: "error: could not find Cargo.toml", Tier: TierCritical, Type: TypeError},
	}

	res := a.Select(items, 1)
	require.Len(t, res.Items, 2)
	assert.True(t, res.Truncated)
	assert.Equal(t, "Create l"+truncationMarker, res.Items[0].Content)
	for _, it := range res.Items {
		assert.True(t, it.Truncated)
		assert.NotEmpty(t, strings.TrimSuffix(it.Content, truncationMarker))
	}
}

func TestSelectSummarizesLeftovers(t *testing.T) {
	a := newTestAssembler()
	items := []ContextItem{
		{Content: "step", Tier: TierCritical, Type: TypeCurrentStep},
		{Content: strings.Repeat("a", 200), Tier: TierHigh, Type: TypeExecution, Recency: 1},
		{Content: strings.Repeat("b", 200), Tier: TierMedium, Type: TypeAchievement, Recency: 1},
		{Content: strings.Repeat("c", 200), Tier: TierLow, Type: TypePattern, Recency: 1},
	}

	res := a.Select(items, 120)
	assert.LessOrEqual(t, res.Tokens, 120)
	assert.Equal(t, 2, res.Summarized)

	var note *ContextItem
	for i := range res.Items {
		if res.Items[i].Type == TypeNote {
			note = &res.Items[i]
		}
	}
	require.NotNil(t, note)
	assert.Contains(t, note.Content, "2 older items omitted")
}

func TestSelectOrdersTierByRecencyThenRelevance(t *testing.T) {
	items := []ContextItem{
		{Content: "old", Tier: TierHigh, Type: TypeExecution, Recency: 0.1, Relevance: 1},
		{Content: "new-low", Tier: TierHigh, Type: TypeExecution, Recency: 0.9, Relevance: 0.1},
		{Content: "new-high", Tier: TierHigh, Type: TypeExecution, Recency: 0.9, Relevance: 0.9},
		{Content: "medium", Tier: TierMedium, Type: TypeAchievement, Recency: 1, Relevance: 1},
	}
	sortByPriority(items)

	got := make([]string, len(items))
	for i, it := range items {
		got[i] = it.Content
	}
	assert.Equal(t, []string{"new-high", "new-low", "old", "medium"}, got)
}

func TestDedupeKeepsHighestTier(t *testing.T) {
	items := dedupe([]ContextItem{
		{Content: "same", Tier: TierLow, Type: TypeExecution},
		{Content: "same", Tier: TierHigh, Type: TypeExecution},
		{Content: "same", Tier: TierLow, Type: TypePattern},
	})
	require.Len(t, items, 2)
	assert.Equal(t, TierHigh, items[0].Tier)
}

func exit(code int) *int { return &code }

func rustConversation(t *testing.T) (*session.Session, *session.Conversation) {
	t.Helper()
	sess := session.NewSession("/work")
	sess.UpdateContext(func(g *session.GlobalContext) {
		g.ActiveTools = []string{"cargo", "git"}
		g.EnvironmentSnapshot["SHELL"] = "/bin/bash"
	})

	conv := session.NewConversation(sess.ID, "Initialize A New Rust", "Initialize a new Rust crate with MIT license and run tests", "fake")
	require.NoError(t, conv.Update(func(c *session.Conversation) error {
		if err := c.SetPlan(&session.WorkflowPlan{Steps: []session.WorkflowStep{
			{ID: "step-1", Description: "Create library project"},
			{ID: "step-2", Description: "Add license file"},
			{ID: "step-3", Description: "Initialize repository"},
			{ID: "step-4", Description: "Run tests"},
		}, CreatedAt: time.Now()}); err != nil {
			return err
		}
		first := c.Steps[0]
		first.Status = session.StepComplete
		first.Artifacts = []string{"mylib"}
		first.Attempts = append(first.Attempts, &session.CommandAttempt{
			Command:     "cargo new mylib --lib",
			Explanation: "Create crate",
			Approved:    true,
			Executed:    true,
			ExitStatus:  exit(0),
			Stdout:      session.NewTruncatedText([]byte("Created library `mylib` package"), 100),
			Disposition: session.DispositionExecuted,
		})
		c.CurrentStep = 1
		return nil
	}))
	return sess, conv
}

func TestBuildStepIncludesPriorArtifacts(t *testing.T) {
	a := newTestAssembler()
	sess, conv := rustConversation(t)

	conv.View(func(c *session.Conversation) {
		step, res := a.BuildStep(sess, c, 0)
		assert.LessOrEqual(t, res.Tokens, a.opts.StepBudgetTokens)
		assert.Equal(t, []string{"Step 2/4: Add license file"}, step.CurrentStep)
		require.NotEmpty(t, step.ExecutionHistory)
		assert.Contains(t, strings.Join(step.ExecutionHistory, "\n"), "mylib")
		assert.Nil(t, step.ErrorContext)
		assert.Contains(t, step.Workflow[0], "1. [complete] Create library project")
		assert.Contains(t, strings.Join(step.CurrentEnvironment, "\n"), "SHELL=/bin/bash")
	})
}

func TestBuildStepCarriesErrorAndRejections(t *testing.T) {
	a := newTestAssembler()
	sess, conv := rustConversation(t)

	require.NoError(t, conv.Update(func(c *session.Conversation) error {
		st := c.Steps[1]
		st.Status = session.StepFailed
		st.Attempts = append(st.Attempts,
			&session.CommandAttempt{Command: "curl -o LICENSE mit", Disposition: session.DispositionRejected},
			&session.CommandAttempt{
				Command:     "cp /nope LICENSE",
				Executed:    true,
				ExitStatus:  exit(1),
				Stderr:      session.NewTruncatedText([]byte("cp: cannot stat '/nope'"), 100),
				Error:       &session.ExecutionFailure{Kind: "non_zero_exit", Message: "exit status 1"},
				Disposition: session.DispositionFailed,
			},
		)
		return nil
	}))

	conv.View(func(c *session.Conversation) {
		step, _ := a.BuildStep(sess, c, 0)
		require.NotNil(t, step.ErrorContext)
		assert.Contains(t, *step.ErrorContext, "cannot stat")
		assert.Equal(t, []string{"curl -o LICENSE mit"}, step.RejectedCommands)
	})
}

func TestBuildStepPrivacyMode(t *testing.T) {
	a := newTestAssembler()
	sess, conv := rustConversation(t)
	sess.Settings.PrivacyMode = true

	conv.View(func(c *session.Conversation) {
		step, _ := a.BuildStep(sess, c, 0)
		assert.NotContains(t, strings.Join(step.CurrentEnvironment, "\n"), "SHELL=")
	})
}

func TestBuildPlanningHasNoExecutionHistory(t *testing.T) {
	a := newTestAssembler()
	sess, conv := rustConversation(t)
	sess.AddDigest(session.ConversationDigest{
		Name:         "Setup Python Env",
		Prompt:       "setup a venv",
		Status:       session.StatusFinished,
		Achievements: []string{"created .venv"},
		Preferences:  map[string]string{"package_manager": "uv"},
	})

	conv.View(func(c *session.Conversation) {
		req, res := a.BuildPlanning(sess, c, 0)
		assert.Equal(t, c.Prompt, req.UserPrompt)
		assert.LessOrEqual(t, res.Tokens, a.opts.PlanningBudgetTokens)
		assert.NotContains(t, strings.Join(req.SessionContext, "\n"), "cargo new")
		assert.Contains(t, strings.Join(req.ConversationHistory, "\n"), "created .venv")
		assert.Contains(t, req.Preferences, "package_manager: uv")
	})

	sess.Settings.EnableCrossConversationLearning = false
	conv.View(func(c *session.Conversation) {
		req, _ := a.BuildPlanning(sess, c, 0)
		assert.Empty(t, req.ConversationHistory)
		assert.Empty(t, req.Preferences)
	})
}

func TestBudgetCappedByTokenLimit(t *testing.T) {
	a := newTestAssembler()
	sess, conv := rustConversation(t)
	conv.View(func(c *session.Conversation) {
		_, res := a.BuildStep(sess, c, 30)
		assert.Equal(t, 30, res.Budget)
		assert.LessOrEqual(t, res.Tokens, 30)
	})
}

func TestTruncationIsFlaggedInPayload(t *testing.T) {
	a := newTestAssembler()
	sess, conv := rustConversation(t)
	conv.View(func(c *session.Conversation) {
		step, res := a.BuildStep(sess, c, 3)
		require.True(t, res.Truncated)
		assert.Contains(t, step.Notes, criticalTruncatedNote)

		step, res = a.BuildStep(sess, c, 0)
		require.False(t, res.Truncated)
		assert.NotContains(t, step.Notes, criticalTruncatedNote)

		plan, res := a.BuildPlanning(sess, c, 3)
		require.True(t, res.Truncated)
		assert.Contains(t, plan.Notes, criticalTruncatedNote)
	})
}

func TestRepeatedPatterns(t *testing.T) {
	history := []session.DirectCommandExecution{
		{Command: "git status"}, {Command: "ls"}, {Command: "git status"},
	}
	assert.Equal(t, []string{"frequently runs `git status` (2x)"}, repeatedPatterns(history))
}
