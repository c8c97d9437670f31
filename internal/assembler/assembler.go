// Package assembler builds bounded context payloads for model calls.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codefionn/parsec/internal/consts"
	"github.com/codefionn/parsec/internal/gateway"
	"github.com/codefionn/parsec/internal/llm"
	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/session"
)

const outputExcerptChars = 200

// Options configures budgets and history depth
type Options struct {
	PlanningBudgetTokens int
	StepBudgetTokens     int
	RecentExecutions     int
	NoteReserveTokens    int
	Counter              llm.TokenCounter
}

// DefaultOptions returns the built-in budgets with the heuristic counter
func DefaultOptions() Options {
	return Options{
		PlanningBudgetTokens: consts.PlanningBudgetTokens,
		StepBudgetTokens:     consts.StepBudgetTokens,
		RecentExecutions:     consts.RecentExecutions,
		NoteReserveTokens:    consts.NoteReserveTokens,
		Counter:              llm.HeuristicCounter,
	}
}

// Assembler turns session and conversation state into gateway requests
type Assembler struct {
	opts    Options
	counter llm.TokenCounter
	log     *logger.Logger
}

// New creates an assembler, filling unset options with defaults
func New(opts Options) *Assembler {
	def := DefaultOptions()
	if opts.PlanningBudgetTokens <= 0 {
		opts.PlanningBudgetTokens = def.PlanningBudgetTokens
	}
	if opts.StepBudgetTokens <= 0 {
		opts.StepBudgetTokens = def.StepBudgetTokens
	}
	if opts.RecentExecutions <= 0 {
		opts.RecentExecutions = def.RecentExecutions
	}
	if opts.NoteReserveTokens <= 0 {
		opts.NoteReserveTokens = def.NoteReserveTokens
	}
	if opts.Counter == nil {
		opts.Counter = def.Counter
	}
	return &Assembler{
		opts:    opts,
		counter: opts.Counter,
		log:     logger.Global().WithPrefix("assembler"),
	}
}

func capBudget(budget, tokenLimit int) int {
	if tokenLimit > 0 && tokenLimit < budget {
		return tokenLimit
	}
	return budget
}

// BuildPlanning assembles the planning payload: session context, recent
// conversation achievements and preferences, without execution history.
// The caller must hold the conversation lock.
func (a *Assembler) BuildPlanning(sess *session.Session, conv *session.Conversation, tokenLimit int) (*gateway.PlanningRequest, Result) {
	settings := sess.SettingsSnapshot()
	gc := sess.Context()

	var items []ContextItem
	add := func(it ContextItem) {
		it.seq = len(items)
		items = append(items, it)
	}

	add(ContextItem{Content: conv.Prompt, Relevance: 1, Recency: 1, Tier: TierCritical, Type: TypePrompt})
	add(ContextItem{Content: describeEnvironment(gc), Relevance: 1, Recency: 1, Tier: TierHigh, Type: TypeEnvironment})
	if !settings.PrivacyMode && len(gc.EnvironmentSnapshot) > 0 {
		add(ContextItem{Content: describeSnapshot(gc.EnvironmentSnapshot), Relevance: 0.5, Recency: 0.5, Tier: TierMedium, Type: TypeEnvironment})
	}

	digests := sess.RecentDigests()
	for i, d := range digests {
		tier := TierMedium
		if len(digests)-i <= a.opts.RecentExecutions {
			tier = TierHigh
		}
		add(ContextItem{Content: describeDigest(d), Relevance: 0.7, Recency: recency(i, len(digests)), Tier: tier, Type: TypeDigest})
	}
	for _, pref := range preferences(conv.Summary.LearnedPreferences, digests) {
		add(ContextItem{Content: pref, Relevance: 0.6, Recency: 0.5, Tier: TierMedium, Type: TypePreference})
	}
	for _, p := range repeatedPatterns(sess.RecentCommands(sess.SettingsSnapshot().MaxConversationHistory)) {
		add(ContextItem{Content: p, Relevance: 0.3, Recency: 0.2, Tier: TierLow, Type: TypePattern})
	}

	res := a.Select(items, capBudget(a.opts.PlanningBudgetTokens, tokenLimit))

	req := &gateway.PlanningRequest{
		SessionContext:      []string{},
		ConversationHistory: []string{},
		Preferences:         []string{},
	}
	for _, it := range ordered(res.Items) {
		switch it.Type {
		case TypePrompt:
			req.UserPrompt = it.Content
		case TypeEnvironment, TypePattern:
			req.SessionContext = append(req.SessionContext, it.Content)
		case TypeDigest, TypeAchievement:
			req.ConversationHistory = append(req.ConversationHistory, it.Content)
		case TypePreference:
			req.Preferences = append(req.Preferences, it.Content)
		case TypeNote:
			req.Notes = append(req.Notes, it.Content)
		}
	}
	if res.Truncated {
		req.Notes = append(req.Notes, criticalTruncatedNote)
	}
	a.log.Debug("planning payload: %d items, %d/%d tokens", len(res.Items), res.Tokens, res.Budget)
	return req, res
}

// BuildStep assembles the step-generation payload for the current step.
// The caller must hold the conversation lock.
func (a *Assembler) BuildStep(sess *session.Session, conv *session.Conversation, tokenLimit int) (*gateway.StepRequest, Result) {
	settings := sess.SettingsSnapshot()
	gc := sess.Context()
	current := conv.CurrentStep

	var items []ContextItem
	add := func(it ContextItem) {
		it.seq = len(items)
		items = append(items, it)
	}

	if st := conv.CurrentStepState(); st != nil {
		add(ContextItem{
			Content:   fmt.Sprintf("Step %d/%d: %s", current+1, len(conv.Steps), st.Step.Description),
			Relevance: 1, Recency: 1, Tier: TierCritical, Type: TypeCurrentStep,
		})
		if errText := activeError(st); errText != "" {
			add(ContextItem{Content: errText, Relevance: 1, Recency: 1, Tier: TierCritical, Type: TypeError})
		}
		for _, cmd := range st.RejectedCommands() {
			add(ContextItem{Content: cmd, Relevance: 1, Recency: 1, Tier: TierCritical, Type: TypeRejected})
		}
	}

	add(ContextItem{Content: fmt.Sprintf("%s: %s", conv.Name, conv.Prompt), Relevance: 1, Recency: 1, Tier: TierHigh, Type: TypeConversation})
	add(ContextItem{Content: describeWorkflow(conv), Relevance: 1, Recency: 1, Tier: TierHigh, Type: TypeWorkflow})
	add(ContextItem{Content: describeEnvironment(gc), Relevance: 1, Recency: 1, Tier: TierHigh, Type: TypeEnvironment})

	// Successful executions: the last N are high priority, the rest medium.
	var successes, failures []ContextItem
	for idx, st := range conv.Steps {
		for _, at := range st.Attempts {
			if !at.Executed {
				continue
			}
			it := ContextItem{Content: describeAttempt(idx, len(conv.Steps), st, at), Type: TypeExecution}
			if at.Disposition == session.DispositionExecuted {
				successes = append(successes, it)
			} else {
				failures = append(failures, it)
			}
		}
	}
	for i, it := range successes {
		it.Recency = recency(i, len(successes))
		it.Relevance = 0.8
		it.Tier = TierMedium
		if len(successes)-i <= a.opts.RecentExecutions {
			it.Tier = TierHigh
		}
		add(it)
	}
	for i, it := range failures {
		it.Recency = recency(i, len(failures))
		it.Relevance = 0.4
		it.Tier = TierLow
		add(it)
	}

	changes := conv.Summary.EnvironmentChanges
	for i, ch := range changes {
		tier := TierMedium
		if len(changes)-i <= a.opts.RecentExecutions {
			tier = TierHigh
		}
		add(ContextItem{Content: describeChange(ch), Relevance: 0.7, Recency: recency(i, len(changes)), Tier: tier, Type: TypeEnvironment})
	}
	if !settings.PrivacyMode && len(gc.EnvironmentSnapshot) > 0 {
		add(ContextItem{Content: describeSnapshot(gc.EnvironmentSnapshot), Relevance: 0.4, Recency: 0.5, Tier: TierMedium, Type: TypeEnvironment})
	}

	for i, ach := range conv.Summary.KeyAchievements {
		add(ContextItem{Content: ach, Relevance: 0.6, Recency: recency(i, len(conv.Summary.KeyAchievements)), Tier: TierMedium, Type: TypeAchievement})
	}
	digests := sess.RecentDigests()
	for _, pref := range preferences(conv.Summary.LearnedPreferences, digests) {
		add(ContextItem{Content: pref, Relevance: 0.6, Recency: 0.5, Tier: TierMedium, Type: TypePreference})
	}
	for i, d := range digests {
		add(ContextItem{Content: describeDigest(d), Relevance: 0.5, Recency: recency(i, len(digests)), Tier: TierMedium, Type: TypeDigest})
	}
	for _, p := range repeatedPatterns(sess.RecentCommands(sess.SettingsSnapshot().MaxConversationHistory)) {
		add(ContextItem{Content: p, Relevance: 0.3, Recency: 0.2, Tier: TierLow, Type: TypePattern})
	}

	res := a.Select(items, capBudget(a.opts.StepBudgetTokens, tokenLimit))

	req := &gateway.StepRequest{
		Conversation:       []string{},
		Workflow:           []string{},
		CurrentStep:        []string{},
		ExecutionHistory:   []string{},
		CurrentEnvironment: []string{},
	}
	var errParts []string
	for _, it := range ordered(res.Items) {
		switch it.Type {
		case TypeCurrentStep:
			req.CurrentStep = append(req.CurrentStep, it.Content)
		case TypeError:
			errParts = append(errParts, it.Content)
		case TypeRejected:
			req.RejectedCommands = append(req.RejectedCommands, it.Content)
		case TypeConversation, TypeAchievement, TypePreference, TypeDigest:
			req.Conversation = append(req.Conversation, it.Content)
		case TypeWorkflow:
			req.Workflow = append(req.Workflow, it.Content)
		case TypeExecution, TypePattern:
			req.ExecutionHistory = append(req.ExecutionHistory, it.Content)
		case TypeEnvironment:
			req.CurrentEnvironment = append(req.CurrentEnvironment, it.Content)
		case TypeNote:
			req.Notes = append(req.Notes, it.Content)
		}
	}
	if len(errParts) > 0 {
		joined := strings.Join(errParts, "\n")
		req.ErrorContext = &joined
	}
	if res.Truncated {
		req.Notes = append(req.Notes, criticalTruncatedNote)
	}
	a.log.Debug("step %d payload: %d items, %d/%d tokens (summarized %d)", current+1, len(res.Items), res.Tokens, res.Budget, res.Summarized)
	return req, res
}

// criticalTruncatedNote tells the model that required context was cut short
const criticalTruncatedNote = "some required context was truncated to fit the token budget"

// ordered returns items in the order they were built
func ordered(items []ContextItem) []ContextItem {
	out := append([]ContextItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type == TypeNote || out[j].Type == TypeNote {
			return out[j].Type == TypeNote && out[i].Type != TypeNote
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func recency(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(i+1) / float64(n)
}

func activeError(st *session.WorkflowStepState) string {
	if st.Status != session.StepFailed {
		return ""
	}
	last := st.LastAttempt()
	if last == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "command `%s` failed", last.Command)
	if last.ExitStatus != nil {
		fmt.Fprintf(&b, " with exit status %d", *last.ExitStatus)
	}
	if last.Error != nil && last.Error.Message != "" {
		fmt.Fprintf(&b, ": %s", last.Error.Message)
	}
	if stderr := strings.TrimSpace(last.Stderr.Content); stderr != "" {
		fmt.Fprintf(&b, "\nstderr: %s", stderr)
	}
	return b.String()
}

func describeEnvironment(gc session.GlobalContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "working directory: %s", gc.WorkingDirectory)
	project := gc.DetectedProjectType
	if project == "" {
		project = "unknown"
	}
	fmt.Fprintf(&b, "; project type: %s", project)
	if len(gc.ActiveTools) > 0 {
		fmt.Fprintf(&b, "; tools: %s", strings.Join(gc.ActiveTools, ", "))
	}
	return b.String()
}

func describeSnapshot(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+env[k])
	}
	return "environment: " + strings.Join(parts, " ")
}

func describeWorkflow(conv *session.Conversation) string {
	lines := make([]string, 0, len(conv.Steps))
	for i, st := range conv.Steps {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, st.Status, st.Step.Description))
	}
	return strings.Join(lines, "\n")
}

func describeAttempt(idx, total int, st *session.WorkflowStepState, at *session.CommandAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d/%d `%s`", idx+1, total, at.Command)
	if at.ExitStatus != nil {
		fmt.Fprintf(&b, " exit %d", *at.ExitStatus)
	}
	if at.Error != nil {
		fmt.Fprintf(&b, " (%s)", at.Error.Kind)
	}
	if at.Disposition == session.DispositionExecuted && len(st.Artifacts) > 0 {
		fmt.Fprintf(&b, "; artifacts: %s", strings.Join(st.Artifacts, ", "))
	}
	if out := excerpt(at.Stdout.Content); out != "" {
		fmt.Fprintf(&b, "; stdout: %s", out)
	}
	if at.Disposition != session.DispositionExecuted {
		if errOut := excerpt(at.Stderr.Content); errOut != "" {
			fmt.Fprintf(&b, "; stderr: %s", errOut)
		}
	}
	return b.String()
}

func describeChange(ch session.EnvironmentChange) string {
	switch ch.Kind {
	case session.ChangeWorkingDir:
		return fmt.Sprintf("changed directory to %s", ch.New)
	case session.ChangeEnvVar:
		return fmt.Sprintf("set %s=%s", ch.Key, ch.New)
	case session.ChangeTool:
		return fmt.Sprintf("tool available: %s", ch.New)
	case session.ChangeProjectType:
		return fmt.Sprintf("project type is now %s", ch.New)
	default:
		return fmt.Sprintf("%s changed to %s", ch.Kind, ch.New)
	}
}

func describeDigest(d session.ConversationDigest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s", d.Name, d.Status, d.Prompt)
	if len(d.Achievements) > 0 {
		fmt.Fprintf(&b, "; achieved: %s", strings.Join(d.Achievements, "; "))
	}
	if len(d.Artifacts) > 0 {
		fmt.Fprintf(&b, "; artifacts: %s", strings.Join(d.Artifacts, ", "))
	}
	return b.String()
}

func preferences(own map[string]string, digests []session.ConversationDigest) []string {
	merged := make(map[string]string)
	for _, d := range digests {
		for k, v := range d.Preferences {
			merged[k] = v
		}
	}
	for k, v := range own {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+": "+merged[k])
	}
	return out
}

// repeatedPatterns lists commands the user ran directly more than once
func repeatedPatterns(history []session.DirectCommandExecution) []string {
	counts := make(map[string]int)
	var order []string
	for _, rec := range history {
		cmd := strings.TrimSpace(rec.Command)
		if cmd == "" {
			continue
		}
		if counts[cmd] == 0 {
			order = append(order, cmd)
		}
		counts[cmd]++
	}
	var out []string
	for _, cmd := range order {
		if counts[cmd] > 1 {
			out = append(out, fmt.Sprintf("frequently runs `%s` (%dx)", cmd, counts[cmd]))
		}
	}
	return out
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) > outputExcerptChars {
		return string([]rune(s)[:outputExcerptChars]) + "..."
	}
	return s
}
