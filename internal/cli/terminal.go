package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"

	"github.com/codefionn/parsec/internal/approval"
	"github.com/codefionn/parsec/internal/orchestrator"
	"github.com/codefionn/parsec/internal/session"
)

const defaultWidth = 80

// lineReader feeds input lines through a channel so reads can be abandoned
// when the context is cancelled.
type lineReader struct {
	lines chan string
	err   error
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{lines: make(chan string)}
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lr.lines <- sc.Text()
		}
		lr.err = sc.Err()
		close(lr.lines)
	}()
	return lr
}

func (lr *lineReader) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-lr.lines:
		if !ok {
			if lr.err != nil {
				return "", lr.err
			}
			return "", io.EOF
		}
		return line, nil
	}
}

// Terminal is the line-oriented user interface. It implements
// orchestrator.Prompter.
type Terminal struct {
	in       *lineReader
	out      io.Writer
	width    int
	renderer *glamour.TermRenderer
}

// NewTerminal creates a terminal reading answers from in. Styling and the
// width follow out when it is a tty.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	width := defaultWidth
	tty := false
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			width = w
		}
	}

	style := glamour.WithStandardStyle("notty")
	if tty {
		style = glamour.WithAutoStyle()
	}
	renderer, _ := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(width-4),
		glamour.WithPreservedNewLines(),
	)

	return &Terminal{in: newLineReader(in), out: out, width: width, renderer: renderer}
}

func (t *Terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

func (t *Terminal) println(s string) {
	fmt.Fprintln(t.out, s)
}

// Ask prints prompt and returns the trimmed answer
func (t *Terminal) Ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(t.out, promptStyle.Render(prompt)+" ")
	line, err := t.in.ReadLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			t.println("")
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (t *Terminal) wrap(s string) string {
	return wordwrap.String(s, t.width-2)
}

func (t *Terminal) markdown(md string) string {
	if t.renderer == nil {
		return md
	}
	out, err := t.renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}

// ConfirmPlan shows the plan and asks whether to start it
func (t *Terminal) ConfirmPlan(ctx context.Context, name string, plan session.WorkflowPlan) (bool, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "## %s\n\n", name)
	for i, step := range plan.Steps {
		fmt.Fprintf(&md, "%d. %s\n", i+1, step.Description)
	}
	t.printf("%s", t.markdown(md.String()))

	ans, err := t.Ask(ctx, "Start this workflow? [Y/n]")
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "", "y", "yes":
		return true, nil
	}
	return false, nil
}

func (t *Terminal) showReview(r *approval.Review) {
	t.println("")
	t.println(titleStyle.Render(fmt.Sprintf("Step %d/%d: %s", r.StepIndex+1, r.StepCount, r.StepDescription)))
	t.println("  " + commandStyle.Render(r.Command))
	if r.Explanation != "" {
		t.println(explanationStyle.Render(t.wrap(r.Explanation)))
	}
	t.println(dimStyle.Render("risk ") + riskStyle(r.RiskScore).Render(fmt.Sprintf("%.2f", r.RiskScore)))
	if r.Destructive() {
		t.println(t.warnings(r.Warnings))
	}
}

func (t *Terminal) warnings(ws []approval.Warning) string {
	var sb strings.Builder
	sb.WriteString(warningTitleStyle.Render("Destructive command"))
	for _, w := range ws {
		sb.WriteString("\n")
		sb.WriteString(t.wrap(fmt.Sprintf("- %s: %s", w.Message, w.Segment)))
	}
	return warningBoxStyle.Render(sb.String())
}

var reviewChoices = map[string]approval.Choice{
	"a": approval.ChoiceApprove, "approve": approval.ChoiceApprove, "y": approval.ChoiceApprove, "yes": approval.ChoiceApprove,
	"l": approval.ChoiceAlternative, "alt": approval.ChoiceAlternative, "alternative": approval.ChoiceAlternative,
	"s": approval.ChoiceSkip, "skip": approval.ChoiceSkip,
	"b": approval.ChoiceAbort, "abort": approval.ChoiceAbort,
}

var recoverChoices = map[string]approval.Choice{
	"r": approval.ChoiceRetry, "retry": approval.ChoiceRetry,
	"s": approval.ChoiceSkip, "skip": approval.ChoiceSkip,
	"b": approval.ChoiceAbort, "abort": approval.ChoiceAbort,
}

// choose keeps asking until the answer maps to a choice. End of input aborts.
func (t *Terminal) choose(ctx context.Context, prompt string, choices map[string]approval.Choice, allowed func(approval.Choice) bool) (approval.Choice, error) {
	for {
		ans, err := t.Ask(ctx, prompt)
		if errors.Is(err, io.EOF) {
			return approval.ChoiceAbort, nil
		}
		if err != nil {
			return "", err
		}
		if c, ok := choices[strings.ToLower(ans)]; ok && (allowed == nil || allowed(c)) {
			return c, nil
		}
		t.println(dimStyle.Render(fmt.Sprintf("unrecognised answer %q", ans)))
	}
}

// Choose asks for a decision on a candidate command
func (t *Terminal) Choose(ctx context.Context, r *approval.Review) (approval.Choice, error) {
	t.showReview(r)
	return t.choose(ctx, "[a]pprove  a[l]ternative  [s]kip  a[b]ort >", reviewChoices, nil)
}

// ConfirmDestructive requires the literal answer "yes"
func (t *Terminal) ConfirmDestructive(ctx context.Context, r *approval.Review) (bool, error) {
	t.println(t.warnings(r.Warnings))
	ans, err := t.Ask(ctx, "Type 'yes' to run this destructive command:")
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ans == "yes", nil
}

// Recover asks what to do after a failed execution
func (t *Terminal) Recover(ctx context.Context, f *approval.FailureReview) (approval.Choice, error) {
	t.println("")
	t.println(errorStyle.Render(fmt.Sprintf("Step %d/%d failed: %s", f.StepIndex+1, f.StepCount, f.StepDescription)))
	t.println("  " + commandStyle.Render(f.Command))
	if f.ExitStatus != nil {
		t.println(dimStyle.Render(fmt.Sprintf("exit status %d", *f.ExitStatus)))
	}
	if f.Message != "" {
		t.println(errorStyle.Render(t.wrap(f.Message)))
	}
	if s := strings.TrimSpace(f.Stderr); s != "" {
		t.println(dimStyle.Render(t.wrap(s)))
	}

	prompt := "[r]etry  [s]kip  a[b]ort >"
	if !f.RetryAllowed {
		prompt = "retry limit reached: [s]kip  a[b]ort >"
	}
	return t.choose(ctx, prompt, recoverChoices, func(c approval.Choice) bool {
		return c != approval.ChoiceRetry || f.RetryAllowed
	})
}

// ShowCommand prints the result of a direct shell execution
func (t *Terminal) ShowCommand(rec *session.DirectCommandExecution) {
	if rec == nil {
		return
	}
	if rec.Stdout.Content != "" {
		fmt.Fprint(t.out, rec.Stdout.Content)
		if !strings.HasSuffix(rec.Stdout.Content, "\n") {
			t.println("")
		}
	}
	if rec.Stderr.Content != "" {
		fmt.Fprint(t.out, errorStyle.Render(strings.TrimRight(rec.Stderr.Content, "\n"))+"\n")
	}
	if rec.Stdout.Truncated || rec.Stderr.Truncated {
		t.println(dimStyle.Render(fmt.Sprintf("(output truncated, %d bytes total)", rec.Stdout.OriginalLength+rec.Stderr.OriginalLength)))
	}
	switch {
	case rec.Error != "":
		t.println(errorStyle.Render(rec.Error))
	case rec.ExitStatus != 0:
		t.println(dimStyle.Render(fmt.Sprintf("exit status %d", rec.ExitStatus)))
	}
}

// ShowConversation prints where a conversation ended up
func (t *Terminal) ShowConversation(conv *session.Conversation) {
	t.println(statusStyle.Render(orchestrator.StatusLine(conv)))
	conv.View(func(c *session.Conversation) {
		switch c.State {
		case session.StatusFinished:
			t.println(successStyle.Render("Workflow finished"))
			for _, a := range c.Summary.KeyAchievements {
				t.println("  - " + a)
			}
			if paths := c.Summary.ArtifactPaths(); len(paths) > 0 {
				t.println(dimStyle.Render("artifacts: " + strings.Join(paths, ", ")))
			}
			if len(c.Summary.SkippedSteps) > 0 {
				t.println(dimStyle.Render("skipped: " + strings.Join(c.Summary.SkippedSteps, ", ")))
			}
		case session.StatusAborted, session.StatusError:
			if c.Failure != nil {
				t.println(errorStyle.Render(fmt.Sprintf("%s: %s", c.State, c.Failure.Message)))
				if c.Failure.Raw != "" {
					t.println(dimStyle.Render("model response: " + excerpt(c.Failure.Raw, rawExcerptRunes)))
				}
			}
			if i := c.LastCompleteStep(); i >= 0 {
				t.println(dimStyle.Render(fmt.Sprintf("last complete step: %d (%s)", i+1, c.Steps[i].Step.Description)))
			}
		}
	})
}

var _ orchestrator.Prompter = (*Terminal)(nil)

// rawExcerptRunes bounds how much of an unparsed model response is shown
const rawExcerptRunes = 400

func excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
