// Package execution runs approved commands and derives what they changed.
package execution

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/codefionn/parsec/internal/consts"
	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/secretdetect"
	"github.com/codefionn/parsec/internal/session"
)

// Options bounds command execution
type Options struct {
	Timeout      time.Duration
	MaxOutput    int
	SettleDelay  time.Duration
	DisableWatch bool
}

// DefaultOptions returns the built-in limits
func DefaultOptions() Options {
	return Options{
		Timeout:     consts.CommandTimeout,
		MaxOutput:   consts.MaxCommandOutputBytes,
		SettleDelay: consts.ArtifactSettleDelay,
	}
}

// Result is a completed command. On failure it is returned together with
// the *Error so that partial output can still be recorded.
type Result struct {
	ExitStatus int
	Stdout     session.TruncatedText
	Stderr     session.TruncatedText
	Duration   time.Duration
	StartedAt  time.Time
	// WorkingDir is the directory after any cd in the command
	WorkingDir string
	Artifacts  []string
	Changes    []session.EnvironmentChange
}

// Coordinator wraps an Executor with limits, redaction and change detection
type Coordinator struct {
	exec     Executor
	opts     Options
	redactor *secretdetect.Redactor
	tools    *ToolDetector
	projects ProjectDetector
	log      *logger.Logger
}

// NewCoordinator creates a coordinator. Unset options take defaults.
func NewCoordinator(exec Executor, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = def.MaxOutput
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	return &Coordinator{
		exec:     exec,
		opts:     opts,
		redactor: secretdetect.NewRedactor(),
		tools:    NewToolDetector(),
		log:      logger.Global().WithPrefix("exec"),
	}
}

// WithToolDetector replaces the tool detector
func (c *Coordinator) WithToolDetector(d *ToolDetector) *Coordinator {
	c.tools = d
	return c
}

// Tools exposes the tool detector used at session start
func (c *Coordinator) Tools() *ToolDetector { return c.tools }

// Projects exposes the project detector used at session start
func (c *Coordinator) Projects() ProjectDetector { return c.projects }

// Run executes command in workingDir once. It never retries.
func (c *Coordinator) Run(ctx context.Context, command, workingDir string) (*Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, &Error{Kind: KindSpawnFailure, Err: ErrEmptyCommand}
	}

	var watcher *ArtifactWatcher
	if !c.opts.DisableWatch {
		watcher = WatchArtifacts(workingDir)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	c.log.Info("running %q in %s", command, workingDir)
	raw, err := c.exec.Execute(runCtx, command, workingDir)
	duration := time.Since(start)

	var artifacts []string
	if watcher != nil {
		settle := c.opts.SettleDelay
		if err != nil {
			settle = 0
		}
		artifacts = watcher.Stop(settle)
	}

	res := &Result{StartedAt: start, Duration: duration, WorkingDir: workingDir, ExitStatus: -1}
	if raw != nil {
		res.ExitStatus = raw.ExitStatus
		res.Stdout = session.NewTruncatedText(c.redactor.RedactBytes(raw.Stdout), c.opts.MaxOutput)
		res.Stderr = session.NewTruncatedText(c.redactor.RedactBytes(raw.Stderr), c.opts.MaxOutput)
	}

	if err != nil {
		var spawn *SpawnError
		switch {
		case errors.As(err, &spawn):
			c.log.Warn("spawn failed for %q: %v", command, err)
			return res, &Error{Kind: KindSpawnFailure, ExitStatus: -1, Err: err}
		case ctx.Err() != nil:
			// Caller cancelled (abort); not a timeout.
			return res, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil:
			c.log.Warn("%q timed out after %s", command, c.opts.Timeout)
			return res, &Error{Kind: KindTimeout, ExitStatus: -1, Err: err}
		default:
			return res, &Error{Kind: KindSpawnFailure, ExitStatus: -1, Err: err}
		}
	}

	res.Artifacts = artifacts
	if res.ExitStatus != 0 {
		c.log.Info("%q exited with %d after %s", command, res.ExitStatus, duration)
		return res, &Error{Kind: KindNonZeroExit, ExitStatus: res.ExitStatus}
	}

	res.WorkingDir = trackDirectory(command, workingDir)
	res.Changes = c.detectChanges(ctx, command, workingDir, res.WorkingDir)
	c.log.Info("%q succeeded in %s (%d artifacts, %d changes)", command, duration, len(artifacts), len(res.Changes))
	return res, nil
}

// detectChanges reports environment facts the command may have changed.
// Tool and project entries carry the current value; callers drop the
// ones that match what they already know.
func (c *Coordinator) detectChanges(ctx context.Context, command, before, after string) []session.EnvironmentChange {
	var changes []session.EnvironmentChange

	if after != before {
		changes = append(changes, session.EnvironmentChange{Kind: session.ChangeWorkingDir, Old: before, New: after, Command: command})
	}
	for _, ex := range parseExports(command) {
		changes = append(changes, session.EnvironmentChange{Kind: session.ChangeEnvVar, Key: ex.key, New: ex.value, Command: command})
	}
	if installsTools(command) && c.tools != nil {
		if tools, err := c.tools.Detect(ctx); err == nil {
			for _, t := range tools {
				changes = append(changes, session.EnvironmentChange{Kind: session.ChangeTool, New: t, Command: command})
			}
		}
	}
	if project := c.projects.Primary(ctx, after); project != "" {
		changes = append(changes, session.EnvironmentChange{Kind: session.ChangeProjectType, New: project, Command: command})
	}
	return changes
}

// EffectiveChanges drops changes that do not alter gc and fills in Old values
func EffectiveChanges(gc session.GlobalContext, changes []session.EnvironmentChange) []session.EnvironmentChange {
	var out []session.EnvironmentChange
	for _, ch := range changes {
		switch ch.Kind {
		case session.ChangeWorkingDir:
			if ch.New == gc.WorkingDirectory {
				continue
			}
			ch.Old = gc.WorkingDirectory
		case session.ChangeEnvVar:
			if old, ok := gc.EnvironmentSnapshot[ch.Key]; ok {
				if old == ch.New {
					continue
				}
				ch.Old = old
			}
		case session.ChangeTool:
			if slices.Contains(gc.ActiveTools, ch.New) {
				continue
			}
		case session.ChangeProjectType:
			if ch.New == gc.DetectedProjectType {
				continue
			}
			ch.Old = gc.DetectedProjectType
		}
		out = append(out, ch)
	}
	return out
}
