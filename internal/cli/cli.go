// Package cli is the interactive front end: a read-eval loop that routes
// each line through the session manager and asks the user for decisions.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/codefionn/parsec/internal/logger"
	"github.com/codefionn/parsec/internal/manager"
	"github.com/codefionn/parsec/internal/session"
)

const helpText = `Type a shell command to run it directly, or describe a task in plain
language to have it planned and executed step by step with your approval.

  help           show this help
  status         show the current conversation's progress
  resume         continue the most recent unfinished conversation
  abort          stop the current conversation for good
  exit, quit     leave (Ctrl-D works too)

Ctrl-C interrupts the running conversation, including a pending model
call; 'resume' picks it up again and 'abort' ends it.`

// CLI runs the interactive loop for one session
type CLI struct {
	manager *manager.Manager
	sess    *session.Session
	term    *Terminal
	log     *logger.Logger

	// interrupt derives the context for one input; Ctrl-C cancels it
	interrupt func(ctx context.Context) (context.Context, context.CancelFunc)
}

// New creates a CLI for sess
func New(m *manager.Manager, sess *session.Session, t *Terminal) *CLI {
	return &CLI{
		manager: m,
		sess:    sess,
		term:    t,
		log:     logger.Global().WithPrefix("cli"),
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Run reads lines until exit, quit or end of input
func (c *CLI) Run(ctx context.Context) error {
	c.term.println(dimStyle.Render(fmt.Sprintf("parsec session %s. Type 'help' for help.", c.sess.ID)))
	for {
		readCtx, stop := c.interrupt(ctx)
		line, err := c.term.Ask(readCtx, c.prompt())
		interrupted := readCtx.Err() != nil && ctx.Err() == nil
		stop()
		switch {
		case interrupted:
			c.term.println("")
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		quit, err := c.Execute(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

func (c *CLI) prompt() string {
	dir := filepath.Base(c.sess.Context().WorkingDirectory)
	return fmt.Sprintf("parsec %s >", dir)
}

// Execute handles one line of input. It reports whether the user asked to
// leave. Only a cancelled parent context is returned as an error.
func (c *CLI) Execute(ctx context.Context, line string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return false, nil
	case "exit", "quit":
		c.manager.Save(ctx, c.sess)
		return true, nil
	case "help":
		c.term.println(helpText)
		return false, nil
	case "status":
		c.term.println(statusStyle.Render(c.manager.Status(c.sess)))
		return false, nil
	case "resume":
		return false, c.resume(ctx)
	case "abort":
		c.abort(ctx)
		return false, nil
	}

	runCtx, stop := c.interrupt(ctx)
	defer stop()

	out, class, err := c.manager.Handle(runCtx, c.sess, line, c.term)
	c.log.Debug("%q handled as %s: %v", line, class.Kind, err)
	if out != nil {
		if out.Command != nil {
			c.term.ShowCommand(out.Command)
		}
		if out.Conversation != nil {
			c.term.ShowConversation(out.Conversation)
		}
	}
	return false, c.report(ctx, runCtx, err)
}

func (c *CLI) resume(ctx context.Context) error {
	pending, err := c.manager.Unfinished(ctx, c.sess)
	if err != nil {
		c.term.println(errorStyle.Render(err.Error()))
		return nil
	}
	if len(pending) == 0 {
		c.term.println(dimStyle.Render("nothing to resume"))
		return nil
	}
	conv := pending[len(pending)-1]
	c.term.println(dimStyle.Render(fmt.Sprintf("resuming %q", conv.Name)))

	runCtx, stop := c.interrupt(ctx)
	defer stop()
	err = c.manager.Resume(runCtx, c.sess, conv, c.term)
	c.term.ShowConversation(conv)
	return c.report(ctx, runCtx, err)
}

func (c *CLI) abort(ctx context.Context) {
	conv := c.manager.Current(c.sess)
	if conv == nil || conv.Status().IsTerminal() {
		c.term.println(dimStyle.Render("nothing to abort"))
		return
	}
	if err := c.manager.Abort(ctx, c.sess, "aborted by user"); err != nil {
		c.term.println(errorStyle.Render(err.Error()))
		return
	}
	c.term.ShowConversation(conv)
}

// report prints a dispatch error. Interrupts and failed conversations are
// shown, not returned.
func (c *CLI) report(ctx, runCtx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case runCtx.Err() != nil:
		c.term.println(dimStyle.Render("interrupted; type 'resume' to continue or 'abort' to stop"))
		return nil
	}
	c.term.println(errorStyle.Render(err.Error()))
	return nil
}
