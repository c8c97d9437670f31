package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/codefionn/parsec/internal/logger"
)

const waitDelay = time.Second

// RawResult is what the process primitive reports
type RawResult struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
}

// Executor runs one command. The caller bounds it with ctx.
type Executor interface {
	Execute(ctx context.Context, command, cwd string) (*RawResult, error)
}

// SpawnError marks failures to start the process at all
type SpawnError struct{ Err error }

func (e *SpawnError) Error() string { return "spawn: " + e.Err.Error() }
func (e *SpawnError) Unwrap() error { return e.Err }

// ShellExecutor runs commands with sh -c in their own process group and
// caps captured output per stream.
type ShellExecutor struct {
	Shell    string
	MaxBytes int
	Env      []string
}

// NewShellExecutor returns an executor using /bin/sh semantics
func NewShellExecutor(maxBytes int) *ShellExecutor {
	return &ShellExecutor{Shell: "sh", MaxBytes: maxBytes}
}

// Execute implements Executor. A non-zero exit is reported through
// RawResult.ExitStatus, not as an error.
func (s *ShellExecutor) Execute(ctx context.Context, command, cwd string) (*RawResult, error) {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = cwd
	cmd.Env = s.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	configureProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	stdout := newCappedBuffer(s.MaxBytes)
	stderr := newCappedBuffer(s.MaxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		if cmd.Process != nil {
			logger.Warn("exec: killing process group (pid=%d): %v", cmd.Process.Pid, ctx.Err())
			killProcessGroup(cmd)
		}
		<-done
		return &RawResult{ExitStatus: -1, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, ctx.Err()
	}

	res := &RawResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait: %w", waitErr)
		}
		res.ExitStatus = exitErr.ExitCode()
	}
	return res, nil
}

// cappedBuffer keeps the first limit bytes and counts the rest
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
	total int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += len(p)
	if c.limit <= 0 {
		return c.buf.Write(p)
	}
	// Keep one byte past the limit so truncation can be detected later.
	room := c.limit + 1 - c.buf.Len()
	if room > 0 {
		if room > len(p) {
			room = len(p)
		}
		c.buf.Write(p[:room])
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

var _ io.Writer = (*cappedBuffer)(nil)
