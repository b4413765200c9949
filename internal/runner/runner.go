// Package runner runs external tools such as the package indexer.
//
// Callers depend on the [Runner] interface so tests can substitute a [Func]
// that fakes the tool's side effects instead of spawning processes.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Command describes one invocation.
type Command struct {
	Args []string // argv; Args[0] is resolved through PATH
	Dir  string   // working directory, empty for the current one
	Env  []string // extra KEY=VALUE pairs appended to the environment
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner runs commands. A non-zero exit is reported through Result, not as
// an error; errors mean the command could not be run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Func adapts a function to the Runner interface.
type Func func(ctx context.Context, cmd Command) (*Result, error)

// Run calls f.
func (f Func) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// Exec runs commands as child processes.
type Exec struct {
	Logger *zap.Logger
}

// NewExec returns an Exec runner logging to logger.
func NewExec(logger *zap.Logger) *Exec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{Logger: logger}
}

// Run executes cmd and captures its output.
func (e *Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("runner: empty command")
	}

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("runner: %s: %w", cmd, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	e.Logger.Debug("command finished",
		zap.Stringer("cmd", cmd),
		zap.String("dir", cmd.Dir),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}
