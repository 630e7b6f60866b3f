package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
)

// CommandExecutor runs external commands. It exists so tests can replace git.
type CommandExecutor interface {
	// ExecuteWithContext runs a command and reports failure as a *GitError.
	ExecuteWithContext(ctx context.Context, name string, args ...string) error

	// ExecuteWithContextAndOutput runs a command and returns its stdout.
	ExecuteWithContextAndOutput(ctx context.Context, name string, args ...string) (string, error)
}

// ExecExecutor is the default CommandExecutor, delegating to os/exec.
type ExecExecutor struct {
	// Env is appended to the process environment of every command.
	Env []string
}

// NewExecExecutor creates a new ExecExecutor
func NewExecExecutor() *ExecExecutor {
	return &ExecExecutor{
		// Never block on credential prompts; a push without credentials
		// must fail instead of waiting on a terminal nobody watches.
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	}
}

// ExecuteWithContext implements CommandExecutor.ExecuteWithContext
func (e *ExecExecutor) ExecuteWithContext(ctx context.Context, name string, args ...string) error {
	_, err := e.ExecuteWithContextAndOutput(ctx, name, args...)
	return err
}

// ExecuteWithContextAndOutput implements CommandExecutor.ExecuteWithContextAndOutput
func (e *ExecExecutor) ExecuteWithContextAndOutput(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Keep the *exec.ExitError reachable through errors.As so callers
		// can inspect exit codes, and tag it as a git failure.
		return stdout.String(), gitchunkErrors.NewGitError(operationName(args), args,
			&execFailure{err: err}, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

// operationName picks the git subcommand out of an argument list that may
// start with -C <path> and -c key=value pairs.
func operationName(args []string) string {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-C", "-c":
			i++
			continue
		}
		if !strings.HasPrefix(args[i], "-") {
			return args[i]
		}
	}
	return "command"
}

// execFailure wraps a process error so it matches both ErrGitOperationFailed
// and the underlying *exec.ExitError.
type execFailure struct {
	err error
}

func (f *execFailure) Error() string {
	return gitchunkErrors.ErrGitOperationFailed.Error() + ": " + f.err.Error()
}

func (f *execFailure) Unwrap() []error {
	return []error{gitchunkErrors.ErrGitOperationFailed, f.err}
}
