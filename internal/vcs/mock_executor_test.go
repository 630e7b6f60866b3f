package vcs

import (
	"context"
	"strings"
)

// MockCommandExecutor records git invocations instead of running them.
// Respond decides the output and error per call; by default calls succeed
// with empty output.
type MockCommandExecutor struct {
	Commands [][]string
	Respond  func(args []string) (string, error)
}

// ExecuteWithContext implements the CommandExecutor interface
func (m *MockCommandExecutor) ExecuteWithContext(ctx context.Context, name string, args ...string) error {
	_, err := m.ExecuteWithContextAndOutput(ctx, name, args...)
	return err
}

// ExecuteWithContextAndOutput implements the CommandExecutor interface
func (m *MockCommandExecutor) ExecuteWithContextAndOutput(ctx context.Context, name string, args ...string) (string, error) {
	m.Commands = append(m.Commands, args)
	if m.Respond != nil {
		return m.Respond(args)
	}
	return "", nil
}

// Subcommands returns the recorded commands without the leading
// -C <repo> -c safe.directory=<repo> options.
func (m *MockCommandExecutor) Subcommands() []string {
	out := make([]string, 0, len(m.Commands))
	for _, args := range m.Commands {
		out = append(out, strings.Join(subcommand(args), " "))
	}
	return out
}

func subcommand(args []string) []string {
	if len(args) > 2 && args[0] == "-C" {
		args = args[2:]
	}
	if len(args) > 2 && args[0] == "-c" && strings.HasPrefix(args[1], "safe.directory=") {
		args = args[2:]
	}
	return args
}

// has reports whether args contains the given subcommand word sequence.
func has(args []string, words ...string) bool {
	joined := " " + strings.Join(args, " ") + " "
	return strings.Contains(joined, " "+strings.Join(words, " ")+" ")
}
