package gitchunk

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/bashhack/gitchunk/internal/logger"
)

// UserInteractor asks the operator to confirm a step that changes repository state.
type UserInteractor interface {
	// Confirm asks question and returns the answer. An empty answer selects def.
	Confirm(question string, def bool) bool
}

// DefaultInteractor prompts on the terminal.
type DefaultInteractor struct {
	Reader io.Reader
	Logger logger.Logger
}

// NewDefaultInteractor creates a DefaultInteractor reading from stdin.
func NewDefaultInteractor(logger logger.Logger) *DefaultInteractor {
	return &DefaultInteractor{Reader: os.Stdin, Logger: logger}
}

// Confirm implements UserInteractor. Without a terminal to answer (stdin
// closed before anything was typed) it declines.
func (i *DefaultInteractor) Confirm(question string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	i.Logger.StatusMessage("%s [%s]: ", question, hint)

	answer, err := bufio.NewReader(i.Reader).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}

// NonInteractiveInteractor answers every question with its default.
type NonInteractiveInteractor struct{}

// NewNonInteractiveInteractor creates a NonInteractiveInteractor.
func NewNonInteractiveInteractor() *NonInteractiveInteractor {
	return &NonInteractiveInteractor{}
}

// Confirm implements UserInteractor.
func (NonInteractiveInteractor) Confirm(question string, def bool) bool {
	return def
}
