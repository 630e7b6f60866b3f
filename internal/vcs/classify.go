package vcs

import (
	"strings"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
)

// rejectionMarkers are fragments git and go-git print when the remote refused
// an update because its ref is not where we expected it.
var rejectionMarkers = []string{
	"[rejected]",
	"rejected",
	"stale info",
	"non-fast-forward",
	"fetch first",
	"failed to push some refs",
	"remote ref has changed",
	"force needed",
}

// isRejection reports whether git output describes a refused ref update.
// Transport failures are checked first: git may still print the generic
// "failed to push some refs" line after them.
func isRejection(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "could not read from remote") ||
		strings.Contains(lower, "unable to access") ||
		strings.Contains(lower, "could not resolve host") {
		return false
	}
	for _, marker := range rejectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// classifyPushError maps a failed push onto ErrPushRejected or ErrPushNetwork.
// The original error stays in the chain.
func classifyPushError(err error, output string) error {
	if err == nil {
		return nil
	}
	if isRejection(output) || isRejection(err.Error()) {
		return &pushError{class: gitchunkErrors.ErrPushRejected, err: err}
	}
	return &pushError{class: gitchunkErrors.ErrPushNetwork, err: err}
}

type pushError struct {
	class error
	err   error
}

func (e *pushError) Error() string {
	return e.class.Error() + ": " + e.err.Error()
}

func (e *pushError) Unwrap() []error {
	return []error{e.class, e.err}
}
