package gitchunk

import (
	"time"

	"github.com/bashhack/gitchunk/internal/plan"
	"github.com/bashhack/gitchunk/internal/vcs"
)

// PushResult is the outcome of a push attempt.
type PushResult string

const (
	PushSucceeded PushResult = "success"
	PushRejected  PushResult = "rejected"
	PushNetwork   PushResult = "network"
)

// PushAttempt records one push. It is never modified after creation.
type PushAttempt struct {
	RunID string
	// BatchIndex is 0 for a commit left over from an earlier run.
	BatchIndex int
	Commit     vcs.CommitID
	Result     PushResult
	Err        error
	At         time.Time
}

// CommitRecord is a commit created during the run.
type CommitRecord struct {
	BatchIndex int
	Commit     vcs.CommitID
	Message    string
}

// Report summarises a run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Plan     *plan.Plan

	// Resumed lists commits from an earlier run pushed before planning.
	Resumed  []vcs.CommitID
	Commits  []CommitRecord
	Attempts []PushAttempt

	// Halted is set when a stage, commit or push failure stopped the run.
	// HaltedAt is the batch index it stopped at, 0 for a commit left over
	// from an earlier run.
	Halted   bool
	HaltedAt int
	Err      error
}

// Pushed counts successful push attempts.
func (r Report) Pushed() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Result == PushSucceeded {
			n++
		}
	}
	return n
}
