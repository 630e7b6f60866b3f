package gitchunk

import (
	"fmt"

	"github.com/bashhack/gitchunk/internal/pause"
	"github.com/bashhack/gitchunk/internal/vcs"
)

// DefaultCommitTemplate renders messages like
// "gitchunk: batch 2/5 | add 37 files (280MiB)".
const DefaultCommitTemplate = "gitchunk: batch {{index}}/{{total}} | {{action}} {{files}} files ({{size}})"

// GitchunkConfig contains configuration for a gitchunk run.
type GitchunkConfig struct {
	// RepoPath is the working tree to batch. Planning starts here.
	RepoPath string

	// MaxFileSize excludes larger files from the plan.
	MaxFileSize int64

	// MaxBatchSize bounds the summed size of a batch, except for a batch made
	// of a single oversize file.
	MaxBatchSize int64

	// Author is recorded as both author and committer.
	Author vcs.Author

	RemoteName string

	// RemoteURL, when set, is written to the remote before the run.
	RemoteURL string

	BranchName string

	PushMode vcs.PushMode

	// CommitTemplate is a mustache template for commit messages.
	CommitTemplate string

	// Tag, when set, is created at the final commit and pushed.
	Tag string

	// Policy decides the pause between pushes.
	Policy pause.Policy

	// PendingOnly plans only files git reports as new, modified or deleted.
	PendingOnly bool

	// ResetStaged unstages leftovers from an interrupted run when not prompting.
	ResetStaged bool

	NonInteractive bool

	// DryRun prints the plan and touches nothing.
	DryRun bool

	Verbose bool

	// RunID tags log records and push attempts. Generated when empty.
	RunID string
}

// Validate sanity-checks the config and returns an error if something is wrong.
func (c *GitchunkConfig) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("RepoPath must not be empty")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MaxFileSize must be > 0 (got %d)", c.MaxFileSize)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MaxBatchSize must be > 0 (got %d)", c.MaxBatchSize)
	}
	if c.Author.Name == "" || c.Author.Email == "" {
		return fmt.Errorf("author name and email must not be empty")
	}
	if c.RemoteName == "" {
		return fmt.Errorf("RemoteName must not be empty")
	}
	if c.BranchName == "" {
		return fmt.Errorf("BranchName must not be empty")
	}
	if _, err := vcs.ParsePushMode(string(c.PushMode)); err != nil {
		return err
	}
	if c.Policy == nil {
		return fmt.Errorf("pause policy must be set")
	}
	return nil
}
