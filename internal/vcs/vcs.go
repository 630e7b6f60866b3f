package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
)

// Backend names accepted by Open.
const (
	BackendExec  = "exec"
	BackendGoGit = "go-git"
)

// Author is the identity recorded on every commit gitchunk creates.
type Author struct {
	Name  string
	Email string
}

// String formats the author the way git prints it.
func (a Author) String() string {
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// CommitID is the hex object id of a commit.
type CommitID string

// Short returns the abbreviated id used in user messages.
func (c CommitID) Short() string {
	if len(c) > 7 {
		return string(c[:7])
	}
	return string(c)
}

// PushMode selects how the remote ref is allowed to move.
type PushMode string

const (
	// PushConditional updates the remote ref only if it still points where the
	// local remote-tracking ref says it did (git push --force-with-lease).
	PushConditional PushMode = "conditional"

	// PushFastForward is a plain push: the remote accepts only fast-forwards.
	PushFastForward PushMode = "fast-forward"
)

// ParsePushMode validates a mode name.
func ParsePushMode(s string) (PushMode, error) {
	switch PushMode(strings.ToLower(strings.TrimSpace(s))) {
	case PushConditional:
		return PushConditional, nil
	case PushFastForward:
		return PushFastForward, nil
	default:
		return "", fmt.Errorf("unknown push mode %q (want %q or %q)", s, PushConditional, PushFastForward)
	}
}

// PushRequest describes one push of the branch tip (or a given commit) to a remote branch.
type PushRequest struct {
	Remote string
	Branch string
	// Commit is pushed instead of HEAD when set.
	Commit CommitID
	Mode   PushMode
}

// Changes is the working tree state relative to HEAD, as reported by git status.
// Paths are repository-relative and slash separated.
type Changes struct {
	Untracked []string
	Modified  []string
	Deleted   []string
}

// Pending returns the set of paths whose content has to be committed.
func (c Changes) Pending() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Untracked)+len(c.Modified))
	for _, p := range c.Untracked {
		set[p] = struct{}{}
	}
	for _, p := range c.Modified {
		set[p] = struct{}{}
	}
	return set
}

// Collaborator is the version-control surface gitchunk drives.
// Stage, Commit and Push are the primitives a run is built on; the remaining
// operations prepare the repository and let a run resume after interruption.
type Collaborator interface {
	// Stage adds the given paths to the index.
	Stage(ctx context.Context, paths []string) error

	// Remove stages the deletion of the given paths.
	Remove(ctx context.Context, paths []string) error

	// Commit records the index as a new commit on the current branch.
	// It fails with ErrCommitFailed when nothing is staged.
	Commit(ctx context.Context, message string, author Author) (CommitID, error)

	// Push sends the branch tip to the remote. Failures wrap ErrPushRejected
	// when the remote diverged and ErrPushNetwork otherwise.
	Push(ctx context.Context, req PushRequest) error

	// PushTag sends a tag to the remote.
	PushTag(ctx context.Context, remote, tag string) error

	// Status reports untracked, modified and deleted paths.
	Status(ctx context.Context) (Changes, error)

	// HasStagedChanges reports whether the index differs from HEAD.
	HasStagedChanges(ctx context.Context) (bool, error)

	// ResetIndex unstages everything, leaving the working tree untouched.
	ResetIndex(ctx context.Context) error

	// PendingCommits lists local commits not yet on the remote branch, oldest first.
	PendingCommits(ctx context.Context, remote, branch string) ([]CommitID, error)

	// CurrentBranch returns the checked out branch name.
	CurrentBranch(ctx context.Context) (string, error)

	// CheckoutBranch switches to branch, creating it when needed.
	CheckoutBranch(ctx context.Context, branch string) error

	// EnsureRemote adds the remote or updates its URL.
	EnsureRemote(ctx context.Context, name, url string) error

	// Fetch updates the remote-tracking ref of branch. A branch the remote
	// does not have yet is not an error.
	Fetch(ctx context.Context, remote, branch string) error

	// AdoptRemoteTip points a branch without commits at its remote-tracking
	// ref and loads that tree into the index. The working tree is untouched,
	// so local files are compared against what the remote already holds.
	// It reports whether the tip was adopted.
	AdoptRemoteTip(ctx context.Context, remote, branch string) (bool, error)

	// Diverged reports whether the remote-tracking ref holds commits the
	// local branch does not contain.
	Diverged(ctx context.Context, remote, branch string) (bool, error)

	// Tag creates a lightweight tag at HEAD. An existing tag is left alone.
	Tag(ctx context.Context, name string) error
}

// Open returns the collaborator for kind rooted at path. With initRepo the
// repository is created when path is not one yet.
func Open(kind, path string, initRepo bool) (Collaborator, error) {
	switch kind {
	case BackendExec, "":
		return NewExecBackend(path, NewExecExecutor(), initRepo)
	case BackendGoGit:
		return NewGoGitBackend(path, initRepo)
	default:
		return nil, gitchunkErrors.NewConfigError("backend", kind,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, "unknown backend"))
	}
}

// IsRepository checks if the given path is a git repository.
// If git exits with code 128 the path is treated as not a repository and no error is returned.
// For other errors (git not found, permission issues, etc) the error is returned.
// The path is trusted as a safe.directory, so a repository owned by another
// user is still recognized.
func IsRepository(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	executor := NewExecExecutor()
	err = executor.ExecuteWithContext(context.Background(), "git",
		"-C", path, "-c", "safe.directory="+abs, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		var exitErr *exec.ExitError
		if gitchunkErrors.As(err, &exitErr) && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
