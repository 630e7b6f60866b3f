// Package vcstest provides an in-memory vcs.Collaborator for tests.
package vcstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
	"github.com/bashhack/gitchunk/internal/vcs"
)

// Commit is a commit recorded by Fake.
type Commit struct {
	ID      vcs.CommitID
	Message string
	Author  vcs.Author
	Added   []string
	Removed []string
}

// Fake records every call and simulates a linear branch with a remote.
// Errors can be injected per operation and per call number.
type Fake struct {
	mu sync.Mutex

	// Calls lists operations in the order they happened, e.g. "stage", "commit", "push".
	Calls []string

	Commits []Commit
	// Pushed holds the commits the remote has accepted, in order.
	Pushed []vcs.CommitID
	Pushes []vcs.PushRequest
	Tags   []string

	Changes        vcs.Changes
	StagedLeftover bool
	Branch         string
	Remotes        map[string]string

	// RemoteTip is the commit the remote branch already holds, if any. A
	// branch without commits adopts it after a fetch.
	RemoteTip vcs.CommitID
	FetchErr  error
	// RemoteAhead makes Diverged report commits missing from the local branch.
	RemoteAhead bool

	// Cancelled lists operations that were called with a done context.
	Cancelled []string
	// BeforeCommit runs at the start of every Commit call.
	BeforeCommit func()

	// StageErr, CommitErr and PushErr map a 1-based call number to the error
	// that call returns.
	StageErr  map[int]error
	CommitErr map[int]error
	PushErr   map[int]error

	staged      []string
	removed     []string
	stageCalls  int
	commitCalls int
	pushCalls   int
}

// New returns an empty Fake on branch master.
func New() *Fake {
	return &Fake{
		Branch:    "master",
		Remotes:   map[string]string{},
		StageErr:  map[int]error{},
		CommitErr: map[int]error{},
		PushErr:   map[int]error{},
	}
}

// Rejected returns a push error matching ErrPushRejected.
func Rejected() error {
	return gitchunkErrors.Wrap(gitchunkErrors.ErrPushRejected, "[rejected] master -> master (stale info)")
}

// Unreachable returns a push error matching ErrPushNetwork.
func Unreachable() error {
	return gitchunkErrors.Wrap(gitchunkErrors.ErrPushNetwork, "could not read from remote repository")
}

func (f *Fake) record(op string) {
	f.Calls = append(f.Calls, op)
}

func (f *Fake) observe(ctx context.Context, op string) {
	if ctx.Err() != nil {
		f.Cancelled = append(f.Cancelled, op)
	}
}

// Stage implements vcs.Collaborator
func (f *Fake) Stage(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stage")
	f.observe(ctx, "stage")
	f.stageCalls++
	if err := f.StageErr[f.stageCalls]; err != nil {
		return gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrStageFailed, err)
	}
	f.staged = append(f.staged, paths...)
	return nil
}

// Remove implements vcs.Collaborator
func (f *Fake) Remove(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove")
	f.observe(ctx, "remove")
	f.removed = append(f.removed, paths...)
	return nil
}

// Commit implements vcs.Collaborator
func (f *Fake) Commit(ctx context.Context, message string, author vcs.Author) (vcs.CommitID, error) {
	if f.BeforeCommit != nil {
		f.BeforeCommit()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("commit")
	f.observe(ctx, "commit")
	f.commitCalls++
	if err := f.CommitErr[f.commitCalls]; err != nil {
		return "", gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrCommitFailed, err)
	}
	if len(f.staged) == 0 && len(f.removed) == 0 {
		return "", gitchunkErrors.Wrap(gitchunkErrors.ErrCommitFailed, "nothing staged")
	}

	c := Commit{
		ID:      vcs.CommitID(fmt.Sprintf("%040x", len(f.Commits)+1)),
		Message: message,
		Author:  author,
		Added:   f.staged,
		Removed: f.removed,
	}
	f.Commits = append(f.Commits, c)
	f.staged, f.removed = nil, nil
	return c.ID, nil
}

// Push implements vcs.Collaborator. A push without a commit sends every
// local commit the remote does not have yet.
func (f *Fake) Push(ctx context.Context, req vcs.PushRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("push")
	f.observe(ctx, "push")
	f.pushCalls++
	f.Pushes = append(f.Pushes, req)
	if err := f.PushErr[f.pushCalls]; err != nil {
		return err
	}

	target := len(f.Commits)
	if req.Commit != "" {
		target = f.indexOf(req.Commit) + 1
	}
	for i := len(f.Pushed); i < target; i++ {
		f.Pushed = append(f.Pushed, f.Commits[i].ID)
	}
	return nil
}

// PushTag implements vcs.Collaborator
func (f *Fake) PushTag(ctx context.Context, remote, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("push-tag")
	return nil
}

// Status implements vcs.Collaborator
func (f *Fake) Status(ctx context.Context) (vcs.Changes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("status")
	return f.Changes, nil
}

// HasStagedChanges implements vcs.Collaborator
func (f *Fake) HasStagedChanges(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StagedLeftover || len(f.staged) > 0 || len(f.removed) > 0, nil
}

// ResetIndex implements vcs.Collaborator
func (f *Fake) ResetIndex(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset")
	f.StagedLeftover = false
	f.staged, f.removed = nil, nil
	return nil
}

// PendingCommits implements vcs.Collaborator
func (f *Fake) PendingCommits(ctx context.Context, remote, branch string) ([]vcs.CommitID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []vcs.CommitID
	for _, c := range f.Commits[len(f.Pushed):] {
		pending = append(pending, c.ID)
	}
	return pending, nil
}

// CurrentBranch implements vcs.Collaborator
func (f *Fake) CurrentBranch(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Branch, nil
}

// CheckoutBranch implements vcs.Collaborator
func (f *Fake) CheckoutBranch(ctx context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("checkout")
	f.Branch = branch
	return nil
}

// EnsureRemote implements vcs.Collaborator
func (f *Fake) EnsureRemote(ctx context.Context, name, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if url != "" {
		f.Remotes[name] = url
	}
	return nil
}

// Fetch implements vcs.Collaborator
func (f *Fake) Fetch(ctx context.Context, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch")
	return f.FetchErr
}

// AdoptRemoteTip implements vcs.Collaborator. The remote tip becomes the
// first local commit, already pushed.
func (f *Fake) AdoptRemoteTip(ctx context.Context, remote, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoteTip == "" || len(f.Commits) > 0 {
		return false, nil
	}
	f.record("adopt")
	f.Commits = append(f.Commits, Commit{ID: f.RemoteTip, Message: "remote tip"})
	f.Pushed = append(f.Pushed, f.RemoteTip)
	return true, nil
}

// Diverged implements vcs.Collaborator
func (f *Fake) Diverged(ctx context.Context, remote, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RemoteAhead, nil
}

// Tag implements vcs.Collaborator
func (f *Fake) Tag(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tag")
	f.Tags = append(f.Tags, name)
	return nil
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}

// Sequence returns the recorded calls joined by spaces.
func (f *Fake) Sequence() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.Calls, " ")
}

// SeedCommit adds a local commit that has not been pushed yet.
func (f *Fake) SeedCommit(message string) vcs.CommitID {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := Commit{ID: vcs.CommitID(fmt.Sprintf("%040x", len(f.Commits)+1)), Message: message}
	f.Commits = append(f.Commits, c)
	return c.ID
}

func (f *Fake) indexOf(id vcs.CommitID) int {
	for i, c := range f.Commits {
		if c.ID == id {
			return i
		}
	}
	return -1
}

var _ vcs.Collaborator = (*Fake)(nil)
