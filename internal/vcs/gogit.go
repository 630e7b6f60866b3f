package vcs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
)

// GoGitBackend implements Collaborator in-process with go-git.
type GoGitBackend struct {
	repo *git.Repository
	wt   *git.Worktree
}

// NewGoGitBackend opens the repository at repoPath. With initRepo a missing
// repository is created.
func NewGoGitBackend(repoPath string, initRepo bool) (*GoGitBackend, error) {
	repo, err := git.PlainOpen(repoPath)
	if errors.Is(err, git.ErrRepositoryNotExists) && initRepo {
		repo, err = git.PlainInit(repoPath, false)
	}
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, gitchunkErrors.Wrapf(gitchunkErrors.ErrNotGitRepository, "%s", repoPath)
		}
		return nil, gitchunkErrors.NewGitError("open", []string{repoPath}, err, "")
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, gitchunkErrors.NewGitError("worktree", nil, err, "")
	}

	return &GoGitBackend{repo: repo, wt: wt}, nil
}

// Stage implements Collaborator.Stage
func (b *GoGitBackend) Stage(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		// SkipStatus: Add would otherwise rescan the whole tree for every path.
		if err := b.wt.AddWithOptions(&git.AddOptions{Path: p, SkipStatus: true}); err != nil {
			return gitchunkErrors.Errorf("%w: %w",
				gitchunkErrors.ErrStageFailed, gitchunkErrors.NewGitError("add", []string{p}, err, ""))
		}
	}
	return nil
}

// Remove implements Collaborator.Remove. Only the index is touched, like
// git rm --cached; Worktree.Remove would also delete files from disk.
func (b *GoGitBackend) Remove(ctx context.Context, paths []string) error {
	idx, err := b.repo.Storer.Index()
	if err != nil {
		return gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrStageFailed, err)
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := idx.Remove(p); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
			return gitchunkErrors.Errorf("%w: %w",
				gitchunkErrors.ErrStageFailed, gitchunkErrors.NewGitError("rm", []string{p}, err, ""))
		}
	}

	if err := b.repo.Storer.SetIndex(idx); err != nil {
		return gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrStageFailed, err)
	}
	return nil
}

// Commit implements Collaborator.Commit
func (b *GoGitBackend) Commit(ctx context.Context, message string, author Author) (CommitID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	staged, err := b.HasStagedChanges(ctx)
	if err != nil {
		return "", gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrCommitFailed, err)
	}
	if !staged {
		return "", gitchunkErrors.Wrap(gitchunkErrors.ErrCommitFailed, "nothing staged")
	}

	sig := &object.Signature{Name: author.Name, Email: author.Email, When: time.Now()}
	hash, err := b.wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", gitchunkErrors.Errorf("%w: %w",
			gitchunkErrors.ErrCommitFailed, gitchunkErrors.NewGitError("commit", nil, err, ""))
	}
	return CommitID(hash.String()), nil
}

// Push implements Collaborator.Push
func (b *GoGitBackend) Push(ctx context.Context, req PushRequest) error {
	branchRef := plumbing.NewBranchReferenceName(req.Branch)
	trackingRef := plumbing.NewRemoteReferenceName(req.Remote, req.Branch)

	src := branchRef.String()
	hash, err := b.resolve(req.Commit, branchRef)
	if err != nil {
		return gitchunkErrors.NewGitError("push", nil, err, "")
	}
	if req.Commit != "" {
		src = hash.String()
	}

	opts := &git.PushOptions{
		RemoteName: req.Remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(src + ":" + branchRef.String())},
	}

	// The lease needs a remote-tracking ref to compare against. Without one
	// (first push to this remote) the non-forced refspec already limits the
	// update to a fast-forward.
	if req.Mode != PushFastForward {
		if tracked, err := b.repo.Reference(trackingRef, true); err == nil {
			if req.Commit == "" {
				opts.ForceWithLease = &git.ForceWithLease{RefName: branchRef}
			} else {
				// go-git ignores the lease for hash refspecs, so it is checked
				// against the advertised refs before a forced update.
				if err := b.checkLease(ctx, req.Remote, branchRef, tracked.Hash()); err != nil {
					return err
				}
				opts.RefSpecs = []config.RefSpec{config.RefSpec("+" + src + ":" + branchRef.String())}
			}
		}
	}

	err = b.repo.PushContext(ctx, opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classifyGoGitPushError(err)
	}

	// Keep the remote-tracking ref current so the next lease and
	// PendingCommits see what the remote now holds.
	if err := b.repo.Storer.SetReference(plumbing.NewHashReference(trackingRef, hash)); err != nil {
		return gitchunkErrors.NewGitError("update-ref", []string{trackingRef.String()}, err, "")
	}
	return nil
}

// checkLease fails with ErrPushRejected unless the remote branch is still at expected.
func (b *GoGitBackend) checkLease(ctx context.Context, remoteName string, branchRef plumbing.ReferenceName, expected plumbing.Hash) error {
	remote, err := b.repo.Remote(remoteName)
	if err != nil {
		return gitchunkErrors.NewGitError("push", []string{remoteName}, err, "")
	}
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return classifyGoGitPushError(err)
	}

	actual := plumbing.ZeroHash
	for _, ref := range refs {
		if ref.Name() == branchRef {
			actual = ref.Hash()
			break
		}
	}
	if actual != expected {
		return &pushError{
			class: gitchunkErrors.ErrPushRejected,
			err: gitchunkErrors.NewGitError("push", []string{remoteName, branchRef.String()},
				fmt.Errorf("stale info: remote is at %s, expected %s", actual, expected), ""),
		}
	}
	return nil
}

// PushTag implements Collaborator.PushTag
func (b *GoGitBackend) PushTag(ctx context.Context, remote, tag string) error {
	ref := plumbing.NewTagReferenceName(tag).String()
	err := b.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(ref + ":" + ref)},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classifyGoGitPushError(err)
	}
	return nil
}

// Fetch implements Collaborator.Fetch. A branch without commits only needs
// the remote tip, so the fetch is shallow until the first local commit exists.
func (b *GoGitBackend) Fetch(ctx context.Context, remote, branch string) error {
	opts := &git.FetchOptions{
		RemoteName: remote,
		RefSpecs: []config.RefSpec{config.RefSpec(fmt.Sprintf("+%s:%s",
			plumbing.NewBranchReferenceName(branch), plumbing.NewRemoteReferenceName(remote, branch)))},
		Tags: git.NoTags,
	}
	if _, err := b.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		opts.Depth = 1
	}

	err := b.repo.FetchContext(ctx, opts)
	switch {
	case err == nil,
		errors.Is(err, git.NoErrAlreadyUpToDate),
		errors.Is(err, git.NoMatchingRefSpecError{}),
		errors.Is(err, transport.ErrEmptyRemoteRepository):
		return nil
	default:
		return gitchunkErrors.NewGitError("fetch", []string{remote, branch}, err, "")
	}
}

// AdoptRemoteTip implements Collaborator.AdoptRemoteTip
func (b *GoGitBackend) AdoptRemoteTip(ctx context.Context, remote, branch string) (bool, error) {
	if _, err := b.repo.Head(); !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	tracking, err := b.repo.Reference(plumbing.NewRemoteReferenceName(remote, branch), true)
	if err != nil {
		return false, nil
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := b.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, tracking.Hash())); err != nil {
		return false, gitchunkErrors.NewGitError("update-ref", []string{branchRef.String()}, err, "")
	}
	if err := b.wt.Reset(&git.ResetOptions{Commit: tracking.Hash(), Mode: git.MixedReset}); err != nil {
		return false, gitchunkErrors.NewGitError("reset", []string{tracking.Hash().String()}, err, "")
	}
	return true, nil
}

// Diverged implements Collaborator.Diverged
func (b *GoGitBackend) Diverged(ctx context.Context, remote, branch string) (bool, error) {
	local, err := b.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return false, nil
	}
	tracking, err := b.repo.Reference(plumbing.NewRemoteReferenceName(remote, branch), true)
	if err != nil || tracking.Hash() == local.Hash() {
		return false, nil
	}

	theirs, err := b.repo.CommitObject(tracking.Hash())
	if err != nil {
		return false, gitchunkErrors.NewGitError("merge-base", []string{tracking.Name().String()}, err, "")
	}
	ours, err := b.repo.CommitObject(local.Hash())
	if err != nil {
		return false, gitchunkErrors.NewGitError("merge-base", []string{local.Name().String()}, err, "")
	}
	contained, err := theirs.IsAncestor(ours)
	if err != nil {
		return false, gitchunkErrors.NewGitError("merge-base", []string{branch}, err, "")
	}
	return !contained, nil
}

// Status implements Collaborator.Status
func (b *GoGitBackend) Status(ctx context.Context) (Changes, error) {
	status, err := b.wt.Status()
	if err != nil {
		return Changes{}, gitchunkErrors.NewGitError("status", nil, err, "")
	}

	paths := make([]string, 0, len(status))
	for p := range status {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var changes Changes
	for _, p := range paths {
		s := status[p]
		switch {
		case s.Worktree == git.Untracked:
			changes.Untracked = append(changes.Untracked, p)
		case s.Worktree == git.Deleted || (s.Staging == git.Deleted && s.Worktree == git.Unmodified):
			changes.Deleted = append(changes.Deleted, p)
		case s.Worktree != git.Unmodified || s.Staging != git.Unmodified:
			changes.Modified = append(changes.Modified, p)
		}
	}
	return changes, nil
}

// HasStagedChanges implements Collaborator.HasStagedChanges
func (b *GoGitBackend) HasStagedChanges(ctx context.Context) (bool, error) {
	status, err := b.wt.Status()
	if err != nil {
		return false, gitchunkErrors.NewGitError("status", nil, err, "")
	}
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}

// ResetIndex implements Collaborator.ResetIndex
func (b *GoGitBackend) ResetIndex(ctx context.Context) error {
	if _, err := b.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Nothing committed yet: an empty index is the unstaged state
		return b.repo.Storer.SetIndex(&index.Index{Version: 2})
	}
	if err := b.wt.Reset(&git.ResetOptions{Mode: git.MixedReset}); err != nil {
		return gitchunkErrors.NewGitError("reset", nil, err, "")
	}
	return nil
}

// PendingCommits implements Collaborator.PendingCommits. It follows first
// parents from the branch tip back to the remote-tracking ref.
func (b *GoGitBackend) PendingCommits(ctx context.Context, remote, branch string) ([]CommitID, error) {
	tip, err := b.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, gitchunkErrors.NewGitError("rev-list", []string{branch}, err, "")
	}

	var stop plumbing.Hash
	if tracking, err := b.repo.Reference(plumbing.NewRemoteReferenceName(remote, branch), true); err == nil {
		stop = tracking.Hash()
	}

	var commits []CommitID
	c, err := b.repo.CommitObject(tip.Hash())
	for err == nil && c.Hash != stop {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		commits = append(commits, CommitID(c.Hash.String()))
		if c.NumParents() == 0 {
			break
		}
		c, err = c.Parent(0)
	}
	if err != nil {
		return nil, gitchunkErrors.NewGitError("rev-list", []string{branch}, err, "")
	}

	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// CurrentBranch implements Collaborator.CurrentBranch
func (b *GoGitBackend) CurrentBranch(ctx context.Context) (string, error) {
	head, err := b.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", gitchunkErrors.NewGitError("symbolic-ref", nil, err, "")
	}
	if head.Type() != plumbing.SymbolicReference {
		return "", gitchunkErrors.NewGitError("symbolic-ref", nil,
			fmt.Errorf("HEAD is detached at %s", head.Hash()), "")
	}
	return head.Target().Short(), nil
}

// CheckoutBranch implements Collaborator.CheckoutBranch
func (b *GoGitBackend) CheckoutBranch(ctx context.Context, branch string) error {
	if current, err := b.CurrentBranch(ctx); err == nil && current == branch {
		return nil
	}

	ref := plumbing.NewBranchReferenceName(branch)

	if _, err := b.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		if err := b.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, ref)); err != nil {
			return gitchunkErrors.NewGitError("symbolic-ref", []string{ref.String()}, err, "")
		}
		return nil
	}

	_, err := b.repo.Reference(ref, true)
	opts := &git.CheckoutOptions{Branch: ref, Create: err != nil, Keep: true}
	if err := b.wt.Checkout(opts); err != nil {
		return gitchunkErrors.NewGitError("checkout", []string{branch}, err, "")
	}
	return nil
}

// EnsureRemote implements Collaborator.EnsureRemote
func (b *GoGitBackend) EnsureRemote(ctx context.Context, name, url string) error {
	if url == "" {
		return nil
	}

	remote, err := b.repo.Remote(name)
	if errors.Is(err, git.ErrRemoteNotFound) {
		_, err = b.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
		if err != nil {
			return gitchunkErrors.NewGitError("remote add", []string{name, url}, err, "")
		}
		return nil
	}
	if err != nil {
		return gitchunkErrors.NewGitError("remote", []string{name}, err, "")
	}

	if urls := remote.Config().URLs; len(urls) > 0 && urls[0] == url {
		return nil
	}

	cfg, err := b.repo.Config()
	if err != nil {
		return gitchunkErrors.NewGitError("config", nil, err, "")
	}
	cfg.Remotes[name].URLs = []string{url}
	if err := b.repo.SetConfig(cfg); err != nil {
		return gitchunkErrors.NewGitError("remote set-url", []string{name, url}, err, "")
	}
	return nil
}

// Tag implements Collaborator.Tag
func (b *GoGitBackend) Tag(ctx context.Context, name string) error {
	head, err := b.repo.Head()
	if err != nil {
		return gitchunkErrors.NewGitError("tag", []string{name}, err, "")
	}
	if _, err := b.repo.CreateTag(name, head.Hash(), nil); err != nil && !errors.Is(err, git.ErrTagExists) {
		return gitchunkErrors.NewGitError("tag", []string{name}, err, "")
	}
	return nil
}

func (b *GoGitBackend) resolve(commit CommitID, branchRef plumbing.ReferenceName) (plumbing.Hash, error) {
	if commit != "" {
		return plumbing.NewHash(string(commit)), nil
	}
	ref, err := b.repo.Reference(branchRef, true)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}

func classifyGoGitPushError(err error) error {
	wrapped := gitchunkErrors.NewGitError("push", nil, err, "")
	if errors.Is(err, git.ErrNonFastForwardUpdate) || errors.Is(err, git.ErrForceNeeded) {
		return &pushError{class: gitchunkErrors.ErrPushRejected, err: wrapped}
	}
	return classifyPushError(wrapped, "")
}
