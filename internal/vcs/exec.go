package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
)

// maxPathsPerCommand bounds the argument list of a single git add/rm so very
// large batches stay under the OS argument length limit.
const maxPathsPerCommand = 200

// ExecBackend implements Collaborator by running the git binary.
type ExecBackend struct {
	repoPath string
	// safeDir is the absolute repository path, passed as safe.directory so git
	// does not refuse a tree owned by another user.
	safeDir  string
	executor CommandExecutor
}

// NewExecBackend creates an ExecBackend for repoPath. With initRepo a missing
// repository is created with git init.
func NewExecBackend(repoPath string, executor CommandExecutor, initRepo bool) (*ExecBackend, error) {
	if repoPath == "" {
		return nil, fmt.Errorf("repository path must not be empty")
	}
	if executor == nil {
		executor = NewExecExecutor()
	}

	safeDir, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, gitchunkErrors.Wrap(err, "failed to resolve repository path")
	}
	b := &ExecBackend{repoPath: repoPath, safeDir: safeDir, executor: executor}

	if initRepo {
		if _, err := os.Stat(filepath.Join(repoPath, ".git")); os.IsNotExist(err) {
			if err := executor.ExecuteWithContext(context.Background(), "git", "init", "--quiet", repoPath); err != nil {
				return nil, gitchunkErrors.Wrap(err, "failed to initialize repository")
			}
		}
	}

	return b, nil
}

// Stage implements Collaborator.Stage. Paths are literal file names, never
// glob patterns.
func (b *ExecBackend) Stage(ctx context.Context, paths []string) error {
	for _, chunk := range chunkPaths(paths) {
		args := append([]string{"--literal-pathspecs", "add", "--"}, chunk...)
		if err := b.runGitCommand(ctx, args...); err != nil {
			return gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrStageFailed, err)
		}
	}
	return nil
}

// Remove implements Collaborator.Remove
func (b *ExecBackend) Remove(ctx context.Context, paths []string) error {
	for _, chunk := range chunkPaths(paths) {
		args := append([]string{"--literal-pathspecs", "rm", "--cached", "--quiet", "--ignore-unmatch", "--"}, chunk...)
		if err := b.runGitCommand(ctx, args...); err != nil {
			return gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrStageFailed, err)
		}
	}
	return nil
}

// Commit implements Collaborator.Commit
func (b *ExecBackend) Commit(ctx context.Context, message string, author Author) (CommitID, error) {
	staged, err := b.HasStagedChanges(ctx)
	if err != nil {
		return "", gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrCommitFailed, err)
	}
	if !staged {
		return "", gitchunkErrors.Wrap(gitchunkErrors.ErrCommitFailed, "nothing staged")
	}

	err = b.runGitCommand(ctx,
		"-c", "user.name="+author.Name,
		"-c", "user.email="+author.Email,
		"commit", "--quiet",
		"--author", author.String(),
		"-m", message)
	if err != nil {
		return "", gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrCommitFailed, err)
	}

	out, err := b.runGitCommandWithOutput(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrCommitFailed, err)
	}
	return CommitID(strings.TrimSpace(out)), nil
}

// Push implements Collaborator.Push
func (b *ExecBackend) Push(ctx context.Context, req PushRequest) error {
	src := "HEAD"
	if req.Commit != "" {
		src = string(req.Commit)
	}
	dst := "refs/heads/" + req.Branch

	args := []string{"push", "--porcelain"}
	if req.Mode != PushFastForward {
		// Lease against the remote-tracking ref: if the remote branch moved
		// since we last observed it, git refuses with "stale info".
		args = append(args, "--force-with-lease="+dst)
	}
	args = append(args, req.Remote, src+":"+dst)

	out, err := b.runGitCommandWithOutput(ctx, args...)
	if err != nil {
		return classifyPushError(err, out)
	}
	return nil
}

// PushTag implements Collaborator.PushTag
func (b *ExecBackend) PushTag(ctx context.Context, remote, tag string) error {
	ref := "refs/tags/" + tag
	out, err := b.runGitCommandWithOutput(ctx, "push", "--porcelain", remote, ref+":"+ref)
	if err != nil {
		return classifyPushError(err, out)
	}
	return nil
}

// Fetch implements Collaborator.Fetch. A branch without commits only needs
// the remote tip, so the fetch is shallow until the first local commit exists.
func (b *ExecBackend) Fetch(ctx context.Context, remote, branch string) error {
	args := []string{"fetch", "--quiet", "--no-tags"}
	if !b.refExists(ctx, "HEAD") {
		args = append(args, "--depth=1")
	}
	args = append(args, remote, fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remote, branch))

	if err := b.runGitCommand(ctx, args...); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "couldn't find remote ref") {
			return nil
		}
		return err
	}
	return nil
}

// AdoptRemoteTip implements Collaborator.AdoptRemoteTip
func (b *ExecBackend) AdoptRemoteTip(ctx context.Context, remote, branch string) (bool, error) {
	tracking := fmt.Sprintf("refs/remotes/%s/%s", remote, branch)
	if b.refExists(ctx, "HEAD") || !b.refExists(ctx, tracking) {
		return false, nil
	}

	if err := b.runGitCommand(ctx, "update-ref", "refs/heads/"+branch, tracking); err != nil {
		return false, err
	}
	// Mixed reset: the index takes the remote tree, the working tree stays.
	if err := b.runGitCommand(ctx, "reset", "--quiet", "--mixed"); err != nil {
		return false, err
	}
	return true, nil
}

// Diverged implements Collaborator.Diverged
func (b *ExecBackend) Diverged(ctx context.Context, remote, branch string) (bool, error) {
	local := "refs/heads/" + branch
	tracking := fmt.Sprintf("refs/remotes/%s/%s", remote, branch)
	if !b.refExists(ctx, local) || !b.refExists(ctx, tracking) {
		return false, nil
	}

	out, err := b.runGitCommandWithOutput(ctx, "rev-list", "--count", local+".."+tracking)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "0", nil
}

// Status implements Collaborator.Status
func (b *ExecBackend) Status(ctx context.Context) (Changes, error) {
	entries, err := b.statusEntries(ctx)
	if err != nil {
		return Changes{}, err
	}

	var changes Changes
	for _, e := range entries {
		switch {
		case e.x == '?' && e.y == '?':
			changes.Untracked = append(changes.Untracked, e.path)
		case e.y == 'D' || (e.x == 'D' && e.y == ' '):
			changes.Deleted = append(changes.Deleted, e.path)
		case e.x == '!':
			// ignored entries are never requested, but skip them if a config forces them
		default:
			changes.Modified = append(changes.Modified, e.path)
		}
	}
	return changes, nil
}

// HasStagedChanges implements Collaborator.HasStagedChanges
func (b *ExecBackend) HasStagedChanges(ctx context.Context) (bool, error) {
	entries, err := b.statusEntries(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.x != ' ' && e.x != '?' && e.x != '!' {
			return true, nil
		}
	}
	return false, nil
}

// ResetIndex implements Collaborator.ResetIndex
func (b *ExecBackend) ResetIndex(ctx context.Context) error {
	return b.runGitCommand(ctx, "reset", "--quiet")
}

// PendingCommits implements Collaborator.PendingCommits
func (b *ExecBackend) PendingCommits(ctx context.Context, remote, branch string) ([]CommitID, error) {
	if !b.refExists(ctx, "HEAD") {
		// Unborn branch: nothing committed yet
		return nil, nil
	}

	rangeArg := "refs/heads/" + branch
	tracking := fmt.Sprintf("refs/remotes/%s/%s", remote, branch)
	if b.refExists(ctx, tracking) {
		rangeArg = tracking + ".." + rangeArg
	}

	out, err := b.runGitCommandWithOutput(ctx, "rev-list", "--reverse", rangeArg)
	if err != nil {
		return nil, err
	}

	var commits []CommitID
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			commits = append(commits, CommitID(line))
		}
	}
	return commits, nil
}

// CurrentBranch implements Collaborator.CurrentBranch
func (b *ExecBackend) CurrentBranch(ctx context.Context) (string, error) {
	out, err := b.runGitCommandWithOutput(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CheckoutBranch implements Collaborator.CheckoutBranch
func (b *ExecBackend) CheckoutBranch(ctx context.Context, branch string) error {
	if current, err := b.CurrentBranch(ctx); err == nil && current == branch {
		return nil
	}

	ref := "refs/heads/" + branch
	switch {
	case !b.refExists(ctx, "HEAD"):
		// A repository without commits only needs HEAD pointed at the branch
		return b.runGitCommand(ctx, "symbolic-ref", "HEAD", ref)
	case b.refExists(ctx, ref):
		return b.runGitCommand(ctx, "checkout", "--quiet", branch)
	default:
		return b.runGitCommand(ctx, "checkout", "--quiet", "-b", branch)
	}
}

// EnsureRemote implements Collaborator.EnsureRemote
func (b *ExecBackend) EnsureRemote(ctx context.Context, name, url string) error {
	if url == "" {
		return nil
	}

	current, err := b.runGitCommandWithOutput(ctx, "remote", "get-url", name)
	if err != nil {
		return b.runGitCommand(ctx, "remote", "add", name, url)
	}
	if strings.TrimSpace(current) != url {
		return b.runGitCommand(ctx, "remote", "set-url", name, url)
	}
	return nil
}

// Tag implements Collaborator.Tag
func (b *ExecBackend) Tag(ctx context.Context, name string) error {
	if b.refExists(ctx, "refs/tags/"+name) {
		return nil
	}
	return b.runGitCommand(ctx, "tag", name)
}

type statusEntry struct {
	x, y byte
	path string
}

// statusEntries parses `git status --porcelain=v1 -z`. Rename and copy
// entries carry their source path in the following field, which is skipped.
func (b *ExecBackend) statusEntries(ctx context.Context) ([]statusEntry, error) {
	out, err := b.runGitCommandWithOutput(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	fields := strings.Split(out, "\x00")
	entries := make([]statusEntry, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) < 4 {
			continue
		}
		e := statusEntry{x: f[0], y: f[1], path: f[3:]}
		entries = append(entries, e)
		if e.x == 'R' || e.x == 'C' {
			i++
		}
	}
	return entries, nil
}

func (b *ExecBackend) refExists(ctx context.Context, ref string) bool {
	_, err := b.runGitCommandWithOutput(ctx, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

// runGitCommand executes a git command in the repository directory with context.
func (b *ExecBackend) runGitCommand(ctx context.Context, args ...string) error {
	return b.executor.ExecuteWithContext(ctx, "git", b.gitArgs(args)...)
}

// runGitCommandWithOutput executes a git command and returns its output with context.
func (b *ExecBackend) runGitCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	return b.executor.ExecuteWithContextAndOutput(ctx, "git", b.gitArgs(args)...)
}

func (b *ExecBackend) gitArgs(args []string) []string {
	return append([]string{"-C", b.repoPath, "-c", "safe.directory=" + b.safeDir}, args...)
}

func chunkPaths(paths []string) [][]string {
	var chunks [][]string
	for start := 0; start < len(paths); start += maxPathsPerCommand {
		end := start + maxPathsPerCommand
		if end > len(paths) {
			end = len(paths)
		}
		chunks = append(chunks, paths[start:end])
	}
	return chunks
}
