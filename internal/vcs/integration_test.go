package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
)

var testAuthor = Author{Name: "Test User", Email: "test@example.com"}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// runGit runs git in dir and fails the test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-C", dir,
		"-c", "user.name=" + testAuthor.Name,
		"-c", "user.email=" + testAuthor.Email}, args...)
	out, err := exec.Command("git", full...).CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// setupRemote creates a bare repository to push to.
func setupRemote(t *testing.T) string {
	t.Helper()
	remote := filepath.Join(t.TempDir(), "remote.git")
	out, err := exec.Command("git", "init", "--bare", "--quiet", remote).CombinedOutput()
	require.NoError(t, err, string(out))
	return remote
}

func backends(t *testing.T) map[string]func(path string) Collaborator {
	return map[string]func(path string) Collaborator{
		BackendExec: func(path string) Collaborator {
			b, err := NewExecBackend(path, NewExecExecutor(), true)
			require.NoError(t, err)
			return b
		},
		BackendGoGit: func(path string) Collaborator {
			b, err := NewGoGitBackend(path, true)
			require.NoError(t, err)
			return b
		},
	}
}

func TestBackendsCommitAndPush(t *testing.T) {
	requireGit(t)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			remote := setupRemote(t)
			work := t.TempDir()
			repo := open(work)

			require.NoError(t, repo.CheckoutBranch(ctx, "master"))
			require.NoError(t, repo.EnsureRemote(ctx, "origin", remote))

			branch, err := repo.CurrentBranch(ctx)
			require.NoError(t, err)
			assert.Equal(t, "master", branch)

			writeFile(t, work, "a.txt", "alpha")
			writeFile(t, work, "dir/b.txt", "beta")

			changes, err := repo.Status(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt"}, changes.Untracked)

			_, err = repo.Commit(ctx, "empty", testAuthor)
			assert.ErrorIs(t, err, gitchunkErrors.ErrCommitFailed)

			require.NoError(t, repo.Stage(ctx, []string{"a.txt"}))
			first, err := repo.Commit(ctx, "batch 1/2", testAuthor)
			require.NoError(t, err)
			require.NoError(t, repo.Push(ctx, PushRequest{Remote: "origin", Branch: "master", Mode: PushConditional}))

			require.NoError(t, repo.Stage(ctx, []string{"dir/b.txt"}))
			second, err := repo.Commit(ctx, "batch 2/2", testAuthor)
			require.NoError(t, err)
			assert.NotEqual(t, first, second)

			pending, err := repo.PendingCommits(ctx, "origin", "master")
			require.NoError(t, err)
			assert.Equal(t, []CommitID{second}, pending)

			require.NoError(t, repo.Push(ctx, PushRequest{Remote: "origin", Branch: "master", Mode: PushConditional}))

			pending, err = repo.PendingCommits(ctx, "origin", "master")
			require.NoError(t, err)
			assert.Empty(t, pending)

			assert.Contains(t, runGit(t, remote, "log", "--format=%s%x09%an <%ae>%x09%cn <%ce>", "master"),
				"batch 2/2\tTest User <test@example.com>\tTest User <test@example.com>")

			require.NoError(t, repo.Tag(ctx, "v1"))
			require.NoError(t, repo.Tag(ctx, "v1"))
			require.NoError(t, repo.PushTag(ctx, "origin", "v1"))
			assert.Contains(t, runGit(t, remote, "tag"), "v1")
		})
	}
}

func TestBackendsRejectDivergedRemote(t *testing.T) {
	requireGit(t)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			remote := setupRemote(t)
			work := t.TempDir()
			repo := open(work)

			require.NoError(t, repo.CheckoutBranch(ctx, "master"))
			require.NoError(t, repo.EnsureRemote(ctx, "origin", remote))

			writeFile(t, work, "a.txt", "alpha")
			require.NoError(t, repo.Stage(ctx, []string{"a.txt"}))
			_, err := repo.Commit(ctx, "batch 1/2", testAuthor)
			require.NoError(t, err)
			require.NoError(t, repo.Push(ctx, PushRequest{Remote: "origin", Branch: "master", Mode: PushConditional}))

			// Someone else moves the remote branch.
			other := filepath.Join(t.TempDir(), "other")
			out, err := exec.Command("git", "clone", "--quiet", "--branch", "master", remote, other).CombinedOutput()
			require.NoError(t, err, string(out))
			writeFile(t, other, "theirs.txt", "theirs")
			runGit(t, other, "add", "theirs.txt")
			runGit(t, other, "commit", "--quiet", "-m", "theirs")
			runGit(t, other, "push", "--quiet", "origin", "master")

			writeFile(t, work, "b.txt", "beta")
			require.NoError(t, repo.Stage(ctx, []string{"b.txt"}))
			_, err = repo.Commit(ctx, "batch 2/2", testAuthor)
			require.NoError(t, err)

			err = repo.Push(ctx, PushRequest{Remote: "origin", Branch: "master", Mode: PushConditional})
			assert.ErrorIs(t, err, gitchunkErrors.ErrPushRejected)
			assert.NotErrorIs(t, err, gitchunkErrors.ErrPushNetwork)
		})
	}
}

func TestBackendsStagedLeftoversAndDeletes(t *testing.T) {
	requireGit(t)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			work := t.TempDir()
			repo := open(work)
			require.NoError(t, repo.CheckoutBranch(ctx, "master"))

			writeFile(t, work, "keep.txt", "keep")
			writeFile(t, work, "drop.txt", "drop")
			require.NoError(t, repo.Stage(ctx, []string{"keep.txt", "drop.txt"}))
			_, err := repo.Commit(ctx, "initial", testAuthor)
			require.NoError(t, err)

			require.NoError(t, os.Remove(filepath.Join(work, "drop.txt")))
			writeFile(t, work, "keep.txt", "changed")

			changes, err := repo.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"drop.txt"}, changes.Deleted)
			assert.Equal(t, []string{"keep.txt"}, changes.Modified)

			require.NoError(t, repo.Stage(ctx, []string{"keep.txt"}))
			staged, err := repo.HasStagedChanges(ctx)
			require.NoError(t, err)
			assert.True(t, staged)

			require.NoError(t, repo.ResetIndex(ctx))
			staged, err = repo.HasStagedChanges(ctx)
			require.NoError(t, err)
			assert.False(t, staged)

			require.NoError(t, repo.Remove(ctx, []string{"drop.txt"}))
			_, err = repo.Commit(ctx, "delete", testAuthor)
			require.NoError(t, err)

			changes, err = repo.Status(ctx)
			require.NoError(t, err)
			assert.Empty(t, changes.Deleted)
			assert.Equal(t, []string{"keep.txt"}, changes.Modified)
		})
	}
}

func TestIsRepository(t *testing.T) {
	requireGit(t)

	repo := t.TempDir()
	_, err := NewExecBackend(repo, NewExecExecutor(), true)
	require.NoError(t, err)

	ok, err := IsRepository(repo)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsRepository(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackendsStageBracketedNamesLiterally(t *testing.T) {
	requireGit(t)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			work := t.TempDir()
			repo := open(work)
			require.NoError(t, repo.CheckoutBranch(ctx, "master"))

			writeFile(t, work, "Movie [1080p].mkv", "feature")
			writeFile(t, work, "Movie 1.mkv", "trailer")
			writeFile(t, work, "clips/*.mkv", "odd name")
			writeFile(t, work, "clips/a.mkv", "clip")

			require.NoError(t, repo.Stage(ctx, []string{"Movie [1080p].mkv", "clips/*.mkv"}))
			_, err := repo.Commit(ctx, "batch 1/2", testAuthor)
			require.NoError(t, err)

			committed := runGit(t, work, "show", "--name-only", "--format=", "-z", "HEAD")
			assert.ElementsMatch(t, []string{"Movie [1080p].mkv", "clips/*.mkv"}, splitNUL(committed))

			changes, err := repo.Status(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"Movie 1.mkv", "clips/a.mkv"}, changes.Untracked)

			require.NoError(t, repo.Stage(ctx, []string{"Movie 1.mkv", "clips/a.mkv"}))
			_, err = repo.Commit(ctx, "batch 2/2", testAuthor)
			require.NoError(t, err)
		})
	}
}

func TestBackendsAdoptExistingRemoteBranch(t *testing.T) {
	requireGit(t)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			remote := setupRemote(t)

			// The remote already holds two commits from another machine.
			seed := filepath.Join(t.TempDir(), "seed")
			runGit(t, filepath.Dir(seed), "init", "--quiet", "--initial-branch=master", seed)
			writeFile(t, seed, "shared.txt", "v1")
			writeFile(t, seed, "remote-only.txt", "old")
			runGit(t, seed, "add", ".")
			runGit(t, seed, "commit", "--quiet", "-m", "first")
			writeFile(t, seed, "shared.txt", "v2")
			runGit(t, seed, "commit", "--quiet", "-am", "second")
			runGit(t, seed, "push", "--quiet", remote, "master")

			work := t.TempDir()
			repo := open(work)
			require.NoError(t, repo.CheckoutBranch(ctx, "master"))
			require.NoError(t, repo.EnsureRemote(ctx, "origin", remote))
			writeFile(t, work, "shared.txt", "v2")
			writeFile(t, work, "local.txt", "mine")

			require.NoError(t, repo.Fetch(ctx, "origin", "master"))
			adopted, err := repo.AdoptRemoteTip(ctx, "origin", "master")
			require.NoError(t, err)
			assert.True(t, adopted)

			changes, err := repo.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"local.txt"}, changes.Untracked)
			assert.Empty(t, changes.Modified)
			assert.Equal(t, []string{"remote-only.txt"}, changes.Deleted)

			pending, err := repo.PendingCommits(ctx, "origin", "master")
			require.NoError(t, err)
			assert.Empty(t, pending)

			require.NoError(t, repo.Stage(ctx, []string{"local.txt"}))
			_, err = repo.Commit(ctx, "batch 1/1", testAuthor)
			require.NoError(t, err)
			require.NoError(t, repo.Push(ctx, PushRequest{Remote: "origin", Branch: "master", Mode: PushConditional}))
			assert.Contains(t, runGit(t, remote, "log", "--format=%s", "master"), "second")

			adopted, err = repo.AdoptRemoteTip(ctx, "origin", "master")
			require.NoError(t, err)
			assert.False(t, adopted)
		})
	}
}

func TestBackendsFetchMissingRemoteBranch(t *testing.T) {
	requireGit(t)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			work := t.TempDir()
			repo := open(work)
			require.NoError(t, repo.CheckoutBranch(ctx, "master"))
			require.NoError(t, repo.EnsureRemote(ctx, "origin", setupRemote(t)))

			require.NoError(t, repo.Fetch(ctx, "origin", "master"))
			adopted, err := repo.AdoptRemoteTip(ctx, "origin", "master")
			require.NoError(t, err)
			assert.False(t, adopted)
		})
	}
}

func TestBackendsLeaseEarlierCommitPushes(t *testing.T) {
	requireGit(t)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			remote := setupRemote(t)
			work := t.TempDir()
			repo := open(work)
			require.NoError(t, repo.CheckoutBranch(ctx, "master"))
			require.NoError(t, repo.EnsureRemote(ctx, "origin", remote))

			writeFile(t, work, "a.txt", "alpha")
			require.NoError(t, repo.Stage(ctx, []string{"a.txt"}))
			_, err := repo.Commit(ctx, "batch 1/2", testAuthor)
			require.NoError(t, err)
			require.NoError(t, repo.Push(ctx, PushRequest{Remote: "origin", Branch: "master", Mode: PushConditional}))

			other := filepath.Join(t.TempDir(), "other")
			out, err := exec.Command("git", "clone", "--quiet", "--branch", "master", remote, other).CombinedOutput()
			require.NoError(t, err, string(out))
			writeFile(t, other, "theirs.txt", "theirs")
			runGit(t, other, "add", "theirs.txt")
			runGit(t, other, "commit", "--quiet", "-m", "theirs")
			runGit(t, other, "push", "--quiet", "origin", "master")

			writeFile(t, work, "b.txt", "beta")
			require.NoError(t, repo.Stage(ctx, []string{"b.txt"}))
			second, err := repo.Commit(ctx, "batch 2/2", testAuthor)
			require.NoError(t, err)

			req := PushRequest{Remote: "origin", Branch: "master", Commit: second, Mode: PushConditional}

			// The remote moved since it was last observed.
			err = repo.Push(ctx, req)
			assert.ErrorIs(t, err, gitchunkErrors.ErrPushRejected)

			diverged, err := repo.Diverged(ctx, "origin", "master")
			require.NoError(t, err)
			assert.False(t, diverged, "not fetched yet")
			require.NoError(t, repo.Fetch(ctx, "origin", "master"))
			diverged, err = repo.Diverged(ctx, "origin", "master")
			require.NoError(t, err)
			assert.True(t, diverged)

			// Once observed, the lease holds and the commit replaces the remote tip.
			require.NoError(t, repo.Push(ctx, req))
			assert.Equal(t, string(second)+"\n", runGit(t, remote, "rev-parse", "master"))
		})
	}
}

func splitNUL(s string) []string {
	var out []string
	for _, f := range strings.Split(s, "\x00") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
