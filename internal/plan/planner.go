package plan

import (
	"bufio"
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/spf13/afero"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
	"github.com/bashhack/gitchunk/internal/logger"
	"github.com/bashhack/gitchunk/internal/vcs"
)

const gitDir = ".git"

// ChangeSource reports the working tree state. vcs.Collaborator implements it.
type ChangeSource interface {
	Status(ctx context.Context) (vcs.Changes, error)
}

// Options control a single planning pass.
type Options struct {
	Root         string
	MaxFileSize  int64
	MaxBatchSize int64

	// Changes restricts planning to untracked and modified files and adds a
	// delete batch for tracked files that disappeared. Nil plans every file.
	Changes ChangeSource
}

// Planner builds plans from a filesystem.
type Planner struct {
	fs     afero.Fs
	logger logger.Logger
}

// New creates a Planner over fs.
func New(fs afero.Fs, log logger.Logger) *Planner {
	return &Planner{fs: fs, logger: log}
}

// Plan walks opts.Root and returns the batches to commit.
func (p *Planner) Plan(ctx context.Context, opts Options) (*Plan, error) {
	if opts.MaxFileSize <= 0 {
		return nil, gitchunkErrors.NewConfigError("max-file-size", opts.MaxFileSize,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, "must be positive"))
	}
	if opts.MaxBatchSize <= 0 {
		return nil, gitchunkErrors.NewConfigError("max-batch-size", opts.MaxBatchSize,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, "must be positive"))
	}

	var pending map[string]struct{}
	var deleted []string
	if opts.Changes != nil {
		changes, err := opts.Changes.Status(ctx)
		if err != nil {
			return nil, gitchunkErrors.Wrap(err, "failed to read working tree status")
		}
		pending = changes.Pending()
		deleted = append(deleted, changes.Deleted...)
		sort.Strings(deleted)
	}

	entries, skipped, err := p.walk(ctx, opts, pending)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Root:         opts.Root,
		Skipped:      skipped,
		Deleted:      deleted,
		MaxFileSize:  opts.MaxFileSize,
		MaxBatchSize: opts.MaxBatchSize,
	}

	if len(deleted) > 0 {
		del := Batch{Index: 1, Kind: KindDelete}
		for _, d := range deleted {
			del.Files = append(del.Files, FileEntry{Path: d})
		}
		plan.Batches = append(plan.Batches, del)
	}

	for _, b := range Group(entries, opts.MaxBatchSize) {
		b.Index = len(plan.Batches) + 1
		plan.Batches = append(plan.Batches, b)
	}

	p.logger.Info("Planned %d batches (%d files, %d bytes, %d skipped, %d deleted) under %s",
		len(plan.Batches), len(entries), plan.TotalSize(), len(skipped), len(deleted), opts.Root)

	return plan, nil
}

// walk collects plannable files in lexical order. With a pending set, git
// status decides which files are planned and ignore rules only prune
// directories holding no pending file: a tracked file stays tracked even when
// an ignore rule matches it.
func (p *Planner) walk(ctx context.Context, opts Options, pending map[string]struct{}) ([]FileEntry, []SkippedFile, error) {
	var entries []FileEntry
	var skipped []SkippedFile

	pendingDirs := ancestors(pending)

	patterns := p.readPatterns(filepath.Join(opts.Root, gitDir, "info", "exclude"), nil)

	err := afero.Walk(p.fs, opts.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(opts.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel == gitDir {
				return filepath.SkipDir
			}
			if rel != "." {
				if isNestedGitDir(rel) {
					return gitchunkErrors.Wrapf(gitchunkErrors.ErrNestedRepository, "%s", rel)
				}
				_, holdsPending := pendingDirs[rel]
				if !holdsPending && gitignore.NewMatcher(patterns).Match(strings.Split(rel, "/"), true) {
					return filepath.SkipDir
				}
			}
			var domain []string
			if rel != "." {
				domain = strings.Split(rel, "/")
			}
			patterns = append(patterns, p.readPatterns(filepath.Join(path, ".gitignore"), domain)...)
			return nil
		}

		if isNestedGitDir(rel) {
			// A .git file marks a submodule or linked worktree.
			return gitchunkErrors.Wrapf(gitchunkErrors.ErrNestedRepository, "%s", rel)
		}
		if pending != nil {
			if _, ok := pending[rel]; !ok {
				return nil
			}
		} else if gitignore.NewMatcher(patterns).Match(strings.Split(rel, "/"), false) {
			return nil
		}

		symlink := info.Mode()&os.ModeSymlink != 0
		if !symlink && !info.Mode().IsRegular() {
			p.logger.Warning("Skipping %s: not a regular file", rel)
			return nil
		}

		entry := FileEntry{Path: rel, Size: info.Size(), Symlink: symlink}
		if entry.Size > opts.MaxFileSize {
			reason := &gitchunkErrors.FileTooLargeError{Path: rel, Size: entry.Size, Limit: opts.MaxFileSize}
			skipped = append(skipped, SkippedFile{Entry: entry, Reason: reason})
			p.logger.WarningToUser("Skipping %s", reason)
			return nil
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return entries, skipped, nil
}

// ancestors returns every directory above the given slash-separated paths.
func ancestors(paths map[string]struct{}) map[string]struct{} {
	dirs := make(map[string]struct{})
	for p := range paths {
		for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if _, seen := dirs[dir]; seen {
				break
			}
			dirs[dir] = struct{}{}
		}
	}
	return dirs
}

// isNestedGitDir reports whether rel names a .git entry below the root.
func isNestedGitDir(rel string) bool {
	return rel != gitDir && strings.HasSuffix(rel, "/"+gitDir)
}

// readPatterns parses an ignore file. A missing or unreadable file yields no patterns.
func (p *Planner) readPatterns(path string, domain []string) []gitignore.Pattern {
	f, err := p.fs.Open(path)
	if err != nil {
		return nil
	}
	defer func() {
		if err := f.Close(); err != nil {
			p.logger.Warning("Failed to close %s: %v", path, err)
		}
	}()

	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, domain))
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warning("Failed to read %s: %v", path, err)
	}
	return patterns
}
