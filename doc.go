// Package gitchunk uploads a large working tree to a git remote in
// size-bounded pieces.
//
// Git hosts commonly cap the size of a single push and of a single file. A
// tree of many gigabytes cannot be pushed in one commit, and splitting it by
// hand is tedious and error prone. gitchunk plans the split, then commits and
// pushes one batch at a time, pausing between pushes.
//
// # Quick Start
//
//	# Inspect the plan first
//	gitchunk --repo /data/archive --dry-run
//
//	# Upload it, creating the repository and remote if needed
//	gitchunk --repo /data/archive --init --remote-url git@example.com:archive.git
//
// # How a Run Works
//
//   - The planner walks the tree in lexical order, honouring .gitignore and
//     .git/info/exclude, and refuses trees containing nested repositories.
//   - Files larger than --max-file-size are skipped and reported.
//   - The remaining files are grouped greedily into batches whose summed size
//     stays within --max-batch-size. A single file larger than the batch limit
//     (but within the file limit) travels alone.
//   - Deletions git reports are committed first, in their own batch.
//   - Each batch is staged, committed with a templated message and pushed.
//     Pushes are conditional by default, so a remote that moved on is never
//     overwritten.
//   - The first failure halts the run; its batch number is reported and the
//     process exits with status 1.
//
// # Restarting
//
// Commits made by an interrupted run but never pushed are pushed first by the
// next run. Files left in the index are unstaged before planning, after
// asking when running interactively.
//
// # Packages
//
//   - cmd/gitchunk: the command-line entry point
//   - internal/plan: the batch planner
//   - internal/gitchunk: the commit and push controller
//   - internal/vcs: git access through the git binary or go-git
//   - internal/pause: pacing between pushes
//   - internal/config, internal/logger, internal/lock, internal/errors: supporting infrastructure
package gitchunk
