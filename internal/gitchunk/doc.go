// Package gitchunk drives a batched commit-and-push run.
//
// A run prepares the repository (branch, remote, leftover index state), pushes
// local commits a previous run left behind, plans the working tree into
// batches and then, for each batch in order, stages it, commits it and pushes
// the commit before pausing for the next one.
//
// The first failure halts the run. Because batches are strictly sequential
// the repository is always left in one of a few states: everything before the
// halting batch is pushed, the halting batch may be committed locally, and
// nothing after it has been staged. Running again resumes from there.
package gitchunk
