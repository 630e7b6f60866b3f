// Package errors defines the error taxonomy used throughout gitchunk.
//
// Sentinel errors identify a failure class and are matched with Is. Typed
// errors (GitError, LockError, ConfigError, BatchError, FileTooLargeError)
// carry context and unwrap to the sentinel they belong to, so callers can
// both print a precise message and branch on the class:
//
//	var batchErr *errors.BatchError
//	if errors.As(err, &batchErr) {
//	    fmt.Printf("halted at batch %d\n", batchErr.Index)
//	}
//	if errors.Is(err, errors.ErrPushRejected) {
//	    // remote diverged, operator must reconcile before re-running
//	}
//
// Only ErrFileTooLarge is informational. Every other class halts a run.
package errors
