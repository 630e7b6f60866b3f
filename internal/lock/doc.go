// Package lock keeps two gitchunk runs from driving the same working tree.
//
// A run stages, commits and pushes in a fixed order and expects nobody else
// to touch the index in between. The Locker takes an exclusive flock(2) on a
// per-repository lock file under the temp directory and records the owner's
// PID so a second run can report who holds it.
//
// Because the kernel drops a flock when its holder exits, a lock file left
// behind by a crashed run is reused on the next Acquire without any cleanup.
//
//	locker, err := lock.New(repoPath)
//	if err != nil {
//	    return err
//	}
//	if err := locker.Acquire(); err != nil {
//	    return err // errors.Is(err, errors.ErrAlreadyRunning) when another run is active
//	}
//	defer locker.Release()
//
// Only Unix-like systems are supported.
package lock
