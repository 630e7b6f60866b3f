package lock

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/multierr"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
)

// Locker holds the per-repository run lock.
type Locker struct {
	lockFile string
	lockFd   *os.File
	pid      int
}

// New creates a Locker for repoPath with its lock file in the temp directory.
func New(repoPath string) (*Locker, error) {
	return NewInDir(os.TempDir(), repoPath)
}

// NewInDir creates a Locker whose lock file lives in dir.
func NewInDir(dir, repoPath string) (*Locker, error) {
	if runtime.GOOS == "windows" {
		return nil, gitchunkErrors.NewLockError("", 0,
			gitchunkErrors.Wrap(gitchunkErrors.ErrLockAcquisitionFailure,
				"gitchunk only supports Unix-like operating systems (Linux, macOS, BSD)"))
	}

	repoHash := fmt.Sprintf("%x", sha256.Sum256([]byte(repoPath)))[:16]
	return &Locker{
		lockFile: filepath.Join(dir, fmt.Sprintf("gitchunk-%s.lock", repoHash)),
		pid:      os.Getpid(),
	}, nil
}

// Path returns the lock file path.
func (l *Locker) Path() string {
	return l.lockFile
}

// Acquire takes the lock or reports who holds it. A lock file whose owner
// has exited is taken over.
func (l *Locker) Acquire() error {
	if l.lockFd != nil {
		return nil
	}

	fd, err := os.OpenFile(l.lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return gitchunkErrors.NewLockError(l.lockFile, 0,
			gitchunkErrors.Wrap(gitchunkErrors.ErrLockAcquisitionFailure, err.Error()))
	}

	if err := syscall.Flock(int(fd.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = fd.Close()

		// EWOULDBLOCK and EAGAIN are distinct codes on some older Unix systems.
		if gitchunkErrors.Is(err, syscall.EWOULDBLOCK) || gitchunkErrors.Is(err, syscall.EAGAIN) {
			return l.heldError()
		}
		return gitchunkErrors.NewLockError(l.lockFile, 0,
			gitchunkErrors.Wrap(gitchunkErrors.ErrLockAcquisitionFailure, err.Error()))
	}

	if err := fd.Truncate(0); err == nil {
		_, err = fd.WriteAt([]byte(strconv.Itoa(l.pid)), 0)
	}
	if err != nil {
		_ = syscall.Flock(int(fd.Fd()), syscall.LOCK_UN)
		_ = fd.Close()
		return gitchunkErrors.NewLockError(l.lockFile, l.pid,
			gitchunkErrors.Wrap(err, "failed to write PID to lock file"))
	}

	l.lockFd = fd
	return nil
}

// heldError describes a lock that another open file description holds.
func (l *Locker) heldError() error {
	pid, err := l.readPid()
	if err != nil {
		return gitchunkErrors.NewLockError(l.lockFile, 0,
			gitchunkErrors.Wrap(gitchunkErrors.ErrAlreadyRunning, "owner PID unknown"))
	}
	if !isProcessRunning(pid) {
		// Held by a process outside our PID namespace, or one that has just exited.
		return gitchunkErrors.NewLockError(l.lockFile, pid,
			gitchunkErrors.Wrapf(gitchunkErrors.ErrLockAcquisitionFailure, "lock held but PID %d is not visible", pid))
	}
	return gitchunkErrors.NewLockError(l.lockFile, pid, gitchunkErrors.ErrAlreadyRunning)
}

func (l *Locker) readPid() (int, error) {
	data, err := os.ReadFile(l.lockFile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// isProcessRunning checks if a process exists using signal 0
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Release drops the lock and removes the lock file. It is a no-op when the
// lock is not held.
func (l *Locker) Release() error {
	if l.lockFd == nil {
		return nil
	}

	var err error

	// Remove before unlocking so a waiter never takes a file about to vanish.
	if removeErr := os.Remove(l.lockFile); removeErr != nil && !os.IsNotExist(removeErr) {
		err = multierr.Append(err, gitchunkErrors.Wrap(removeErr, "failed to remove lock file"))
	}
	if flockErr := syscall.Flock(int(l.lockFd.Fd()), syscall.LOCK_UN); flockErr != nil {
		err = multierr.Append(err, gitchunkErrors.Wrap(flockErr, "failed to release lock"))
	}
	if closeErr := l.lockFd.Close(); closeErr != nil {
		err = multierr.Append(err, gitchunkErrors.Wrap(closeErr, "failed to close lock file"))
	}
	l.lockFd = nil

	if err != nil {
		return gitchunkErrors.NewLockError(l.lockFile, l.pid, err)
	}
	return nil
}
