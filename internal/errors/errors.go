package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors that can be used with errors.Is() for error type checking
var (
	// ErrNotGitRepository indicates the target path is not a git repository
	ErrNotGitRepository = errors.New("not a git repository")

	// ErrNestedRepository indicates a git repository was found below the working tree root.
	// git would record it as a submodule and silently drop its files.
	ErrNestedRepository = errors.New("nested git repository inside working tree")

	// ErrLockAcquisitionFailure indicates a lock file could not be acquired
	ErrLockAcquisitionFailure = errors.New("failed to acquire lock")

	// ErrAlreadyRunning indicates another gitchunk run holds the working copy
	ErrAlreadyRunning = errors.New("another gitchunk instance is already running for this repository")

	// ErrGitOperationFailed indicates a git command returned an error
	ErrGitOperationFailed = errors.New("git operation failed")

	// ErrInvalidConfiguration indicates an invalid or conflicting user configuration
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidFlag indicates a command-line flag could not be parsed
	ErrInvalidFlag = errors.New("invalid flag")

	// ErrFileTooLarge marks a file excluded from every batch because it exceeds
	// the per-file limit. It is informational and never fails a run.
	ErrFileTooLarge = errors.New("file exceeds maximum file size")

	// ErrStageFailed indicates files could not be added to the index
	ErrStageFailed = errors.New("staging failed")

	// ErrCommitFailed indicates a batch could not be staged or committed
	ErrCommitFailed = errors.New("commit failed")

	// ErrPushRejected indicates the remote ref moved since it was last observed
	ErrPushRejected = errors.New("push rejected: remote has diverged")

	// ErrPushNetwork indicates the push failed in transport
	ErrPushNetwork = errors.New("push failed: transport error")

	// ErrDirtyIndex indicates the index holds staged changes left over from an earlier run
	ErrDirtyIndex = errors.New("index has staged changes from a previous run")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Errorf creates a new formatted error.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// Wrap wraps an error with a message for better context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message for better context.
func Wrapf(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether target is in err's chain.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GitError is a failed git invocation. Output keeps everything git printed;
// Error shows only its most telling line.
type GitError struct {
	Operation string
	Args      []string
	Err       error
	Output    string
}

func (e *GitError) Error() string {
	msg := "git " + e.Operation + " failed"
	if line := lastOutputLine(e.Output); line != "" {
		msg += ": " + line
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// lastOutputLine picks the last line of git output that is not a hint.
func lastOutputLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !strings.HasPrefix(line, "hint:") {
			return line
		}
	}
	return ""
}

// NewGitError creates a new GitError with the given parameters.
func NewGitError(operation string, args []string, err error, output string) *GitError {
	return &GitError{
		Operation: operation,
		Args:      args,
		Err:       err,
		Output:    output,
	}
}

// LockError is a failure to take or release the run lock. PID is the
// holder when it is known.
type LockError struct {
	LockFile string
	PID      int
	Err      error
}

func (e *LockError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("lock %s (held by PID %d): %v", e.LockFile, e.PID, e.Err)
	}
	return fmt.Sprintf("lock %s: %v", e.LockFile, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// NewLockError creates a new LockError with the given parameters.
func NewLockError(lockFile string, pid int, err error) *LockError {
	return &LockError{
		LockFile: lockFile,
		PID:      pid,
		Err:      err,
	}
}

// ConfigError represents an error in the application configuration.
// It includes the parameter name, its value if available, and the underlying error.
type ConfigError struct {
	Parameter string
	Value     interface{}
	Err       error
}

// Error implements the error interface with details about the invalid configuration.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("configuration error for %s = %v: %v", e.Parameter, e.Value, e.Err)
	}
	return fmt.Sprintf("configuration error for %s: %v", e.Parameter, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError with the given parameters.
func NewConfigError(parameter string, value interface{}, err error) *ConfigError {
	return &ConfigError{
		Parameter: parameter,
		Value:     value,
		Err:       err,
	}
}

// BatchError reports the batch at which a run halted and the step that failed.
// Index 0 is used for commits left over from an earlier run that are pushed
// before any new batch.
type BatchError struct {
	Index int
	Total int
	Op    string
	Err   error
}

// Error implements the error interface naming the halting batch.
func (e *BatchError) Error() string {
	if e.Index == 0 {
		return fmt.Sprintf("pending commit: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("batch %d/%d: %s failed: %v", e.Index, e.Total, e.Op, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// NewBatchError creates a new BatchError with the given parameters.
func NewBatchError(index, total int, op string, err error) *BatchError {
	return &BatchError{
		Index: index,
		Total: total,
		Op:    op,
		Err:   err,
	}
}

// FileTooLargeError records a file excluded from planning because of its size.
type FileTooLargeError struct {
	Path  string
	Size  int64
	Limit int64
}

// Error implements the error interface.
func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d bytes exceeds limit of %d bytes", e.Path, e.Size, e.Limit)
}

// Unwrap lets errors.Is match ErrFileTooLarge.
func (e *FileTooLargeError) Unwrap() error {
	return ErrFileTooLarge
}
