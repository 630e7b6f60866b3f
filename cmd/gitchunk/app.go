package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bashhack/gitchunk/internal/config"
	"github.com/bashhack/gitchunk/internal/constants"
	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
	"github.com/bashhack/gitchunk/internal/gitchunk"
	"github.com/bashhack/gitchunk/internal/lock"
	"github.com/bashhack/gitchunk/internal/logger"
	"github.com/bashhack/gitchunk/internal/vcs"
)

// Chunker runs the batch commit and push process
type Chunker interface {
	PrintSummary()
	Run(ctx context.Context) error
}

// Locker manages file locking
type Locker interface {
	Acquire() error
	Release() error
}

// AppOptions contains app configuration and dependencies.
// Nil optional dependencies get a default during Initialize or NewApp.
type AppOptions struct {
	// Config holds the application configuration settings (required).
	Config *config.Config

	// Optional components

	// Logger provides logging for both the log file and the user.
	Logger logger.Logger

	// Locker keeps two runs off the same working tree.
	Locker Locker

	// Chunker runs the batches. Built from Config when nil.
	Chunker Chunker

	// Fs is the filesystem the planner walks (defaults to the OS filesystem).
	Fs afero.Fs

	// I/O dependencies

	Stdout io.Writer
	Stderr io.Writer

	// System dependencies

	// Exit terminates the process (defaults to os.Exit).
	Exit func(code int)

	// ExecLookPath locates the git executable (defaults to exec.LookPath).
	ExecLookPath func(file string) (string, error)

	// IsRepository reports whether a path is a git working tree.
	IsRepository func(string) (bool, error)

	// OpenRepository returns the collaborator for the configured backend
	// (defaults to vcs.Open).
	OpenRepository func(kind, path string, initRepo bool) (vcs.Collaborator, error)
}

// App is the main gitchunk application.
// It wires configuration, logging, locking and the batch controller together
// and owns their lifecycle.
type App struct {
	Config  *config.Config
	Logger  logger.Logger
	Locker  Locker
	Chunker Chunker
	Fs      afero.Fs

	// RunID identifies this invocation in logs and push records.
	RunID string

	Stdout io.Writer
	Stderr io.Writer

	exit           func(code int)
	execLookPath   func(file string) (string, error)
	isRepository   func(string) (bool, error)
	openRepository func(kind, path string, initRepo bool) (vcs.Collaborator, error)
}

// NewDefaultApp creates an App with standard dependencies.
func NewDefaultApp(versionInfo config.VersionInfo) *App {
	cfg := config.New()
	cfg.VersionInfo = versionInfo

	return NewApp(AppOptions{
		Config:       cfg,
		Fs:           afero.NewOsFs(),
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Exit:         os.Exit,
		ExecLookPath: exec.LookPath,
	})
}

// NewApp creates an App with custom dependencies specified in opts.
// It panics if opts.Config is nil.
func NewApp(opts AppOptions) *App {
	if opts.Config == nil {
		panic("Config is required in AppOptions")
	}

	app := &App{
		Config:         opts.Config,
		Logger:         opts.Logger,
		Locker:         opts.Locker,
		Chunker:        opts.Chunker,
		Fs:             opts.Fs,
		RunID:          uuid.NewString(),
		Stdout:         opts.Stdout,
		Stderr:         opts.Stderr,
		exit:           opts.Exit,
		execLookPath:   opts.ExecLookPath,
		isRepository:   opts.IsRepository,
		openRepository: opts.OpenRepository,
	}

	// Set defaults for nil dependencies
	if app.Fs == nil {
		app.Fs = afero.NewOsFs()
	}
	if app.Stdout == nil {
		app.Stdout = os.Stdout
	}
	if app.Stderr == nil {
		app.Stderr = os.Stderr
	}
	if app.exit == nil {
		app.exit = os.Exit
	}
	if app.execLookPath == nil {
		app.execLookPath = exec.LookPath
	}
	if app.isRepository == nil {
		app.isRepository = app.defaultIsRepository
	}
	if app.openRepository == nil {
		app.openRepository = vcs.Open
	}

	return app
}

// LoadConfig layers the config file, the environment and the command-line
// arguments over the defaults, in increasing precedence.
func (a *App) LoadConfig(args []string) error {
	if err := a.Config.LoadFromFile(config.ConfigFilePath(args)); err != nil {
		return err
	}
	if err := a.Config.LoadFromEnvironment(); err != nil {
		return err
	}
	return a.Config.ParseFlags(args)
}

// Initialize sets up components not provided during construction
func (a *App) Initialize() error {
	if err := a.Config.Finalize(); err != nil {
		if gitchunkErrors.Is(err, gitchunkErrors.ErrInvalidConfiguration) {
			return err
		}
		return gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, err.Error())
	}

	if a.Logger == nil {
		a.Logger = logger.New(a.Config.Debug, a.Config.LogFile, a.Config.Verbose, zap.String("run_id", a.RunID))
	}

	if a.Locker == nil {
		locker, err := lock.New(a.Config.RepoPath)
		if err != nil {
			return gitchunkErrors.Wrap(err, "failed to initialize lock")
		}
		a.Locker = locker
	}

	return nil
}

// newChunker opens the repository and builds the controller from Config.
func (a *App) newChunker() (Chunker, error) {
	repo, err := a.openRepository(a.Config.Backend, a.Config.RepoPath, a.Config.InitRepository)
	if err != nil {
		return nil, err
	}

	policy, err := a.Config.Policy()
	if err != nil {
		return nil, err
	}

	chunkConfig := gitchunk.GitchunkConfig{
		RepoPath:       a.Config.RepoPath,
		MaxFileSize:    int64(a.Config.MaxFileSize),
		MaxBatchSize:   int64(a.Config.MaxBatchSize),
		Author:         a.Config.Author(),
		RemoteName:     a.Config.RemoteName,
		RemoteURL:      a.Config.RemoteURL,
		BranchName:     a.Config.BranchName,
		PushMode:       vcs.PushMode(a.Config.PushMode),
		CommitTemplate: a.Config.CommitTemplate,
		Tag:            a.Config.Tag,
		Policy:         policy,
		PendingOnly:    a.Config.PendingOnly,
		ResetStaged:    a.Config.ResetStaged,
		NonInteractive: a.Config.NonInteractive,
		DryRun:         a.Config.DryRun,
		Verbose:        a.Config.Verbose,
		RunID:          a.RunID,
	}

	chunker, err := gitchunk.NewGitchunk(chunkConfig, a.Logger, repo, a.Fs)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitchunk instance: %w", err)
	}
	chunker.SetOutput(a.Stdout)
	return chunker, nil
}

// Run executes the application with the given context.
// It handles the informational flags and otherwise runs the batches.
func (a *App) Run(ctx context.Context) error {
	if a.Config.ShowHelp {
		a.Config.PrintUsage(a.Stdout)
		return nil
	}
	if a.Config.Version {
		a.ShowVersion()
		return nil
	}
	if a.Config.ShowLogo {
		a.ShowLogo()
		return nil
	}

	if err := a.Initialize(); err != nil {
		return err
	}

	// Ensure we always clean up logger / lock, even on early error paths
	defer func() {
		if err := a.Close(); err != nil {
			_, _ = fmt.Fprintf(a.Stderr, "❌ Error during cleanup: %v\n", err)
		}
	}()

	if a.Config.Backend == vcs.BackendExec {
		if err := a.checkRequiredCommands(); err != nil {
			_, _ = fmt.Fprintf(a.Stderr, "❌ Error: %v. Please install it and try again.\n", err)
			return err
		}
	}

	if !a.Config.InitRepository {
		isRepo, err := a.isRepository(a.Config.RepoPath)
		if err != nil {
			a.Logger.Warning("Failed to check if path is a git repository: %v", err)
			return gitchunkErrors.Wrap(gitchunkErrors.ErrGitOperationFailed, err.Error())
		}
		if !isRepo {
			return gitchunkErrors.NewConfigError("repo", a.Config.RepoPath, gitchunkErrors.ErrNotGitRepository)
		}
		a.Logger.Info("Git repository verified")
	}

	if err := a.Locker.Acquire(); err != nil {
		if gitchunkErrors.Is(err, gitchunkErrors.ErrAlreadyRunning) {
			return err
		}
		return gitchunkErrors.Wrap(gitchunkErrors.ErrLockAcquisitionFailure, err.Error())
	}

	if a.Chunker == nil {
		chunker, err := a.newChunker()
		if err != nil {
			return err
		}
		a.Chunker = chunker
	}

	err := a.Chunker.Run(ctx)
	if !a.Config.DryRun {
		a.Chunker.PrintSummary()
	}
	return err
}

// ReportError prints err to Stderr, naming the batch the run halted at when
// there is one, and returns the process exit code.
func (a *App) ReportError(err error) int {
	if err == nil {
		return 0
	}

	_, _ = fmt.Fprintf(a.Stderr, "❌ Error: %v\n", err)

	var batchErr *gitchunkErrors.BatchError
	if gitchunkErrors.As(err, &batchErr) {
		if batchErr.Index == 0 {
			_, _ = fmt.Fprintf(a.Stderr, "🛑 Halted before batch 1 of %d while pushing earlier commits\n", batchErr.Total)
		} else {
			_, _ = fmt.Fprintf(a.Stderr, "🛑 Halted at batch %d of %d (%s)\n", batchErr.Index, batchErr.Total, batchErr.Op)
		}
	}
	if gitchunkErrors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintf(a.Stderr, "⚠️  Interrupted; committed batches that were not pushed are pushed first on the next run\n")
	}
	return 1
}

// ShowVersion displays version information
func (a *App) ShowVersion() {
	_, _ = fmt.Fprintf(a.Stdout, "%s %s (%s) built on %s\n",
		constants.AppName,
		a.Config.VersionInfo.Version,
		a.Config.VersionInfo.Commit,
		a.Config.VersionInfo.Date)
}

// ShowLogo displays the banner with the tagline centred under it
func (a *App) ShowLogo() {
	_, _ = fmt.Fprintln(a.Stdout, constants.Logo)
	_, _ = fmt.Fprintln(a.Stdout, "")

	padding := (constants.LogoWidth - len(constants.Tagline)) / 2
	if padding < 0 {
		padding = 0
	}
	_, _ = fmt.Fprintln(a.Stdout, strings.Repeat(" ", padding)+constants.Tagline)
}

// checkRequiredCommands verifies git is available in PATH
func (a *App) checkRequiredCommands() error {
	if _, err := a.execLookPath("git"); err != nil {
		return fmt.Errorf("git is not found in PATH")
	}
	return nil
}

// defaultIsRepository checks the path with the configured backend, so the
// go-git backend works without a git binary.
func (a *App) defaultIsRepository(path string) (bool, error) {
	if a.Config.Backend != vcs.BackendGoGit {
		return vcs.IsRepository(path)
	}
	if _, err := vcs.NewGoGitBackend(path, false); err != nil {
		if gitchunkErrors.Is(err, gitchunkErrors.ErrNotGitRepository) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close releases resources held by the App
func (a *App) Close() error {
	var err error

	if a.Locker != nil {
		if releaseErr := a.Locker.Release(); releaseErr != nil {
			if a.Logger != nil {
				a.Logger.Error("Failed to release lock during cleanup: %v", releaseErr)
			}
			err = multierr.Append(err, releaseErr)
		}
	}

	if a.Logger != nil {
		if closeErr := a.Logger.Close(); closeErr != nil {
			err = multierr.Append(err, gitchunkErrors.Wrap(closeErr, "failed to close logger"))
		}
	}

	return err
}

// CleanupOnSignal releases the lock and shows the summary when the run does
// not stop in time after a signal
func (a *App) CleanupOnSignal() {
	if a.Chunker != nil {
		a.Chunker.PrintSummary()
	}
	if err := a.Close(); err != nil {
		_, _ = fmt.Fprintf(a.Stderr, "❌ Error during cleanup: %v\n", err)
	}
}
