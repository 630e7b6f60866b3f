package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bashhack/gitchunk/internal/config"
	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
	"github.com/bashhack/gitchunk/internal/vcs"
	"github.com/bashhack/gitchunk/internal/vcs/vcstest"
)

var threeBatches = map[string]int{"a.bin": 40, "b.bin": 40, "c.bin": 60, "d/e.bin": 60}

func TestAppRunPushesEveryBatch(t *testing.T) {
	app := newTestApp(t, threeBatches)

	require.NoError(t, app.Run(context.Background()))

	assert.Len(t, app.repo.Commits, 3)
	assert.Len(t, app.repo.Pushed, 3)
	assert.True(t, app.locker.AcquireCalled)
	assert.True(t, app.locker.ReleaseCalled)
	assert.Contains(t, app.stdout.String(), "gitchunk Run Summary")
	assert.Equal(t, 0, app.ReportError(nil))
}

func TestAppRunHaltsAndReportsBatch(t *testing.T) {
	app := newTestApp(t, threeBatches)
	app.repo.PushErr[2] = vcstest.Rejected()

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gitchunkErrors.ErrPushRejected)

	var batchErr *gitchunkErrors.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 2, batchErr.Index)

	assert.Len(t, app.repo.Commits, 2)
	assert.Len(t, app.repo.Pushed, 1)
	assert.True(t, app.locker.ReleaseCalled)

	assert.Equal(t, 1, app.ReportError(err))
	assert.Contains(t, app.stderr.String(), "🛑 Halted at batch 2 of 3 (push)")
}

func TestAppRunDryRun(t *testing.T) {
	app := newTestApp(t, threeBatches)
	app.Config.DryRun = true

	require.NoError(t, app.Run(context.Background()))

	assert.Empty(t, app.repo.Commits)
	assert.Empty(t, app.repo.Pushes)
	assert.Contains(t, app.stdout.String(), "3 batches, 4 files")
	assert.NotContains(t, app.stdout.String(), "gitchunk Run Summary")
}

func TestAppRunPassesRunIDToController(t *testing.T) {
	app := newTestApp(t, map[string]int{"a.bin": 10})
	app.Config.CommitTemplate = "upload {{run_id}}"

	require.NoError(t, app.Run(context.Background()))

	require.Len(t, app.repo.Commits, 1)
	assert.Equal(t, "upload "+app.RunID, app.repo.Commits[0].Message)
}

func TestAppRunScenarios(t *testing.T) {
	tests := map[string]struct {
		setup       func(app *testApp)
		errIs       error
		errContains string
		stdout      string
		stderr      string
		lockTaken   bool
	}{
		"Version": {
			setup: func(app *testApp) {
				app.Config.Version = true
				app.Config.VersionInfo = config.VersionInfo{Version: "1.2.3", Commit: "abc123", Date: "today"}
			},
			stdout: "gitchunk 1.2.3 (abc123) built on today",
		},
		"Logo": {
			setup:  func(app *testApp) { app.Config.ShowLogo = true },
			stdout: "big trees, small pushes",
		},
		"Help": {
			setup:  func(app *testApp) { app.Config.ShowHelp = true },
			stdout: "Batching Options:",
		},
		"InvalidConfig": {
			setup: func(app *testApp) { app.Config.MaxBatchSize = 0 },
			errIs: gitchunkErrors.ErrInvalidConfiguration,
		},
		"MissingGit": {
			setup: func(app *testApp) {
				app.execLookPath = func(string) (string, error) { return "", errors.New("not found") }
			},
			errContains: "git is not found in PATH",
			stderr:      "Please install it",
		},
		"MissingGitWithGoGitBackend": {
			setup: func(app *testApp) {
				app.Config.Backend = vcs.BackendGoGit
				app.execLookPath = func(string) (string, error) { return "", errors.New("not found") }
			},
			lockTaken: true,
		},
		"NotARepository": {
			setup: func(app *testApp) {
				app.isRepository = func(string) (bool, error) { return false, nil }
			},
			errIs: gitchunkErrors.ErrNotGitRepository,
		},
		"InitSkipsRepositoryCheck": {
			setup: func(app *testApp) {
				app.Config.InitRepository = true
				app.isRepository = func(string) (bool, error) { return false, nil }
			},
			lockTaken: true,
		},
		"RepositoryCheckFails": {
			setup: func(app *testApp) {
				app.isRepository = func(string) (bool, error) { return false, errors.New("permission denied") }
			},
			errIs: gitchunkErrors.ErrGitOperationFailed,
		},
		"AlreadyRunning": {
			setup: func(app *testApp) {
				app.locker.AcquireErr = gitchunkErrors.NewLockError("/tmp/x.lock", 42, gitchunkErrors.ErrAlreadyRunning)
			},
			errIs:     gitchunkErrors.ErrAlreadyRunning,
			lockTaken: true,
		},
		"LockFailure": {
			setup: func(app *testApp) {
				app.locker.AcquireErr = errors.New("disk full")
			},
			errIs:     gitchunkErrors.ErrLockAcquisitionFailure,
			lockTaken: true,
		},
		"OpenRepositoryFails": {
			setup: func(app *testApp) {
				app.openRepository = func(string, string, bool) (vcs.Collaborator, error) {
					return nil, gitchunkErrors.ErrNotGitRepository
				}
			},
			errIs:     gitchunkErrors.ErrNotGitRepository,
			lockTaken: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			app := newTestApp(t, map[string]int{"a.bin": 10})
			test.setup(app)

			err := app.Run(context.Background())

			switch {
			case test.errIs != nil:
				require.Error(t, err)
				assert.ErrorIs(t, err, test.errIs)
			case test.errContains != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), test.errContains)
			default:
				require.NoError(t, err)
			}
			if test.stdout != "" {
				assert.Contains(t, app.stdout.String(), test.stdout)
			}
			if test.stderr != "" {
				assert.Contains(t, app.stderr.String(), test.stderr)
			}
			assert.Equal(t, test.lockTaken, app.locker.AcquireCalled)
		})
	}
}

func TestAppRunWithInjectedChunker(t *testing.T) {
	app := newTestApp(t, nil)
	chunker := &MockChunker{RunErr: gitchunkErrors.NewBatchError(1, 4, "commit", gitchunkErrors.ErrCommitFailed)}
	app.Chunker = chunker

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.True(t, chunker.RunCalled)
	assert.True(t, chunker.SummaryCalled)

	assert.Equal(t, 1, app.ReportError(err))
	assert.Contains(t, app.stderr.String(), "Halted at batch 1 of 4 (commit)")
}

func TestReportError(t *testing.T) {
	tests := map[string]struct {
		err    error
		code   int
		stderr []string
	}{
		"Success": {nil, 0, nil},
		"Plain":   {errors.New("boom"), 1, []string{"❌ Error: boom"}},
		"PendingCommit": {
			gitchunkErrors.NewBatchError(0, 5, "push", gitchunkErrors.ErrPushNetwork),
			1,
			[]string{"Halted before batch 1 of 5"},
		},
		"Cancelled": {
			gitchunkErrors.Wrap(context.Canceled, "pause interrupted"),
			1,
			[]string{"Interrupted"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			app := newTestApp(t, nil)
			assert.Equal(t, test.code, app.ReportError(test.err))
			for _, want := range test.stderr {
				assert.Contains(t, app.stderr.String(), want)
			}
			if test.err == nil {
				assert.Empty(t, app.stderr.String())
			}
		})
	}
}

func TestAppClose(t *testing.T) {
	tests := map[string]struct {
		setup    func(app *testApp) *closeFailingLogger
		contains []string
	}{
		"Clean": {
			setup: func(app *testApp) *closeFailingLogger { return nil },
		},
		"NilComponents": {
			setup: func(app *testApp) *closeFailingLogger {
				app.Locker = nil
				app.Logger = nil
				return nil
			},
		},
		"LockerError": {
			setup: func(app *testApp) *closeFailingLogger {
				app.locker.ReleaseErr = errors.New("release failed")
				return nil
			},
			contains: []string{"release failed"},
		},
		"BothFail": {
			setup: func(app *testApp) *closeFailingLogger {
				app.locker.ReleaseErr = errors.New("release failed")
				l := &closeFailingLogger{Logger: app.Logger, err: errors.New("sync failed")}
				app.Logger = l
				return l
			},
			contains: []string{"release failed", "sync failed"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			app := newTestApp(t, nil)
			failing := test.setup(app)

			err := app.Close()
			if len(test.contains) == 0 {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				for _, want := range test.contains {
					assert.Contains(t, err.Error(), want)
				}
			}
			if failing != nil {
				assert.True(t, failing.closed, "logger should be closed even when the lock release fails")
			}
		})
	}
}

func TestCleanupOnSignal(t *testing.T) {
	app := newTestApp(t, nil)
	chunker := &MockChunker{}
	app.Chunker = chunker

	app.CleanupOnSignal()

	assert.True(t, chunker.SummaryCalled)
	assert.True(t, app.locker.ReleaseCalled)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gitchunk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("branch: from-file\nremote: file-remote\npause: 1m\n"), 0o600))

	t.Setenv("GITCHUNK_CONFIG", path)
	t.Setenv("GITCHUNK_BRANCH", "from-env")
	t.Setenv("GITCHUNK_PAUSE", "2m")

	app := NewApp(AppOptions{Config: config.New()})
	require.NoError(t, app.LoadConfig([]string{"--pause", "3m"}))

	assert.Equal(t, path, app.Config.ConfigFile)
	assert.Equal(t, "file-remote", app.Config.RemoteName)
	assert.Equal(t, "from-env", app.Config.BranchName)
	assert.Equal(t, "3m0s", app.Config.Pause.String())
}

func TestLoadConfigWithoutFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gitchunk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote: file-remote\npause: 1m\n"), 0o600))

	t.Setenv("GITCHUNK_CONFIG", path)
	t.Setenv("GITCHUNK_BRANCH", "from-env")

	app := NewApp(AppOptions{Config: config.New()})
	require.NoError(t, app.LoadConfig(nil))

	assert.Equal(t, "file-remote", app.Config.RemoteName)
	assert.Equal(t, "from-env", app.Config.BranchName)
	assert.Equal(t, "1m0s", app.Config.Pause.String())
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]struct {
		args  []string
		env   map[string]string
		errIs error
	}{
		"UnknownFlag": {args: []string{"--interval", "5"}, errIs: gitchunkErrors.ErrInvalidFlag},
		"BadEnv":      {env: map[string]string{"GITCHUNK_MAX_FILE_SIZE": "huge"}, errIs: gitchunkErrors.ErrInvalidConfiguration},
		"MissingFile": {args: []string{"--config", "/nonexistent/gitchunk.yaml"}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("GITCHUNK_CONFIG", "")
			for k, v := range test.env {
				t.Setenv(k, v)
			}

			app := NewApp(AppOptions{Config: config.New()})
			err := app.LoadConfig(test.args)
			require.Error(t, err)
			if test.errIs != nil {
				assert.ErrorIs(t, err, test.errIs)
			}
		})
	}
}

func TestNewAppPanicsWithoutConfig(t *testing.T) {
	assert.Panics(t, func() { NewApp(AppOptions{}) })
}

func TestNewAppGeneratesRunID(t *testing.T) {
	a := NewApp(AppOptions{Config: config.New()})
	b := NewApp(AppOptions{Config: config.New()})

	assert.Len(t, a.RunID, 36)
	assert.NotEqual(t, a.RunID, b.RunID)
}
