package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/bashhack/gitchunk/internal/config"
	"github.com/bashhack/gitchunk/internal/logger"
	"github.com/bashhack/gitchunk/internal/vcs"
	"github.com/bashhack/gitchunk/internal/vcs/vcstest"
)

// MockLocker records lock calls and returns the configured errors
type MockLocker struct {
	AcquireErr error
	ReleaseErr error

	AcquireCalled bool
	ReleaseCalled bool
}

func (m *MockLocker) Acquire() error {
	m.AcquireCalled = true
	return m.AcquireErr
}

func (m *MockLocker) Release() error {
	m.ReleaseCalled = true
	return m.ReleaseErr
}

// MockChunker stands in for the batch controller
type MockChunker struct {
	RunErr        error
	RunCalled     bool
	SummaryCalled bool
}

func (m *MockChunker) Run(ctx context.Context) error {
	m.RunCalled = true
	return m.RunErr
}

func (m *MockChunker) PrintSummary() {
	m.SummaryCalled = true
}

// closeFailingLogger is a working logger whose Close fails
type closeFailingLogger struct {
	logger.Logger
	err    error
	closed bool
}

func (l *closeFailingLogger) Close() error {
	l.closed = true
	return l.err
}

type testApp struct {
	*App
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	fs     afero.Fs
	repo   *vcstest.Fake
	locker *MockLocker
	exited []int
}

// newTestApp builds an App over an in-memory tree holding files, a fake
// repository and a mock lock. Sizes are in bytes.
func newTestApp(t *testing.T, files map[string]int) *testApp {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	root := t.TempDir()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0o755))
	for name, size := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, bytes.Repeat([]byte{'x'}, size), 0o644))
	}

	cfg := config.New()
	cfg.RepoPath = root
	cfg.MaxFileSize = 100
	cfg.MaxBatchSize = 100
	cfg.Pause = 0
	cfg.PendingOnly = false
	cfg.NonInteractive = true

	ta := &testApp{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		fs:     fs,
		repo:   vcstest.New(),
		locker: &MockLocker{},
	}
	ta.App = NewApp(AppOptions{
		Config: cfg,
		Logger: logger.NewWithOutput(false, "", true, ta.stdout, ta.stderr),
		Locker: ta.locker,
		Fs:     fs,
		Stdout: ta.stdout,
		Stderr: ta.stderr,
		Exit:   func(code int) { ta.exited = append(ta.exited, code) },
		ExecLookPath: func(file string) (string, error) {
			return "/usr/bin/" + file, nil
		},
		IsRepository: func(string) (bool, error) { return true, nil },
		OpenRepository: func(kind, path string, initRepo bool) (vcs.Collaborator, error) {
			return ta.repo, nil
		},
	})
	return ta
}
