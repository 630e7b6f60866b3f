package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines the common logging interface used throughout the application.
// It separates internal log records (Info, Warning, Error) from messages meant
// for the operator (InfoToUser, WarningToUser, Success, StatusMessage).
type Logger interface {
	// Info logs an informational message to the log file only.
	Info(format string, args ...interface{})

	// Warning logs a warning to the log file. It is echoed to the user in verbose mode.
	Warning(format string, args ...interface{})

	// Error logs an error to the log file and always echoes it on stderr.
	Error(format string, args ...interface{})

	// InfoToUser logs an informational message and always shows it to the user.
	InfoToUser(format string, args ...interface{})

	// WarningToUser logs a warning and always shows it to the user.
	WarningToUser(format string, args ...interface{})

	// Success logs a success message and shows it to the user.
	Success(format string, args ...interface{})

	// StatusMessage prints a status line to the user without logging it.
	StatusMessage(format string, args ...interface{})

	// Close flushes the log file and releases its handle.
	Close() error
}

// DefaultLogger writes structured JSON records through zap and
// coloured messages to the user's terminal.
type DefaultLogger struct {
	mu      sync.Mutex
	zap     *zap.Logger
	enabled bool
	logFile string
	verbose bool
	stdout  io.Writer
	stderr  io.Writer
	file    *os.File

	infoColor    *color.Color
	warnColor    *color.Color
	errorColor   *color.Color
	successColor *color.Color
}

// New creates a new Logger instance writing user messages to the process streams.
func New(enabled bool, logFile string, verbose bool, fields ...zap.Field) Logger {
	return NewWithOutput(enabled, logFile, verbose, os.Stdout, os.Stderr, fields...)
}

// NewWithOutput creates a DefaultLogger with custom output writers.
// When enabled is false no log file is opened and file-level records are dropped.
func NewWithOutput(enabled bool, logFile string, verbose bool, stdout, stderr io.Writer, fields ...zap.Field) *DefaultLogger {
	l := &DefaultLogger{
		zap:          zap.NewNop(),
		enabled:      enabled,
		logFile:      logFile,
		verbose:      verbose,
		stdout:       stdout,
		stderr:       stderr,
		infoColor:    color.New(color.FgCyan),
		warnColor:    color.New(color.FgYellow),
		errorColor:   color.New(color.FgRed, color.Bold),
		successColor: color.New(color.FgGreen),
	}

	if !enabled {
		return l
	}

	if logDir := filepath.Dir(logFile); logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			_, _ = fmt.Fprintf(stderr, "⚠️ Failed to create log directory: %v\n", err)
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// Fall back to stderr so records are not lost
		_, _ = fmt.Fprintf(stderr, "⚠️ Failed to open log file: %v, using stderr instead\n", err)
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(stderr), zapcore.DebugLevel)
		l.zap = zap.New(core).With(fields...)
		return l
	}

	l.file = f
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(f), zapcore.DebugLevel)
	l.zap = zap.New(core).With(fields...)

	_, _ = fmt.Fprintf(stdout, "🔍 Debug logging enabled. Logs will be written to: %s\n", logFile)
	l.zap.Info("gitchunk debug logging started")

	return l
}

// Info logs an informational message (file only)
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.zap.Info(fmt.Sprintf(format, args...))
}

// InfoToUser logs an informational message to both file and stdout
func (l *DefaultLogger) InfoToUser(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	l.zap.Info(msg)
	_, _ = l.infoColor.Fprintf(l.stdout, "ℹ️  %s\n", msg)
}

// Success logs a success message to both file and stdout
func (l *DefaultLogger) Success(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	l.zap.Info(msg)
	_, _ = l.successColor.Fprintf(l.stdout, "✅ %s\n", msg)
}

// Warning logs a warning message
func (l *DefaultLogger) Warning(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	l.zap.Warn(msg)

	if l.verbose {
		_, _ = l.warnColor.Fprintf(l.stdout, "⚠️  %s\n", msg)
	}
}

// WarningToUser logs a warning message to both file and stdout
func (l *DefaultLogger) WarningToUser(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	l.zap.Warn(msg)
	_, _ = l.warnColor.Fprintf(l.stdout, "⚠️  %s\n", msg)
}

// Error logs an error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	l.zap.Error(msg)
	_, _ = l.errorColor.Fprintf(l.stderr, "❌ %s\n", msg)
}

// StatusMessage prints a status message to stdout only (no logging)
func (l *DefaultLogger) StatusMessage(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, _ = fmt.Fprintln(l.stdout, fmt.Sprintf(format, args...))
}

// Close flushes zap and closes the log file
func (l *DefaultLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	// Sync on the zap side writes through to the file handle
	_ = l.zap.Sync()
	if err := l.file.Sync(); err != nil {
		return err
	}
	err := l.file.Close()
	l.file = nil
	l.zap = zap.NewNop()
	return err
}

// SetStdout sets a custom writer for user-facing stdout messages only.
func (l *DefaultLogger) SetStdout(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stdout = w
}

// SetStderr sets a custom writer for user-facing stderr messages only.
func (l *DefaultLogger) SetStderr(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stderr = w
}
