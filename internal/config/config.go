package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
	"github.com/bashhack/gitchunk/internal/pause"
	"github.com/bashhack/gitchunk/internal/vcs"
)

const (
	// DefaultMaxFileSize keeps files under the 100MB hard limit common git
	// hosts enforce per file.
	DefaultMaxFileSize ByteSize = 90 * units.MiB

	// DefaultMaxBatchSize bounds the payload of a single push.
	DefaultMaxBatchSize ByteSize = 300 * units.MiB

	DefaultRemoteName = "origin"
	DefaultBranchName = "master"

	// DefaultPause is the wait between two pushes.
	DefaultPause = 5 * time.Minute

	DefaultAuthorName  = "Gitchunk Bot"
	DefaultAuthorEmail = "bot@gitchunk.local"

	// EnvPrefix prefixes every environment variable gitchunk reads.
	EnvPrefix = "GITCHUNK_"
)

// Config holds all gitchunk application settings.
// This struct combines settings from command-line flags, environment variables,
// the optional config file and default values.
type Config struct {
	// Repository configuration

	// RepoPath is the working tree to batch. Defaults to the current directory.
	RepoPath string `yaml:"repo"`

	// InitRepository creates the repository when RepoPath is not one yet.
	InitRepository bool `yaml:"init"`

	// Backend selects the git implementation: "exec" or "go-git".
	Backend string `yaml:"backend"`

	// Batching

	MaxFileSize  ByteSize `yaml:"max_file_size"`
	MaxBatchSize ByteSize `yaml:"max_batch_size"`

	// PendingOnly plans only new, modified and deleted files.
	PendingOnly bool `yaml:"pending_only"`

	// Commits

	AuthorName     string `yaml:"author_name"`
	AuthorEmail    string `yaml:"author_email"`
	CommitTemplate string `yaml:"commit_template"`
	Tag            string `yaml:"tag"`

	// Remote

	RemoteName string `yaml:"remote"`
	RemoteURL  string `yaml:"remote_url"`
	BranchName string `yaml:"branch"`
	PushMode   string `yaml:"push_mode"`

	// Pacing

	Pause    time.Duration `yaml:"pause"`
	Backoff  string        `yaml:"backoff"`
	MaxPause time.Duration `yaml:"max_pause"`

	// User experience options

	// ResetStaged unstages leftovers from an interrupted run without asking.
	ResetStaged    bool `yaml:"reset_staged"`
	NonInteractive bool `yaml:"non_interactive"`
	DryRun         bool `yaml:"dry_run"`
	Verbose        bool `yaml:"verbose"`

	// Debugging options

	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`

	// ConfigFile is the YAML file the settings were read from, if any.
	ConfigFile string `yaml:"-"`

	// Special flags

	Version  bool `yaml:"-"`
	ShowLogo bool `yaml:"-"`
	ShowHelp bool `yaml:"-"`

	// VersionInfo contains version, commit, and build date information.
	VersionInfo VersionInfo `yaml:"-"`

	// parsedQuiet tracks the state of the --quiet flag, applied inverted to Verbose.
	parsedQuiet *bool
}

// VersionInfo contains build-time version metadata.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// New creates a new Config with default values
func New() *Config {
	return &Config{
		Backend:      vcs.BackendExec,
		MaxFileSize:  DefaultMaxFileSize,
		MaxBatchSize: DefaultMaxBatchSize,
		PendingOnly:  true,
		AuthorName:   DefaultAuthorName,
		AuthorEmail:  DefaultAuthorEmail,
		RemoteName:   DefaultRemoteName,
		BranchName:   DefaultBranchName,
		PushMode:     string(vcs.PushConditional),
		Pause:        DefaultPause,
		Backoff:      pause.PolicyConstant,
		ResetStaged:  true,
		Verbose:      true,

		// Default version info, will be overridden if provided
		VersionInfo: VersionInfo{
			Version: "dev",
			Commit:  "unknown",
			Date:    "unknown",
		},
	}
}

// ConfigFilePath finds the config file named by --config in args or by
// GITCHUNK_CONFIG. Flags win over the environment.
func ConfigFilePath(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return os.Getenv(EnvPrefix + "CONFIG")
}

// LoadFromFile updates config from a YAML file. Keys not present keep their
// current values; unknown keys are rejected.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return gitchunkErrors.NewConfigError("config", path, gitchunkErrors.Wrap(err, "cannot read config file"))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return gitchunkErrors.NewConfigError("config", path,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, err.Error()))
	}

	c.ConfigFile = path
	return nil
}

// LoadFromEnvironment updates config from GITCHUNK_* environment variables.
// Malformed sizes and durations are reported; malformed booleans keep the
// current value.
func (c *Config) LoadFromEnvironment() error {
	c.RepoPath = getEnvString("REPO", c.RepoPath)
	c.InitRepository = getEnvBool("INIT", c.InitRepository)
	c.Backend = getEnvString("BACKEND", c.Backend)
	c.PendingOnly = getEnvBool("PENDING_ONLY", c.PendingOnly)
	c.AuthorName = getEnvString("AUTHOR_NAME", c.AuthorName)
	c.AuthorEmail = getEnvString("AUTHOR_EMAIL", c.AuthorEmail)
	c.CommitTemplate = getEnvString("COMMIT_TEMPLATE", c.CommitTemplate)
	c.Tag = getEnvString("TAG", c.Tag)
	c.RemoteName = getEnvString("REMOTE", c.RemoteName)
	c.RemoteURL = getEnvString("REMOTE_URL", c.RemoteURL)
	c.BranchName = getEnvString("BRANCH", c.BranchName)
	c.PushMode = getEnvString("PUSH_MODE", c.PushMode)
	c.Backoff = getEnvString("BACKOFF", c.Backoff)
	c.ResetStaged = getEnvBool("RESET_STAGED", c.ResetStaged)
	c.NonInteractive = getEnvBool("NON_INTERACTIVE", c.NonInteractive)
	c.DryRun = getEnvBool("DRY_RUN", c.DryRun)
	c.Verbose = getEnvBool("VERBOSE", c.Verbose)
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.LogFile = getEnvString("LOG_FILE", c.LogFile)

	var err error
	if c.MaxFileSize, err = getEnvSize("MAX_FILE_SIZE", c.MaxFileSize); err != nil {
		return err
	}
	if c.MaxBatchSize, err = getEnvSize("MAX_BATCH_SIZE", c.MaxBatchSize); err != nil {
		return err
	}
	if c.Pause, err = getEnvDuration("PAUSE", c.Pause); err != nil {
		return err
	}
	if c.MaxPause, err = getEnvDuration("MAX_PAUSE", c.MaxPause); err != nil {
		return err
	}
	return nil
}

// SetupFlags sets up command-line flags to override config values
func (c *Config) SetupFlags(fs *pflag.FlagSet) {
	var quiet bool

	fs.StringVarP(&c.RepoPath, "repo", "r", c.RepoPath, "Path to the working tree (default: current directory)")
	fs.BoolVar(&c.InitRepository, "init", c.InitRepository, "Create the repository if the path is not one yet")
	fs.StringVar(&c.Backend, "backend", c.Backend, "Git implementation: exec (git binary) or go-git")

	fs.Var(&c.MaxFileSize, "max-file-size", "Files larger than this are skipped")
	fs.Var(&c.MaxBatchSize, "max-batch-size", "Maximum size of one batch")
	fs.BoolVar(&c.PendingOnly, "pending-only", c.PendingOnly, "Batch only new, modified and deleted files (false: every file)")

	fs.StringVar(&c.AuthorName, "author-name", c.AuthorName, "Author and committer name")
	fs.StringVar(&c.AuthorEmail, "author-email", c.AuthorEmail, "Author and committer email")
	fs.StringVarP(&c.CommitTemplate, "message", "m", c.CommitTemplate, "Commit message template (mustache: index, total, files, size, action, first)")
	fs.StringVar(&c.Tag, "tag", c.Tag, "Tag the final commit and push the tag")

	fs.StringVar(&c.RemoteName, "remote", c.RemoteName, "Remote to push to")
	fs.StringVar(&c.RemoteURL, "remote-url", c.RemoteURL, "Set the remote URL, adding the remote if missing")
	fs.StringVarP(&c.BranchName, "branch", "b", c.BranchName, "Branch to commit on and push")
	fs.StringVar(&c.PushMode, "push-mode", c.PushMode, "conditional (force-with-lease) or fast-forward")

	fs.DurationVar(&c.Pause, "pause", c.Pause, "Wait between pushes")
	fs.StringVar(&c.Backoff, "backoff", c.Backoff, "Pause policy: constant or exponential")
	fs.DurationVar(&c.MaxPause, "max-pause", c.MaxPause, "Cap for exponential pauses (0 = no cap)")

	fs.BoolVar(&c.ResetStaged, "reset-staged", c.ResetStaged, "Unstage leftovers of an interrupted run without asking")
	fs.BoolVar(&c.NonInteractive, "non-interactive", c.NonInteractive, "Never prompt; use configured defaults")
	fs.BoolVarP(&c.DryRun, "dry-run", "n", c.DryRun, "Print the batch plan and exit")
	fs.BoolVarP(&quiet, "quiet", "q", !c.Verbose, "Hide informational messages")

	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Path to log file (default: ~/.local/share/gitchunk/logs/gitchunk-{repo-hash}.log)")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file (also GITCHUNK_CONFIG)")

	fs.BoolVarP(&c.Version, "version", "v", c.Version, "Print version information and exit")
	fs.BoolVar(&c.ShowLogo, "logo", c.ShowLogo, "Display the banner and exit")
	fs.BoolVarP(&c.ShowHelp, "help", "h", c.ShowHelp, "Display help message and exit")

	c.parsedQuiet = &quiet
}

// newFlagSet returns a quiet flag set with the config's flags registered.
func (c *Config) newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("gitchunk", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.SortFlags = false
	c.SetupFlags(fs)
	return fs
}

// ParseFlags parses the command-line arguments (without the program name)
// and updates the config
func (c *Config) ParseFlags(args []string) error {
	fs := c.newFlagSet()

	if err := fs.Parse(args); err != nil {
		return gitchunkErrors.NewConfigError("flags", nil, gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidFlag, err.Error()))
	}
	if fs.NArg() > 0 {
		return gitchunkErrors.NewConfigError("flags", fs.Args(),
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidFlag, "unexpected arguments"))
	}

	// Apply the inverted flag only when given, so env and file values survive
	if fs.Changed("quiet") && c.parsedQuiet != nil {
		c.Verbose = !(*c.parsedQuiet)
	}

	return nil
}

// PrintUsage prints a formatted help message with examples and grouped flags
func (c *Config) PrintUsage(w io.Writer) {
	fs := New().newFlagSet()
	programName := filepath.Base(os.Args[0])

	_, _ = fmt.Fprintf(w, "gitchunk: Commit and push a large working tree in size-bounded batches\n\n")
	_, _ = fmt.Fprintf(w, "Usage: %s [options]\n\n", programName)
	_, _ = fmt.Fprintf(w, "gitchunk splits the files of a working tree into batches no larger than\n")
	_, _ = fmt.Fprintf(w, "--max-batch-size, commits each batch and pushes it before the next one,\n")
	_, _ = fmt.Fprintf(w, "pausing between pushes to stay under remote payload limits.\n\n")

	_, _ = fmt.Fprintf(w, "Examples:\n")
	_, _ = fmt.Fprintf(w, "  %s --dry-run                               # Show the batch plan\n", programName)
	_, _ = fmt.Fprintf(w, "  %s --remote-url git@host:data.git --init   # Start a new repository and upload it\n", programName)
	_, _ = fmt.Fprintf(w, "  %s --max-batch-size 100MB --pause 2m       # Smaller batches, shorter pauses\n", programName)
	_, _ = fmt.Fprintf(w, "  %s --backoff exponential --max-pause 30m   # Back off further after each push\n\n", programName)

	groups := []struct {
		title string
		flags []string
	}{
		{"Repository Options", []string{"repo", "init", "backend"}},
		{"Batching Options", []string{"max-file-size", "max-batch-size", "pending-only"}},
		{"Commit Options", []string{"author-name", "author-email", "message", "tag"}},
		{"Remote Options", []string{"remote", "remote-url", "branch", "push-mode"}},
		{"Pacing Options", []string{"pause", "backoff", "max-pause"}},
		{"Output Options", []string{"reset-staged", "non-interactive", "dry-run", "quiet", "debug", "log-file", "config"}},
		{"Information", []string{"version", "logo", "help"}},
	}
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%s:\n", g.title)
		for _, name := range g.flags {
			printFlagIfExists(w, fs, name)
		}
		_, _ = fmt.Fprintf(w, "\n")
	}

	_, _ = fmt.Fprintf(w, "Environment variables:\n")
	_, _ = fmt.Fprintf(w, "  Every option above can be set as %s<NAME>, e.g. %sMAX_BATCH_SIZE=100MB.\n", EnvPrefix, EnvPrefix)
	_, _ = fmt.Fprintf(w, "  Precedence: flags, then environment, then config file, then defaults.\n")
}

// printFlagIfExists prints a flag's usage if it exists in the FlagSet
func printFlagIfExists(w io.Writer, fs *pflag.FlagSet, name string) {
	f := fs.Lookup(name)
	if f == nil {
		return
	}

	flagName := "--" + f.Name
	if f.Shorthand != "" {
		flagName = fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	}

	defaultValue := f.DefValue
	if defaultValue != "" && defaultValue != "false" && defaultValue != "0s" {
		defaultValue = fmt.Sprintf(" (default: %s)", defaultValue)
	} else {
		defaultValue = ""
	}

	_, _ = fmt.Fprintf(w, "  %s%s: %s\n", flagName, defaultValue, f.Usage)
}

// Finalize validates and finalizes the configuration
func (c *Config) Finalize() error {
	if c.RepoPath == "" {
		var err error
		c.RepoPath, err = os.Getwd()
		if err != nil {
			return gitchunkErrors.NewConfigError("repo", "", gitchunkErrors.Wrap(err, "failed to get current directory"))
		}
	}

	absRepoPath, err := filepath.Abs(c.RepoPath)
	if err != nil {
		return gitchunkErrors.NewConfigError("repo", c.RepoPath, gitchunkErrors.Wrap(err, "failed to resolve absolute path"))
	}
	c.RepoPath = absRepoPath

	if c.MaxFileSize <= 0 {
		return invalid("max-file-size", c.MaxFileSize, "must be greater than 0")
	}
	if c.MaxBatchSize <= 0 {
		return invalid("max-batch-size", c.MaxBatchSize, "must be greater than 0")
	}
	if strings.TrimSpace(c.AuthorName) == "" {
		return invalid("author-name", c.AuthorName, "must not be empty")
	}
	if !strings.Contains(c.AuthorEmail, "@") {
		return invalid("author-email", c.AuthorEmail, "must be an email address")
	}
	if c.RemoteName == "" {
		return invalid("remote", c.RemoteName, "must not be empty")
	}
	if c.BranchName == "" {
		return invalid("branch", c.BranchName, "must not be empty")
	}

	mode, err := vcs.ParsePushMode(c.PushMode)
	if err != nil {
		return invalid("push-mode", c.PushMode, err.Error())
	}
	c.PushMode = string(mode)

	switch c.Backend {
	case vcs.BackendExec, vcs.BackendGoGit:
	default:
		return invalid("backend", c.Backend, fmt.Sprintf("want %q or %q", vcs.BackendExec, vcs.BackendGoGit))
	}

	if _, err := c.Policy(); err != nil {
		return err
	}

	if c.LogFile == "" {
		// Follow XDG Base Directory Specification
		logDir := os.Getenv("XDG_DATA_HOME")
		if logDir == "" {
			homeDir, err := os.UserHomeDir()
			if err == nil {
				logDir = filepath.Join(homeDir, ".local", "share")
			} else {
				logDir = os.TempDir()
			}
		}

		repoHash := fmt.Sprintf("%x", sha256OfString(c.RepoPath)[:8])
		c.LogFile = filepath.Join(logDir, "gitchunk", "logs", fmt.Sprintf("gitchunk-%s.log", repoHash))
	}

	if c.Debug {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o700); err != nil {
			return gitchunkErrors.NewConfigError("log-file", c.LogFile, gitchunkErrors.Wrap(err, "cannot create log directory"))
		}
	}

	return nil
}

// Policy builds the pause policy from Pause, Backoff and MaxPause.
func (c *Config) Policy() (pause.Policy, error) {
	return pause.New(c.Backoff, c.Pause, c.MaxPause)
}

// Author returns the commit identity.
func (c *Config) Author() vcs.Author {
	return vcs.Author{Name: c.AuthorName, Email: c.AuthorEmail}
}

func invalid(parameter string, value interface{}, reason string) error {
	return gitchunkErrors.NewConfigError(parameter, value, gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, reason))
}

// getEnvString returns an environment variable string or a default value
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		return value
	}
	return defaultValue
}

// getEnvBool returns an environment variable as bool or a default value
func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(EnvPrefix + key); exists {
		if value, err := strconv.ParseBool(strings.ToLower(valueStr)); err == nil {
			return value
		}
		switch strings.ToLower(valueStr) {
		case "yes", "y", "on":
			return true
		case "no", "n", "off":
			return false
		}
		// For any other value, fall back to default
	}
	return defaultValue
}

// getEnvSize returns an environment variable parsed as a size or a default value
func getEnvSize(key string, defaultValue ByteSize) (ByteSize, error) {
	valueStr, exists := os.LookupEnv(EnvPrefix + key)
	if !exists {
		return defaultValue, nil
	}
	value, err := ParseByteSize(valueStr)
	if err != nil {
		return defaultValue, gitchunkErrors.NewConfigError(EnvPrefix+key, valueStr,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, err.Error()))
	}
	return value, nil
}

// getEnvDuration returns an environment variable parsed as a duration or a default value
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(EnvPrefix + key)
	if !exists {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue, gitchunkErrors.NewConfigError(EnvPrefix+key, valueStr,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, err.Error()))
	}
	return value, nil
}

// sha256OfString returns the SHA256 hash of a string
func sha256OfString(input string) []byte {
	hash := sha256.Sum256([]byte(input))
	return hash[:]
}
