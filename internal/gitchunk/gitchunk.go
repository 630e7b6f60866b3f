package gitchunk

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/gosuri/uitable"
	"github.com/spf13/afero"

	gitchunkErrors "github.com/bashhack/gitchunk/internal/errors"
	"github.com/bashhack/gitchunk/internal/logger"
	"github.com/bashhack/gitchunk/internal/pause"
	"github.com/bashhack/gitchunk/internal/plan"
	"github.com/bashhack/gitchunk/internal/vcs"
)

// Planner builds the batch plan for a run.
type Planner interface {
	Plan(ctx context.Context, opts plan.Options) (*plan.Plan, error)
}

// Gitchunk commits and pushes a working tree batch by batch.
type Gitchunk struct {
	config     GitchunkConfig
	logger     logger.Logger
	repo       vcs.Collaborator
	planner    Planner
	sleeper    pause.Sleeper
	interactor UserInteractor
	template   *mustache.Template
	output     io.Writer

	report Report

	// pushesLeft counts pushes still to do in this run; a pause follows a
	// successful push only while it is positive.
	pushesLeft int
	pushesDone int
}

// NewGitchunk creates a gitchunk instance with default dependencies.
func NewGitchunk(config GitchunkConfig, logger logger.Logger, repo vcs.Collaborator, fs afero.Fs) (*Gitchunk, error) {
	var interactor UserInteractor
	if config.NonInteractive {
		interactor = NewNonInteractiveInteractor()
	} else {
		interactor = NewDefaultInteractor(logger)
	}

	return NewGitchunkWithDeps(config, logger, repo, plan.New(fs, logger), pause.NewTimerSleeper(logger), interactor)
}

// NewGitchunkWithDeps creates a gitchunk instance with custom dependencies
func NewGitchunkWithDeps(
	config GitchunkConfig,
	logger logger.Logger,
	repo vcs.Collaborator,
	planner Planner,
	sleeper pause.Sleeper,
	interactor UserInteractor,
) (*Gitchunk, error) {
	if err := config.Validate(); err != nil {
		return nil, gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, err.Error())
	}

	if config.CommitTemplate == "" {
		config.CommitTemplate = DefaultCommitTemplate
	}
	tmpl, err := mustache.ParseString(config.CommitTemplate)
	if err != nil {
		return nil, gitchunkErrors.NewConfigError("commit-template", config.CommitTemplate,
			gitchunkErrors.Wrap(gitchunkErrors.ErrInvalidConfiguration, err.Error()))
	}

	if config.RunID == "" {
		config.RunID = uuid.NewString()
	}

	return &Gitchunk{
		config:     config,
		logger:     logger,
		repo:       repo,
		planner:    planner,
		sleeper:    sleeper,
		interactor: interactor,
		template:   tmpl,
		output:     os.Stdout,
		report:     Report{RunID: config.RunID, Started: time.Now()},
	}, nil
}

// SetOutput redirects the plan table printed in dry-run mode.
func (g *Gitchunk) SetOutput(w io.Writer) {
	g.output = w
}

// Report returns what the run did so far.
func (g *Gitchunk) Report() Report {
	return g.report
}

// Run executes the run with the given context for cancellation.
// Cancellation is honoured between steps. A batch whose staging has started
// is still committed; its push is left to the next run.
func (g *Gitchunk) Run(ctx context.Context) (err error) {
	g.report.Started = time.Now()
	defer func() {
		g.report.Finished = time.Now()
		g.report.Err = err
	}()

	g.logger.Info("Starting run %s in %s", g.config.RunID, g.config.RepoPath)

	if g.config.DryRun {
		return g.dryRun(ctx)
	}

	if err := g.initialize(ctx); err != nil {
		return err
	}

	pending, err := g.repo.PendingCommits(ctx, g.config.RemoteName, g.config.BranchName)
	if err != nil {
		return gitchunkErrors.Wrap(err, "failed to list unpushed commits")
	}

	p, err := g.buildPlan(ctx)
	if err != nil {
		return err
	}

	g.pushesLeft = len(pending) + len(p.Batches)
	g.displayStartupInfo(p, len(pending))

	if err := g.pushPending(ctx, pending, len(p.Batches)); err != nil {
		return err
	}

	if p.Empty() {
		g.logger.InfoToUser("Nothing to commit: working tree has no files to batch")
		return g.tagIfRequested(ctx, len(pending) > 0)
	}

	for _, b := range p.Batches {
		if err := ctx.Err(); err != nil {
			g.logger.Info("Received cancellation signal before batch %d, stopping", b.Index)
			return err
		}
		if err := g.processBatch(ctx, b, len(p.Batches)); err != nil {
			if ctx.Err() == nil {
				g.halt(b.Index)
			}
			return err
		}
		if err := g.pauseAfterPush(ctx); err != nil {
			return err
		}
	}

	return g.tagIfRequested(ctx, true)
}

// initialize prepares the branch, the remote and the index.
func (g *Gitchunk) initialize(ctx context.Context) error {
	if err := g.repo.CheckoutBranch(ctx, g.config.BranchName); err != nil {
		g.logger.Error("Failed to check out branch %s: %v", g.config.BranchName, err)
		// If it's already a GitError or already has ErrGitOperationFailed, just return it
		if gitchunkErrors.Is(err, gitchunkErrors.ErrGitOperationFailed) {
			return err
		}
		return gitchunkErrors.Wrap(err, "failed to check out branch")
	}
	g.logger.StatusMessage("🌿 Using branch: %s", g.config.BranchName)

	if g.config.RemoteURL != "" {
		if err := g.repo.EnsureRemote(ctx, g.config.RemoteName, g.config.RemoteURL); err != nil {
			return gitchunkErrors.Wrap(err, "failed to configure remote")
		}
		g.logger.Info("Remote %s points to %s", g.config.RemoteName, g.config.RemoteURL)
	}

	if err := g.syncRemote(ctx); err != nil {
		return err
	}

	return g.handleStagedLeftovers(ctx)
}

// syncRemote refreshes the remote-tracking ref so pending commits and the
// push lease are computed against what the remote holds now. A branch
// without commits starts from the remote tip when the remote already has one;
// a branch that lacks commits the remote holds stops the run before anything
// is committed.
func (g *Gitchunk) syncRemote(ctx context.Context) error {
	remote, branch := g.config.RemoteName, g.config.BranchName

	if err := g.repo.Fetch(ctx, remote, branch); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		g.logger.Warning("Fetch of %s/%s failed: %v", remote, branch, err)
		g.logger.WarningToUser("Could not fetch %s/%s, continuing with the last known remote state", remote, branch)
		return nil
	}

	adopted, err := g.repo.AdoptRemoteTip(ctx, remote, branch)
	if err != nil {
		return gitchunkErrors.Wrap(err, "failed to start from the remote branch")
	}
	if adopted {
		g.logger.InfoToUser("Starting from %s/%s: only files that differ from it will be committed", remote, branch)
		return nil
	}

	diverged, err := g.repo.Diverged(ctx, remote, branch)
	if err != nil {
		return gitchunkErrors.Wrap(err, "failed to compare with the remote branch")
	}
	if diverged {
		g.logger.Error("%s/%s has commits missing from the local branch", remote, branch)
		return gitchunkErrors.Wrapf(gitchunkErrors.ErrPushRejected,
			"%s/%s has commits missing from the local branch; merge or rebase them, then run gitchunk again", remote, branch)
	}
	return nil
}

// handleStagedLeftovers clears an index left dirty by an interrupted run.
// Staged files outside the plan would otherwise end up in the first batch.
func (g *Gitchunk) handleStagedLeftovers(ctx context.Context) error {
	staged, err := g.repo.HasStagedChanges(ctx)
	if err != nil {
		return gitchunkErrors.Wrap(err, "failed to inspect the index")
	}
	if !staged {
		return nil
	}

	g.logger.WarningToUser("The index has staged changes, probably left by an interrupted run.")

	reset := g.config.ResetStaged
	if !g.config.NonInteractive {
		reset = g.interactor.Confirm("Unstage them and continue? Your files are not modified", reset)
	}
	if !reset {
		return gitchunkErrors.Wrap(gitchunkErrors.ErrDirtyIndex, "unstage the changes or rerun with --reset-staged")
	}

	if err := g.repo.ResetIndex(ctx); err != nil {
		return gitchunkErrors.Wrap(err, "failed to unstage leftover changes")
	}
	g.logger.InfoToUser("Unstaged leftover changes")
	return nil
}

func (g *Gitchunk) buildPlan(ctx context.Context) (*plan.Plan, error) {
	opts := plan.Options{
		Root:         g.config.RepoPath,
		MaxFileSize:  g.config.MaxFileSize,
		MaxBatchSize: g.config.MaxBatchSize,
	}
	if g.config.PendingOnly {
		opts.Changes = g.repo
	}

	p, err := g.planner.Plan(ctx, opts)
	if err != nil {
		g.logger.Error("Planning failed: %v", err)
		return nil, err
	}
	g.report.Plan = p

	for _, s := range p.Skipped {
		g.logger.Warning("Skipped %s: %v", s.Entry.Path, s.Reason)
	}
	return p, nil
}

func (g *Gitchunk) dryRun(ctx context.Context) error {
	p, err := g.buildPlan(ctx)
	if err != nil {
		return err
	}

	g.logger.StatusMessage("🔍 Dry run: nothing will be staged, committed or pushed")
	if err := p.Render(g.output); err != nil {
		return gitchunkErrors.Wrap(err, "failed to print plan")
	}

	if pending, err := g.repo.PendingCommits(ctx, g.config.RemoteName, g.config.BranchName); err == nil && len(pending) > 0 {
		g.logger.InfoToUser("%d local commits would be pushed before the first batch", len(pending))
	}
	return nil
}

func (g *Gitchunk) displayStartupInfo(p *plan.Plan, pending int) {
	g.logger.StatusMessage("📦 %d batches, %s, pushing to %s/%s",
		len(p.Batches), units.HumanSize(float64(p.TotalSize())), g.config.RemoteName, g.config.BranchName)
	if pending > 0 {
		g.logger.StatusMessage("🔁 %d commits from an earlier run will be pushed first", pending)
	}
	if len(p.Skipped) > 0 {
		g.logger.WarningToUser("%d files exceed %s and will not be committed",
			len(p.Skipped), units.HumanSize(float64(g.config.MaxFileSize)))
	}
}

// pushPending pushes commits left behind by an earlier run, oldest first.
func (g *Gitchunk) pushPending(ctx context.Context, pending []vcs.CommitID, totalBatches int) error {
	for i, id := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.logger.StatusMessage("🔁 Pushing earlier commit %d/%d (%s)", i+1, len(pending), id.Short())
		if err := g.push(ctx, 0, id, id); err != nil {
			g.halt(0)
			return gitchunkErrors.NewBatchError(0, totalBatches, "push", err)
		}
		g.report.Resumed = append(g.report.Resumed, id)
		if err := g.pauseAfterPush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// processBatch stages, commits and pushes one batch.
func (g *Gitchunk) processBatch(ctx context.Context, b plan.Batch, total int) error {
	action := "Add"
	if b.Kind == plan.KindDelete {
		action = "Delete"
	}
	g.logger.StatusMessage("📦 Batch %d/%d | %s %d files (%s)", b.Index, total, action, len(b.Files), units.HumanSize(float64(b.Size)))
	if b.Oversize() {
		g.logger.Warning("Batch %d holds a single file larger than the batch limit: %s", b.Index, b.Files[0].Path)
	}

	// Staging and committing are not interrupted once started.
	work := context.WithoutCancel(ctx)

	var err error
	if b.Kind == plan.KindDelete {
		err = g.repo.Remove(work, b.Paths())
	} else {
		err = g.repo.Stage(work, b.Paths())
	}
	if err != nil {
		g.logger.Error("Failed to stage batch %d: %v", b.Index, err)
		return gitchunkErrors.NewBatchError(b.Index, total, "stage",
			gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrCommitFailed, err))
	}

	msg, err := g.commitMessage(b, total)
	if err != nil {
		return gitchunkErrors.NewBatchError(b.Index, total, "commit",
			gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrCommitFailed, err))
	}

	id, err := g.repo.Commit(work, msg, g.config.Author)
	if err != nil {
		g.logger.Error("Failed to commit batch %d: %v", b.Index, err)
		if !gitchunkErrors.Is(err, gitchunkErrors.ErrCommitFailed) {
			err = gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrCommitFailed, err)
		}
		return gitchunkErrors.NewBatchError(b.Index, total, "commit", err)
	}
	g.report.Commits = append(g.report.Commits, CommitRecord{BatchIndex: b.Index, Commit: id, Message: msg})
	g.logger.Info("Committed batch %d/%d as %s", b.Index, total, id)

	if err := ctx.Err(); err != nil {
		g.logger.Info("Received cancellation signal after committing batch %d, leaving its push to the next run", b.Index)
		return err
	}

	if err := g.push(ctx, b.Index, id, ""); err != nil {
		return gitchunkErrors.NewBatchError(b.Index, total, "push", err)
	}
	g.logger.Success("Batch %d/%d pushed (%s)", b.Index, total, id.Short())
	return nil
}

// push sends commit (or the branch tip when ref is empty) and records the attempt.
func (g *Gitchunk) push(ctx context.Context, batchIndex int, commit, ref vcs.CommitID) error {
	err := g.repo.Push(ctx, vcs.PushRequest{
		Remote: g.config.RemoteName,
		Branch: g.config.BranchName,
		Commit: ref,
		Mode:   g.config.PushMode,
	})

	attempt := PushAttempt{
		RunID:      g.config.RunID,
		BatchIndex: batchIndex,
		Commit:     commit,
		Result:     PushSucceeded,
		Err:        err,
		At:         time.Now(),
	}
	switch {
	case err == nil:
	case gitchunkErrors.Is(err, gitchunkErrors.ErrPushRejected):
		attempt.Result = PushRejected
	default:
		attempt.Result = PushNetwork
		if !gitchunkErrors.Is(err, gitchunkErrors.ErrPushNetwork) {
			err = gitchunkErrors.Errorf("%w: %w", gitchunkErrors.ErrPushNetwork, err)
			attempt.Err = err
		}
	}
	g.report.Attempts = append(g.report.Attempts, attempt)
	g.pushesLeft--

	if err != nil {
		g.logger.Error("Push of %s to %s/%s failed (%s): %v",
			commit.Short(), g.config.RemoteName, g.config.BranchName, attempt.Result, err)
		if attempt.Result == PushRejected {
			g.logger.WarningToUser("The remote branch changed since the last push. Fetch and reconcile, then run gitchunk again.")
		}
		return err
	}

	g.pushesDone++
	return nil
}

// halt records where the run stopped.
func (g *Gitchunk) halt(index int) {
	g.report.Halted = true
	g.report.HaltedAt = index
}

// pauseAfterPush waits before the next push. Nothing is waited for after the last one.
func (g *Gitchunk) pauseAfterPush(ctx context.Context) error {
	if g.pushesLeft <= 0 {
		return nil
	}
	d := g.config.Policy.Delay(g.pushesDone)
	if d <= 0 {
		return nil
	}
	g.logger.StatusMessage("⏸️  Pausing %s before the next push", d)
	if err := g.sleeper.Sleep(ctx, d); err != nil {
		g.logger.Info("Pause interrupted: %v", err)
		return err
	}
	return nil
}

func (g *Gitchunk) commitMessage(b plan.Batch, total int) (string, error) {
	first := ""
	if len(b.Files) > 0 {
		first = b.Files[0].Path
	}
	return g.template.Render(map[string]interface{}{
		"index":  b.Index,
		"total":  total,
		"files":  len(b.Files),
		"size":   units.HumanSize(float64(b.Size)),
		"bytes":  b.Size,
		"action": string(b.Kind),
		"first":  first,
		"branch": g.config.BranchName,
		"run_id": g.config.RunID,
	})
}

func (g *Gitchunk) tagIfRequested(ctx context.Context, committed bool) error {
	if g.config.Tag == "" || !committed {
		return nil
	}
	if err := g.repo.Tag(ctx, g.config.Tag); err != nil {
		return gitchunkErrors.Wrap(err, "failed to create tag")
	}
	if err := g.repo.PushTag(ctx, g.config.RemoteName, g.config.Tag); err != nil {
		return gitchunkErrors.Wrap(err, "failed to push tag")
	}
	g.logger.Success("Tag %s pushed", g.config.Tag)
	return nil
}

// PrintSummary prints a summary of the run
func (g *Gitchunk) PrintSummary() {
	r := g.report
	end := r.Finished
	if end.IsZero() {
		end = time.Now()
	}
	duration := end.Sub(r.Started).Round(time.Second)

	planned := 0
	if r.Plan != nil {
		planned = len(r.Plan.Batches)
	}

	g.logger.StatusMessage("")
	g.logger.StatusMessage("---------------------------------------------")
	g.logger.StatusMessage("📊 gitchunk Run Summary")
	g.logger.StatusMessage("---------------------------------------------")
	g.logger.StatusMessage("🆔 Run: %s", r.RunID)
	g.logger.StatusMessage("📦 Batches planned: %d", planned)
	g.logger.StatusMessage("✅ Commits created: %d", len(r.Commits))
	g.logger.StatusMessage("🚀 Pushes succeeded: %d of %d attempted", r.Pushed(), len(r.Attempts))
	if len(r.Resumed) > 0 {
		g.logger.StatusMessage("🔁 Earlier commits pushed: %d", len(r.Resumed))
	}
	if r.Plan != nil && len(r.Plan.Skipped) > 0 {
		g.logger.StatusMessage("⚠️  Files skipped as too large: %d", len(r.Plan.Skipped))
	}
	g.logger.StatusMessage("⏱️  Run duration: %s", duration)

	if len(r.Attempts) > 0 {
		table := uitable.New()
		table.AddRow("BATCH", "COMMIT", "RESULT", "AT")
		for _, a := range r.Attempts {
			batch := fmt.Sprintf("%d", a.BatchIndex)
			if a.BatchIndex == 0 {
				batch = "earlier"
			}
			table.AddRow(batch, a.Commit.Short(), a.Result, a.At.Format("15:04:05"))
		}
		g.logger.StatusMessage("")
		g.logger.StatusMessage("%s", table)
	}

	switch {
	case r.Halted && r.HaltedAt == 0:
		g.logger.StatusMessage("")
		g.logger.StatusMessage("🛑 Halted before batch 1 while pushing earlier commits: %v", r.Err)
	case r.Halted:
		g.logger.StatusMessage("")
		g.logger.StatusMessage("🛑 Halted at batch %d: %v", r.HaltedAt, r.Err)
	}
	g.logger.StatusMessage("---------------------------------------------")
}
