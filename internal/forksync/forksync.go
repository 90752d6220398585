// SPDX-License-Identifier: MIT

// Package forksync advances a local fork against its upstream template
// without losing local work. Sync walks a fixed sequence of states; the
// cleanup phase runs exactly once on every exit path.
package forksync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skaphos/forkkeeper/internal/conflict"
	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/inspect"
	"github.com/skaphos/forkkeeper/internal/interact"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/remotes"
	"github.com/skaphos/forkkeeper/internal/stash"
	"github.com/skaphos/forkkeeper/internal/syncerr"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// State is a step of the sync state machine.
type State string

const (
	Idle                 State = "idle"
	RemoteAttached       State = "remote_attached"
	Fetched              State = "fetched"
	DivergenceChecked    State = "divergence_checked"
	NoOpDone             State = "noop_done"
	AwaitingConfirmation State = "awaiting_confirmation"
	Protected            State = "protected"
	BranchSwitched       State = "branch_switched"
	Pulled               State = "pulled"
	Merging              State = "merging"
	MergeSucceeded       State = "merge_succeeded"
	ConflictDetected     State = "conflict_detected"
	ConflictResolution   State = "conflict_resolution"
	Committed            State = "committed"
	Pushed               State = "pushed"
	Cleanup              State = "cleanup"
	Done                 State = "done"
	Aborted              State = "aborted"
)

// Confirmation labels.
const (
	LabelUpdate = "Update now"
	LabelLater  = "Not now"
)

const (
	defaultUpstreamRemote = "upstream"
	defaultOriginRemote   = "origin"

	// cleanupTimeout bounds the cleanup phase, which outlives the caller's
	// cancellation.
	cleanupTimeout = 30 * time.Second
)

// Options tune one Sync call. The zero value removes the upstream remote
// afterwards, prompts on conflicts and skips the confirmation checkpoint.
type Options struct {
	// DefaultBranch skips remote HEAD resolution when set.
	DefaultBranch string
	// KeepUpstreamRemote leaves a remote added by this run in place.
	KeepUpstreamRemote bool
	// AutoResolveConflicts resolves without prompting, ending in a forced
	// resolution when the automatic ladder is not enough.
	AutoResolveConflicts bool
	// Confirm asks the user before updating.
	Confirm bool
	// UpstreamRemote and OriginRemote name the remotes. Defaults: "upstream"
	// and "origin".
	UpstreamRemote string
	OriginRemote   string
	// FallbackBranches are tried in order when upstream does not advertise
	// HEAD.
	FallbackBranches []string
	// MergeMessage overrides the merge commit message.
	MergeMessage string
	// AllowUnrelatedHistories passes --allow-unrelated-histories to merge.
	AllowUnrelatedHistories bool
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.UpstreamRemote) == "" {
		o.UpstreamRemote = defaultUpstreamRemote
	}
	if strings.TrimSpace(o.OriginRemote) == "" {
		o.OriginRemote = defaultOriginRemote
	}
	if len(o.FallbackBranches) == 0 {
		o.FallbackBranches = remotes.DefaultFallbackBranches
	}
	return o
}

// Orchestrator runs fork syncs. Collaborators are injected; it holds no
// per-repository state between calls.
type Orchestrator struct {
	adapter  vcs.Adapter
	inspect  *inspect.Inspector
	remotes  *remotes.Manager
	resolver *conflict.Resolver
	guard    *stash.Guard
	ui       interact.UI
	progress interact.Progress
	log      *slog.Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(dir string, s State)
}

// New wires an Orchestrator and its components around adapter. Nil ui,
// progress and log fall back to non-interactive, discarding and default
// implementations.
func New(adapter vcs.Adapter, ui interact.UI, progress interact.Progress, log *slog.Logger) *Orchestrator {
	if ui == nil {
		ui = interact.Noninteractive{}
	}
	if progress == nil {
		progress = interact.Discard
	}
	if log == nil {
		log = slog.Default()
	}
	in := inspect.New(adapter, log)
	return &Orchestrator{
		adapter:  adapter,
		inspect:  in,
		remotes:  remotes.New(adapter, log),
		resolver: conflict.New(adapter, in, ui, log),
		guard:    stash.New(adapter, in, ui, log),
		ui:       ui,
		progress: progress,
		log:      log,
	}
}

// run is the mutable state of one Sync call.
type run struct {
	dir            string
	upstreamURL    string
	opts           Options
	state          State
	originalBranch string
	attachment     remotes.Attachment
	switched       bool
	mergeStarted   bool
	interrupted    bool
	ticket         *model.StashTicket
	outcome        model.SyncOutcome
}

func (o *Orchestrator) to(r *run, s State) {
	r.state = s
	o.log.Debug("fork sync transition", "dir", r.dir, "state", s)
	if o.OnTransition != nil {
		o.OnTransition(r.dir, s)
	}
}

func (o *Orchestrator) warn(ctx context.Context, r *run, msg string) {
	r.outcome.Warnings = append(r.outcome.Warnings, msg)
	if _, err := o.ui.ShowMessage(ctx, interact.LevelWarning, msg); err != nil {
		o.log.Warn("could not display warning", "error", err)
	}
}

func (o *Orchestrator) info(ctx context.Context, msg string) {
	if _, err := o.ui.ShowMessage(ctx, interact.LevelInfo, msg); err != nil {
		o.log.Warn("could not display message", "error", err)
	}
}

// Sync merges upstream changes into the default branch of the working copy
// at dir and pushes the result to origin. Updated=false means there was
// nothing to merge or the user declined. Failures are returned as errors
// tagged with a syncerr.Kind after cleanup has run.
func (o *Orchestrator) Sync(ctx context.Context, dir, upstreamURL string, opts Options) (outcome model.SyncOutcome, err error) {
	r := &run{dir: dir, upstreamURL: upstreamURL, opts: opts.withDefaults()}
	o.to(r, Idle)
	r.originalBranch = o.inspect.CurrentBranch(ctx, dir)

	o.progress.Report("Attaching upstream remote...")
	r.attachment, err = o.remotes.EnsureRemote(ctx, dir, r.opts.UpstreamRemote, upstreamURL)
	if err != nil {
		o.to(r, Aborted)
		return r.outcome, err
	}
	o.to(r, RemoteAttached)

	defer func() {
		r.interrupted = ctx.Err() != nil
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		o.cleanup(cctx, r, err)
		outcome = r.outcome
		if err != nil {
			o.to(r, Aborted)
			return
		}
		o.to(r, Done)
	}()

	err = o.advance(ctx, r)
	return r.outcome, err
}

func (o *Orchestrator) advance(ctx context.Context, r *run) error {
	dir, opts := r.dir, r.opts

	o.progress.Report("Fetching upstream changes...")
	if err := o.remotes.Fetch(ctx, dir, opts.UpstreamRemote); err != nil {
		return err
	}
	o.to(r, Fetched)

	branch := strings.TrimSpace(opts.DefaultBranch)
	if branch == "" {
		resolved, ok := o.remotes.ResolveDefaultBranch(ctx, dir, opts.UpstreamRemote, opts.FallbackBranches)
		if !ok {
			return syncerr.New(syncerr.RemoteUnresolvable,
				"could not determine the default branch of %s", gitx.StripToken(r.upstreamURL)).
				WithHint("check that the upstream repository is reachable and has commits")
		}
		branch = resolved
	}
	r.outcome.DefaultBranch = branch
	upstreamRef := opts.UpstreamRemote + "/" + branch

	div := o.inspect.Divergence(ctx, dir, upstreamRef)
	r.outcome.BehindCount = div.Behind
	o.to(r, DivergenceChecked)
	if div.Behind <= 0 {
		o.to(r, NoOpDone)
		return nil
	}

	if opts.Confirm {
		o.to(r, AwaitingConfirmation)
		answer, err := o.ui.ShowMessage(ctx, interact.LevelInfo,
			fmt.Sprintf("%d new upstream commit(s) are available for %s. Update now?", div.Behind, branch),
			LabelUpdate, LabelLater)
		if err != nil {
			return fmt.Errorf("confirmation prompt: %w", err)
		}
		if answer != LabelUpdate {
			o.log.Info("update declined", "dir", dir, "behind", div.Behind)
			return nil
		}
	}

	protection, err := o.guard.Protect(ctx, dir)
	if err != nil {
		return err
	}
	if !protection.Proceed {
		return syncerr.New(syncerr.WorkingTreeBlocked, "%s has unresolved merge conflicts", dir).
			WithHint("resolve the conflicts, commit, and retry")
	}
	r.ticket = protection.Ticket
	o.to(r, Protected)

	if err := o.switchBranch(ctx, r, branch, upstreamRef); err != nil {
		return err
	}
	o.to(r, BranchSwitched)

	o.pullOrigin(ctx, r, branch)
	o.to(r, Pulled)

	o.progress.Report("Merging upstream changes...")
	o.to(r, Merging)
	message := opts.MergeMessage
	if message == "" {
		message = fmt.Sprintf("Merge %s into %s", upstreamRef, branch)
	}
	r.mergeStarted = true
	mergeErr := o.adapter.Merge(ctx, dir, upstreamRef, message, opts.AllowUnrelatedHistories)
	if mergeErr != nil {
		conflicts := o.inspect.ConflictedPaths(ctx, dir)
		if len(conflicts) == 0 && gitx.KindOf(mergeErr) != gitx.ErrMergeConflict {
			return fmt.Errorf("merge %s: %w", upstreamRef, mergeErr)
		}
		o.to(r, ConflictDetected)
		o.log.Info("merge produced conflicts", "dir", dir, "paths", conflicts)
		if err := o.resolveConflicts(ctx, r); err != nil {
			return err
		}
	} else {
		o.to(r, MergeSucceeded)
	}

	if remaining := o.inspect.ConflictedPaths(ctx, dir); len(remaining) > 0 {
		o.resolver.ForceResolve(ctx, dir, remaining)
		if still := o.inspect.ConflictedPaths(ctx, dir); len(still) > 0 {
			return unresolved(still)
		}
	}

	if err := o.adapter.Commit(ctx, dir, message); err != nil {
		switch gitx.KindOf(err) {
		case gitx.ErrNothingToCommit:
		case gitx.ErrUnmergedFiles:
			return unresolved(o.inspect.ConflictedPaths(ctx, dir))
		default:
			return fmt.Errorf("commit merge: %w", err)
		}
	}
	o.to(r, Committed)

	o.progress.Report("Pushing to origin...")
	if err := o.remotes.Push(ctx, dir, opts.OriginRemote, branch); err != nil {
		o.log.Warn("push after merge failed", "dir", dir, "error", err)
		o.warn(ctx, r, fmt.Sprintf("Upstream changes were merged locally, but pushing %s to %s failed. Push manually when the connection is available.", branch, opts.OriginRemote))
	} else {
		o.to(r, Pushed)
	}
	r.outcome.Updated = true
	return nil
}

// switchBranch checks out branch when HEAD is attached to another branch,
// creating it from origin/<branch> when that exists, else from upstreamRef.
func (o *Orchestrator) switchBranch(ctx context.Context, r *run, branch, upstreamRef string) error {
	current := r.originalBranch
	if current == model.DetachedBranch || current == branch {
		return nil
	}
	if err := o.adapter.Checkout(ctx, r.dir, branch); err == nil {
		r.switched = true
		return nil
	}
	originRef := r.opts.OriginRemote + "/" + branch
	start, track := upstreamRef, false
	if o.adapter.RefExists(ctx, r.dir, "refs/remotes/"+originRef) {
		start, track = originRef, true
	}
	if err := o.adapter.CreateBranch(ctx, r.dir, branch, start, track); err != nil {
		return fmt.Errorf("switch to %s: %w", branch, err)
	}
	r.switched = true
	return nil
}

// pullOrigin reconciles origin before merging upstream. Failures are
// logged only; the upstream merge is the primary mechanism.
func (o *Orchestrator) pullOrigin(ctx context.Context, r *run, branch string) {
	o.progress.Report("Updating from origin...")
	err := o.adapter.PullFastForward(ctx, r.dir, r.opts.OriginRemote, branch)
	if err == nil {
		return
	}
	o.log.Debug("fast-forward pull from origin failed", "dir", r.dir, "error", err)
	if err := o.adapter.PullMerge(ctx, r.dir, r.opts.OriginRemote, branch); err != nil {
		o.log.Warn("pull from origin failed; continuing with upstream merge", "dir", r.dir, "error", err, "class", gitx.ClassifyError(err))
		if o.adapter.MergeInProgress(ctx, r.dir) {
			if err := o.adapter.MergeAbort(ctx, r.dir); err != nil {
				o.log.Warn("could not abort origin merge", "dir", r.dir, "error", err)
			}
		}
	}
}

func (o *Orchestrator) resolveConflicts(ctx context.Context, r *run) error {
	dir := r.dir
	o.to(r, ConflictResolution)
	o.progress.Report("Resolving conflicts...")

	deleted := 0
	for _, c := range o.inspect.Conflicts(ctx, dir) {
		if c.DeletedByThem() {
			deleted++
		}
	}
	if o.resolver.AutoResolveDeletedByUpstream(ctx, dir) {
		if deleted > 0 {
			o.info(ctx, fmt.Sprintf("Kept your version of %d file(s) that were deleted upstream.", deleted))
		}
		return nil
	}

	if r.opts.AutoResolveConflicts {
		remaining := o.inspect.ConflictedPaths(ctx, dir)
		if !o.resolver.ResolveAutomatically(ctx, dir, remaining) {
			o.resolver.ForceResolve(ctx, dir, o.inspect.ConflictedPaths(ctx, dir))
		}
		o.warn(ctx, r, "Some conflicts were resolved automatically, keeping your changes where possible. Review the merge result.")
		return nil
	}

	remaining := o.inspect.ConflictedPaths(ctx, dir)
	choice, err := o.resolver.PromptInteractive(ctx, dir, remaining)
	if err != nil {
		return err
	}
	switch choice {
	case conflict.ChoiceOurs:
		return o.resolveGlobally(ctx, dir, conflict.Ours)
	case conflict.ChoiceTheirs:
		return o.resolveGlobally(ctx, dir, conflict.Theirs)
	case conflict.ChoiceEditor:
		return syncerr.New(syncerr.ManualResolutionRequested, "conflicted files were opened for manual resolution").
			WithHint("finish resolving, then commit the merge")
	default:
		if err := o.adapter.MergeAbort(ctx, dir); err != nil {
			o.log.Warn("merge abort failed", "dir", dir, "error", err)
		}
		return syncerr.New(syncerr.MergeAbortedByUser, "merge aborted; no upstream changes were applied")
	}
}

func (o *Orchestrator) resolveGlobally(ctx context.Context, dir string, strategy conflict.Strategy) error {
	if err := o.resolver.ResolveUsing(ctx, dir, strategy, nil); err != nil {
		o.log.Warn("conflict resolution incomplete", "dir", dir, "strategy", strategy, "error", err)
	}
	return nil
}

func unresolved(paths []string) error {
	return syncerr.New(syncerr.MergeUnresolved, "%d file(s) still have merge conflicts: %s",
		len(paths), strings.Join(paths, ", ")).
		WithHint("the merge was left in progress; resolve the files, then commit")
}

// cleanup restores the branch, the stash and the remote set. ctx must not
// share the sync's cancellation. It never changes the returned error;
// problems become warnings.
func (o *Orchestrator) cleanup(ctx context.Context, r *run, cause error) {
	o.to(r, Cleanup)
	dir := r.dir
	mergeOpen := o.adapter.MergeInProgress(ctx, dir)

	// An interrupted run backs out its own merge so the branch and stash can
	// be put back.
	if mergeOpen && r.mergeStarted && r.interrupted {
		if err := o.adapter.MergeAbort(ctx, dir); err != nil {
			o.warn(ctx, r, fmt.Sprintf("Could not abort the interrupted merge: %v", err))
		} else {
			o.log.Info("aborted interrupted merge", "dir", dir)
			mergeOpen = false
		}
	}

	if r.switched {
		if mergeOpen {
			o.log.Info("staying on merge branch while the merge is unfinished", "dir", dir, "branch", r.outcome.DefaultBranch)
		} else if err := o.adapter.Checkout(ctx, dir, r.originalBranch); err != nil {
			o.warn(ctx, r, fmt.Sprintf("Could not switch back to %s: %v", r.originalBranch, err))
		}
	}

	if r.ticket != nil {
		var err error
		if mergeOpen {
			err = o.guard.Leave(ctx, dir, r.ticket, "the merge is unfinished")
		} else {
			err = o.guard.Restore(ctx, dir, r.ticket)
		}
		if err != nil {
			r.outcome.Warnings = append(r.outcome.Warnings, syncerr.UserMessage(err))
		}
	}

	ignored := o.remotes.Detach(ctx, dir, r.opts.UpstreamRemote, r.attachment, r.opts.KeepUpstreamRemote)
	switch {
	case !ignored.Failed():
	case r.attachment.Changed():
		o.warn(ctx, r, fmt.Sprintf("Could not restore the %s remote to %s: %v",
			r.opts.UpstreamRemote, gitx.StripToken(r.attachment.PreviousURL), ignored.Err))
	default:
		o.log.Debug("upstream remote cleanup ignored", "dir", dir, "error", ignored.Err)
	}

	if cause != nil && !syncerr.Declined(cause) {
		o.log.Error("fork sync failed", "dir", dir, "kind", syncerr.KindOf(cause), "error", cause)
	}
}
