// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/skaphos/forkkeeper/internal/forksync"
	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/recovery"
	"github.com/skaphos/forkkeeper/internal/registry"
	"github.com/skaphos/forkkeeper/internal/syncerr"
)

// OutcomeKind is the typed outcome category for a single sync result.
type OutcomeKind string

const (
	OutcomeUpToDate      OutcomeKind = "up_to_date"
	OutcomeUpdated       OutcomeKind = "updated"
	OutcomeCloned        OutcomeKind = "cloned"
	OutcomeRecovered     OutcomeKind = "recovered"
	OutcomeDeclined      OutcomeKind = "declined"
	OutcomeFailedInvalid OutcomeKind = "failed_invalid"
	OutcomeFailedClone   OutcomeKind = "failed_clone"
	OutcomeFailedOrigin  OutcomeKind = "failed_origin"
	OutcomeFailedRecover OutcomeKind = "failed_recover"
	OutcomeFailedSync    OutcomeKind = "failed_sync"
)

// restoreTimeout bounds putting local edits back after an origin pull.
const restoreTimeout = 30 * time.Second

// detached returns a context that survives ctx's cancellation, for steps
// that must undo work even when the sync was interrupted.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
}

// SyncOptions configures a sync run. Zero-valued fields fall back to the
// configuration defaults.
type SyncOptions struct {
	Concurrency     int
	Timeout         int // seconds per repo
	ContinueOnError bool
	// Interactive runs are always sequential so prompts never interleave.
	Interactive bool

	UpstreamURL          string
	DefaultBranch        string
	AutoResolveConflicts *bool
	KeepUpstreamRemote   *bool
	Confirm              *bool
	FallbackBranches     []string
}

// SyncResult records the outcome for a single repository.
type SyncResult struct {
	Name          string              `json:"name"`
	Path          string              `json:"path"`
	RepoID        string              `json:"repo_id,omitempty"`
	Outcome       OutcomeKind         `json:"outcome"`
	OK            bool                `json:"ok"`
	Updated       bool                `json:"updated"`
	BehindCount   int                 `json:"behind_count,omitempty"`
	DefaultBranch string              `json:"default_branch,omitempty"`
	Warnings      []string            `json:"warnings,omitempty"`
	Backup        *model.BackupRecord `json:"backup,omitempty"`
	Error         string              `json:"error,omitempty"`
	ErrorClass    string              `json:"error_class,omitempty"`
	// Err is the failure behind Error, kept for callers that branch on kind.
	Err error `json:"-"`
}

// SyncResultCallback is invoked for each sync result as it is produced, on
// the coordinating goroutine.
type SyncResultCallback func(SyncResult)

// SyncAll syncs every registered repository. Without ContinueOnError it stops
// at the first failure; with it, non-interactive runs fan out across a
// bounded worker pool.
func (e *Engine) SyncAll(ctx context.Context, opts SyncOptions, onResult SyncResultCallback) []SyncResult {
	concurrency, timeoutSeconds := e.runtime(opts.Concurrency, opts.Timeout)
	entries := e.snapshotEntries()
	results := make([]SyncResult, 0, len(entries))

	if !opts.ContinueOnError || opts.Interactive {
		for _, entry := range entries {
			res := e.syncWithTimeout(ctx, entry, opts, timeoutSeconds)
			results = append(results, res)
			if onResult != nil {
				onResult(res)
			}
			if !res.OK && !opts.ContinueOnError {
				break
			}
		}
		sortSyncResults(results)
		return results
	}

	sem := make(chan struct{}, concurrency)
	out := make(chan SyncResult, workerChannelBufferSize(len(entries)))
	for _, entry := range entries {
		sem <- struct{}{}
		go func(entry registry.Entry) {
			defer func() { <-sem }()
			out <- e.syncWithTimeout(ctx, entry, opts, timeoutSeconds)
		}(entry)
	}
	for range entries {
		res := <-out
		results = append(results, res)
		if onResult != nil {
			onResult(res)
		}
	}
	sortSyncResults(results)
	return results
}

// SyncPath syncs the registered repository at path, registering it first
// when opts.UpstreamURL is given for an unknown path.
func (e *Engine) SyncPath(ctx context.Context, path string, opts SyncOptions) (SyncResult, error) {
	entry := e.findEntry(absPath(path))
	if entry == nil {
		if strings.TrimSpace(opts.UpstreamURL) == "" {
			return SyncResult{}, fmt.Errorf("%s is not registered; pass --upstream to sync it", path)
		}
		added, err := e.Add(ctx, AddOptions{Path: path, UpstreamURL: opts.UpstreamURL, DefaultBranch: opts.DefaultBranch})
		if err != nil {
			return SyncResult{}, err
		}
		entry = &added
	}
	_, timeoutSeconds := e.runtime(opts.Concurrency, opts.Timeout)
	return e.syncWithTimeout(ctx, *entry, opts, timeoutSeconds), nil
}

func (e *Engine) syncWithTimeout(ctx context.Context, entry registry.Entry, opts SyncOptions, timeoutSeconds int) SyncResult {
	repoCtx := ctx
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		repoCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}
	res := e.SyncEntry(repoCtx, entry, opts)
	e.recordSync(entry.Path, res)
	return res
}

// SyncEntry brings one repository up to date: clone when missing, update
// from origin (recovering from rewritten history), then merge upstream.
func (e *Engine) SyncEntry(ctx context.Context, entry registry.Entry, opts SyncOptions) SyncResult {
	res := SyncResult{Name: entry.DisplayName(), Path: entry.Path, RepoID: entry.RepoID}
	e.progress.Report(fmt.Sprintf("Syncing %s", res.Name))

	if _, err := os.Stat(entry.Path); err != nil {
		if !os.IsNotExist(err) {
			return failed(res, OutcomeFailedInvalid, err)
		}
		if strings.TrimSpace(entry.OriginURL) == "" {
			return failed(res, OutcomeFailedInvalid, errors.New("path missing and no origin URL recorded"))
		}
		if err := e.clone(ctx, entry); err != nil {
			return failed(res, OutcomeFailedClone, err)
		}
		res.Outcome = OutcomeCloned
	} else {
		backup, recovered, err := e.updateOrigin(ctx, entry)
		if err != nil {
			if recovered {
				return failed(res, OutcomeFailedRecover, err)
			}
			return failed(res, OutcomeFailedOrigin, err)
		}
		if recovered {
			res.Outcome = OutcomeRecovered
			res.Backup = backup
		}
	}

	upstream := strings.TrimSpace(entry.UpstreamURL)
	if opts.UpstreamURL != "" {
		upstream = strings.TrimSpace(opts.UpstreamURL)
	}
	if upstream == "" {
		if res.Outcome == "" {
			res.Outcome = OutcomeUpToDate
		}
		res.OK = true
		return res
	}

	authUpstream, err := e.authURL(ctx, upstream)
	if err != nil {
		return failed(res, OutcomeFailedSync, err)
	}
	outcome, err := e.forks.Sync(ctx, entry.Path, authUpstream, e.forkOptions(entry, opts))
	res.Warnings = outcome.Warnings
	res.BehindCount = outcome.BehindCount
	res.DefaultBranch = outcome.DefaultBranch
	if err != nil {
		if syncerr.Declined(err) {
			res.OK = true
			res.Outcome = OutcomeDeclined
			res.Error = syncerr.UserMessage(err)
			res.ErrorClass = string(syncerr.KindOf(err))
			res.Err = err
			return res
		}
		return failed(res, OutcomeFailedSync, err)
	}
	res.OK = true
	res.Updated = outcome.Updated
	if res.Outcome == "" {
		res.Outcome = OutcomeUpToDate
		if outcome.Updated {
			res.Outcome = OutcomeUpdated
		}
	}
	return res
}

func (e *Engine) forkOptions(entry registry.Entry, opts SyncOptions) forksync.Options {
	d := e.cfg.Defaults
	fo := forksync.Options{
		DefaultBranch:           entry.DefaultBranch,
		KeepUpstreamRemote:      d.KeepUpstreamRemote,
		AutoResolveConflicts:    d.AutoResolveConflicts,
		Confirm:                 d.ConfirmUpdates,
		UpstreamRemote:          d.UpstreamRemote,
		OriginRemote:            d.OriginRemote,
		FallbackBranches:        d.FallbackBranches,
		MergeMessage:            d.MergeMessage,
		AllowUnrelatedHistories: d.AllowUnrelatedHistories,
	}
	if opts.DefaultBranch != "" {
		fo.DefaultBranch = opts.DefaultBranch
	}
	if opts.AutoResolveConflicts != nil {
		fo.AutoResolveConflicts = *opts.AutoResolveConflicts
	}
	if opts.KeepUpstreamRemote != nil {
		fo.KeepUpstreamRemote = *opts.KeepUpstreamRemote
	}
	if opts.Confirm != nil {
		fo.Confirm = *opts.Confirm
	}
	if len(opts.FallbackBranches) > 0 {
		fo.FallbackBranches = opts.FallbackBranches
	}
	if !opts.Interactive {
		fo.AutoResolveConflicts = true
		fo.Confirm = false
	}
	return fo
}

func (e *Engine) clone(ctx context.Context, entry registry.Entry) error {
	url, err := e.authURL(ctx, entry.OriginURL)
	if err != nil {
		return err
	}
	err = e.withAuthRetry(ctx, entry.OriginURL, func(u string) error {
		url = u
		return nil
	}, func() error {
		if err := e.adapter.Clone(ctx, url, entry.Path, entry.DefaultBranch); err != nil {
			_ = os.RemoveAll(entry.Path)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clone %s: %w", gitx.StripToken(entry.OriginURL), err)
	}
	return nil
}

// updateOrigin pulls the current branch from origin with local edits
// protected. A history-rewrite signature triggers backup and re-clone.
func (e *Engine) updateOrigin(ctx context.Context, entry registry.Entry) (*model.BackupRecord, bool, error) {
	dir := entry.Path
	origin := e.cfg.Defaults.OriginRemote
	liveURL, err := e.adapter.RemoteURL(ctx, dir, origin)
	if err != nil {
		// No origin: nothing to update from.
		e.log.Debug("no origin remote; skipping origin update", "dir", dir, "error", err)
		return nil, false, nil
	}
	if e.adapter.MergeInProgress(ctx, dir) {
		return nil, false, syncerr.New(syncerr.MergeUnresolved, "a previous merge in %s is unfinished", dir).
			WithHint("resolve the conflicts and commit, or run `git merge --abort`")
	}
	if err := e.refreshOriginURL(ctx, dir, origin, liveURL); err != nil {
		return nil, false, err
	}

	err = e.withAuthRetry(ctx, liveURL, func(u string) error {
		return e.adapter.SetRemoteURL(ctx, dir, origin, u)
	}, func() error {
		return e.remotes.Fetch(ctx, dir, origin)
	})
	if err != nil {
		return nil, false, err
	}

	head, err := e.adapter.Head(ctx, dir)
	if err != nil {
		return nil, false, err
	}
	if head.Detached || head.Branch == "" {
		return nil, false, nil
	}
	if !e.adapter.RefExists(ctx, dir, "refs/remotes/"+origin+"/"+head.Branch) {
		return nil, false, nil
	}

	protection, err := e.guard.Protect(ctx, dir)
	if err != nil {
		return nil, false, err
	}
	if !protection.Proceed {
		return nil, false, syncerr.New(syncerr.WorkingTreeBlocked, "%s has unresolved conflicts", dir).
			WithHint("resolve or abort the conflicted merge first")
	}

	pullErr := e.adapter.PullFastForward(ctx, dir, origin, head.Branch)
	if pullErr != nil {
		mergeErr := e.adapter.PullMerge(ctx, dir, origin, head.Branch)
		if mergeErr == nil {
			pullErr = nil
		} else {
			pullErr = errors.Join(pullErr, mergeErr)
		}
	}
	if pullErr == nil {
		rctx, cancel := detached(ctx)
		defer cancel()
		if err := e.guard.Restore(rctx, dir, protection.Ticket); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	rctx, cancel := detached(ctx)
	defer cancel()
	if e.adapter.MergeInProgress(rctx, dir) {
		if err := e.adapter.MergeAbort(rctx, dir); err != nil {
			e.log.Warn("merge --abort after failed origin pull", "dir", dir, "error", err)
		}
	}
	// Local edits go back into the tree first so a backup captures them.
	restoreErr := e.guard.Restore(rctx, dir, protection.Ticket)

	if !recovery.IsHistoryRewriteSignature(pullErr) {
		return nil, false, errors.Join(fmt.Errorf("pull %s %s: %w", origin, head.Branch, pullErr), restoreErr)
	}
	e.log.Warn("origin history rewritten; re-cloning", "dir", dir, "error", pullErr)
	record, err := e.recovery.Recover(ctx, dir, gitx.StripToken(liveURL), entry.DisplayName())
	if err != nil {
		return record, true, syncerr.Wrap(syncerr.HistoryRewriteDetected, err, "could not re-download %s after its history changed", entry.DisplayName())
	}
	return record, true, nil
}

// refreshOriginURL embeds the current token into origin when one is known.
func (e *Engine) refreshOriginURL(ctx context.Context, dir, origin, liveURL string) error {
	if e.creds == nil || !gitx.IsHTTPURL(liveURL) {
		return nil
	}
	want, err := e.creds.AuthURL(ctx, gitx.StripToken(liveURL))
	if err != nil {
		return err
	}
	// An unknown token leaves whatever credentials git already holds.
	if want == liveURL || want == gitx.StripToken(liveURL) {
		return nil
	}
	return e.adapter.SetRemoteURL(ctx, dir, origin, want)
}

// withAuthRetry runs op, and when it fails with an authentication error,
// refreshes the token for rawURL, applies it and runs op once more.
func (e *Engine) withAuthRetry(ctx context.Context, rawURL string, apply func(string) error, op func() error) error {
	refreshed := false
	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if refreshed || e.creds == nil || gitx.KindOf(err) != gitx.ErrAuth || !gitx.IsHTTPURL(rawURL) {
			return backoff.Permanent(err)
		}
		refreshed = true
		next, refreshErr := e.creds.Refresh(ctx, gitx.StripToken(rawURL))
		if refreshErr != nil {
			return backoff.Permanent(errors.Join(err, refreshErr))
		}
		if applyErr := apply(next); applyErr != nil {
			return backoff.Permanent(applyErr)
		}
		return err
	}
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx))
}

func (e *Engine) authURL(ctx context.Context, rawURL string) (string, error) {
	if e.creds == nil {
		return rawURL, nil
	}
	return e.creds.AuthURL(ctx, rawURL)
}

func (e *Engine) recordSync(path string, res SyncResult) {
	rec := model.SyncRecord{OK: res.OK && res.Outcome != OutcomeDeclined, At: e.now(), Updated: res.Updated, Error: res.Error}
	_ = e.withRegistry(func(reg *registry.Registry) error {
		reg.RecordSync(path, rec)
		if res.DefaultBranch != "" {
			if entry := reg.FindByPath(path); entry != nil && entry.DefaultBranch == "" {
				entry.DefaultBranch = res.DefaultBranch
			}
		}
		return nil
	})
}

func failed(res SyncResult, outcome OutcomeKind, err error) SyncResult {
	res.OK = false
	res.Outcome = outcome
	res.Err = err
	res.Error = syncerr.UserMessage(err)
	kind := syncerr.KindOf(err)
	if kind == syncerr.Unknown {
		res.ErrorClass = gitx.ClassifyError(err)
	} else {
		res.ErrorClass = string(kind)
	}
	return res
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Recover backs up and re-clones the working copy at path. remoteURL
// defaults to the recorded origin, then to the live origin remote.
func (e *Engine) Recover(ctx context.Context, path, remoteURL, name string) (*model.BackupRecord, error) {
	path = absPath(path)
	entry := e.findEntry(path)
	if strings.TrimSpace(remoteURL) == "" && entry != nil {
		remoteURL = entry.OriginURL
	}
	if strings.TrimSpace(remoteURL) == "" {
		live, err := e.adapter.RemoteURL(ctx, path, e.cfg.Defaults.OriginRemote)
		if err != nil {
			return nil, fmt.Errorf("no remote to re-clone %s from: %w", path, err)
		}
		remoteURL = live
	}
	remoteURL = gitx.StripToken(remoteURL)
	if name == "" && entry != nil {
		name = entry.DisplayName()
	}
	record, err := e.recovery.Recover(ctx, path, remoteURL, name)
	res := SyncResult{Name: name, Path: path, Outcome: OutcomeRecovered, OK: err == nil, Backup: record}
	if err != nil {
		res = failed(res, OutcomeFailedRecover, err)
	}
	if entry != nil {
		e.recordSync(path, res)
	}
	return record, err
}
