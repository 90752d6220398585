// SPDX-License-Identifier: MIT

// Package engine manages the registered course repositories: it scans,
// inspects and syncs them, coordinating discovery, the registry and the
// fork sync core.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skaphos/forkkeeper/internal/config"
	"github.com/skaphos/forkkeeper/internal/discovery"
	"github.com/skaphos/forkkeeper/internal/forksync"
	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/inspect"
	"github.com/skaphos/forkkeeper/internal/interact"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/recovery"
	"github.com/skaphos/forkkeeper/internal/registry"
	"github.com/skaphos/forkkeeper/internal/remotemismatch"
	"github.com/skaphos/forkkeeper/internal/remotes"
	"github.com/skaphos/forkkeeper/internal/sortutil"
	"github.com/skaphos/forkkeeper/internal/stash"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// FilterKind represents the --only filter options.
type FilterKind string

const (
	FilterAll      FilterKind = "all"
	FilterErrors   FilterKind = "errors"
	FilterDirty    FilterKind = "dirty"
	FilterClean    FilterKind = "clean"
	FilterMissing  FilterKind = "missing"
	FilterMerging  FilterKind = "merging"
	FilterMismatch FilterKind = "origin-mismatch"
)

const maxWorkerChannelBuffer = 100

// Deps are the collaborators an Engine reports through. Nil fields fall
// back to git, a non-interactive UI, discarded progress and slog.Default.
type Deps struct {
	Adapter     vcs.Adapter
	Credentials recovery.Credentials
	UI          interact.UI
	Progress    interact.Progress
	Log         *slog.Logger
}

// Engine is the repository manager.
type Engine struct {
	cfg      *config.Config
	registry *registry.Registry
	adapter  vcs.Adapter
	creds    recovery.Credentials
	ui       interact.UI
	progress interact.Progress
	log      *slog.Logger

	inspect  *inspect.Inspector
	remotes  *remotes.Manager
	guard    *stash.Guard
	forks    *forksync.Orchestrator
	recovery *recovery.Recovery

	registryMu sync.Mutex
	now        func() time.Time
}

// New creates an Engine for cfg and reg.
func New(cfg *config.Config, reg *registry.Registry, deps Deps) *Engine {
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	if reg == nil {
		reg = &registry.Registry{}
	}
	if deps.Adapter == nil {
		deps.Adapter = vcs.NewGitAdapter(nil)
	}
	if deps.UI == nil {
		deps.UI = interact.Noninteractive{}
	}
	if deps.Progress == nil {
		deps.Progress = interact.Discard
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	in := inspect.New(deps.Adapter, deps.Log)
	return &Engine{
		cfg:      cfg,
		registry: reg,
		adapter:  deps.Adapter,
		creds:    deps.Credentials,
		ui:       deps.UI,
		progress: deps.Progress,
		log:      deps.Log,
		inspect:  in,
		remotes:  remotes.New(deps.Adapter, deps.Log),
		guard:    stash.New(deps.Adapter, in, deps.UI, deps.Log),
		forks:    forksync.New(deps.Adapter, deps.UI, deps.Progress, deps.Log),
		recovery: recovery.New(deps.Adapter, deps.Credentials, deps.UI, deps.Log, recovery.Options{
			BackupRoot: cfg.Defaults.BackupDir,
			Excludes:   cfg.Defaults.BackupExclude,
		}),
		now: time.Now,
	}
}

// Config returns the engine configuration reference.
func (e *Engine) Config() *config.Config { return e.cfg }

// Registry returns the engine registry reference.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Adapter returns the engine VCS adapter.
func (e *Engine) Adapter() vcs.Adapter { return e.adapter }

// ScanOptions configures a scan operation.
type ScanOptions struct {
	Roots          []string
	Exclude        []string
	FollowSymlinks bool
}

// Scan discovers working copies under the roots and registers them.
func (e *Engine) Scan(ctx context.Context, opts ScanOptions) ([]model.RepoStatus, error) {
	if len(opts.Roots) == 0 {
		return nil, errors.New("no scan roots provided")
	}
	exclude := opts.Exclude
	if len(exclude) == 0 {
		exclude = e.cfg.Exclude
	}

	if err := e.withRegistry(func(reg *registry.Registry) error { return reg.ValidatePaths() }); err != nil {
		return nil, err
	}

	results, err := discovery.Scan(ctx, discovery.Options{
		Roots:          opts.Roots,
		Exclude:        exclude,
		FollowSymlinks: opts.FollowSymlinks,
		UpstreamRemote: e.cfg.Defaults.UpstreamRemote,
		Adapter:        e.adapter,
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	statuses := make([]model.RepoStatus, 0, len(results))
	for _, res := range results {
		entry := registry.Entry{
			Path:        res.Path,
			RepoID:      res.RepoID,
			OriginURL:   res.OriginURL,
			UpstreamURL: res.UpstreamURL,
			LastSeen:    now,
			Status:      registry.StatusPresent,
		}
		_ = e.withRegistry(func(reg *registry.Registry) error {
			reg.Upsert(entry)
			return nil
		})
		statuses = append(statuses, model.RepoStatus{
			RepoID:        res.RepoID,
			Name:          entry.DisplayName(),
			Path:          res.Path,
			UpstreamURL:   res.UpstreamURL,
			OriginURL:     res.OriginURL,
			Remotes:       res.Remotes,
			PrimaryRemote: res.PrimaryRemote,
		})
	}
	sortutil.SortRepoStatuses(statuses)
	e.setRegistryUpdatedAt(now)
	return statuses, nil
}

// AddOptions registers one course repository.
type AddOptions struct {
	Path          string
	Name          string
	UpstreamURL   string
	OriginURL     string
	DefaultBranch string
}

// Add registers a course repository. An existing working copy supplies its
// origin URL when none is given; a missing path needs OriginURL so the next
// sync can clone it.
func (e *Engine) Add(ctx context.Context, opts AddOptions) (registry.Entry, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return registry.Entry{}, errors.New("path is required")
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return registry.Entry{}, err
	}
	entry := registry.Entry{
		Path:          path,
		Name:          strings.TrimSpace(opts.Name),
		UpstreamURL:   gitx.StripToken(strings.TrimSpace(opts.UpstreamURL)),
		OriginURL:     gitx.StripToken(strings.TrimSpace(opts.OriginURL)),
		DefaultBranch: strings.TrimSpace(opts.DefaultBranch),
		LastSeen:      e.now(),
	}
	if _, statErr := os.Stat(path); statErr != nil {
		if !os.IsNotExist(statErr) {
			return registry.Entry{}, statErr
		}
		if entry.OriginURL == "" {
			return registry.Entry{}, fmt.Errorf("%s does not exist; an origin URL is needed to clone it", path)
		}
		entry.Status = registry.StatusMissing
	} else {
		ok, err := e.adapter.IsRepo(ctx, path)
		if err != nil {
			return registry.Entry{}, err
		}
		if !ok {
			return registry.Entry{}, fmt.Errorf("%s is not a git working copy", path)
		}
		if entry.OriginURL == "" {
			live, err := e.adapter.RemoteURL(ctx, path, e.cfg.Defaults.OriginRemote)
			if err != nil {
				return registry.Entry{}, fmt.Errorf("read %s remote: %w", e.cfg.Defaults.OriginRemote, err)
			}
			entry.OriginURL = gitx.StripToken(live)
		}
		entry.Status = registry.StatusPresent
	}
	entry.RepoID = e.adapter.NormalizeURL(entry.OriginURL)
	_ = e.withRegistry(func(reg *registry.Registry) error {
		reg.Upsert(entry)
		return nil
	})
	e.setRegistryUpdatedAt(entry.LastSeen)
	return entry, nil
}

// Remove unregisters the repository at path. Files are not touched.
func (e *Engine) Remove(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	removed := false
	_ = e.withRegistry(func(reg *registry.Registry) error {
		removed = reg.Remove(abs)
		return nil
	})
	return removed
}

// StatusOptions configures a status operation.
type StatusOptions struct {
	Filter      FilterKind
	Concurrency int
	Timeout     int // seconds per repo
}

// Status inspects all registered repos and returns their status.
func (e *Engine) Status(ctx context.Context, opts StatusOptions) (*model.StatusReport, error) {
	concurrency, timeoutSeconds := e.runtime(opts.Concurrency, opts.Timeout)

	entries := e.snapshotEntries()
	results := make([]model.RepoStatus, 0, len(entries))
	sem := make(chan struct{}, concurrency)
	out := make(chan model.RepoStatus, workerChannelBufferSize(len(entries)))

	for _, entry := range entries {
		sem <- struct{}{}
		go func(entry registry.Entry) {
			defer func() { <-sem }()
			out <- e.statusForEntry(ctx, entry, timeoutSeconds)
		}(entry)
	}

	for range entries {
		status := <-out
		if e.filterStatus(opts.Filter, status) {
			results = append(results, status)
		}
	}
	sortutil.SortRepoStatuses(results)

	return &model.StatusReport{GeneratedAt: e.now(), Repos: results}, nil
}

func (e *Engine) statusForEntry(ctx context.Context, entry registry.Entry, timeoutSeconds int) model.RepoStatus {
	base := model.RepoStatus{
		RepoID:      entry.RepoID,
		Name:        entry.DisplayName(),
		Path:        entry.Path,
		UpstreamURL: entry.UpstreamURL,
		LastSync:    entry.LastSync,
	}
	if _, err := os.Stat(entry.Path); os.IsNotExist(err) {
		base.Missing = true
		base.Error = "path missing"
		base.ErrorClass = "missing"
		return base
	}
	repoCtx := ctx
	if timeoutSeconds > 0 {
		var cancel context.CancelFunc
		repoCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}
	status, err := e.InspectRepo(repoCtx, entry.Path)
	if err != nil {
		// Per-repo inspect failures stay in-band so one broken checkout does
		// not abort the whole report.
		base.Error = err.Error()
		base.ErrorClass = gitx.ClassifyError(err)
		return base
	}
	status.Name = base.Name
	status.UpstreamURL = base.UpstreamURL
	status.LastSync = base.LastSync
	if status.RepoID == "" {
		status.RepoID = entry.RepoID
	}
	return *status
}

// InspectRepo gathers the full status for a single working copy.
func (e *Engine) InspectRepo(ctx context.Context, path string) (*model.RepoStatus, error) {
	remoteList, err := e.adapter.Remotes(ctx, path)
	if err != nil {
		return nil, err
	}
	var remoteNames []string
	for i := range remoteList {
		remoteNames = append(remoteNames, remoteList[i].Name)
		remoteList[i].URL = gitx.StripToken(remoteList[i].URL)
	}
	primary := e.adapter.PrimaryRemote(remoteNames)
	var originURL string
	for _, r := range remoteList {
		if r.Name == primary {
			originURL = r.URL
			break
		}
	}

	head, err := e.adapter.Head(ctx, path)
	if err != nil {
		return nil, err
	}
	worktree, err := e.adapter.WorktreeStatus(ctx, path)
	if err != nil {
		return nil, err
	}
	stashes := 0
	if entries, err := e.adapter.StashList(ctx, path); err == nil {
		for _, s := range entries {
			if strings.Contains(s.Message, stash.MarkerPrefix) {
				stashes++
			}
		}
	}

	return &model.RepoStatus{
		RepoID:          e.adapter.NormalizeURL(originURL),
		Path:            path,
		OriginURL:       originURL,
		Remotes:         remoteList,
		PrimaryRemote:   primary,
		Head:            head,
		Worktree:        worktree,
		MergeInProgress: e.adapter.MergeInProgress(ctx, path),
		Stashes:         stashes,
	}, nil
}

func (e *Engine) filterStatus(kind FilterKind, status model.RepoStatus) bool {
	switch kind {
	case FilterErrors:
		return status.Error != ""
	case FilterDirty:
		return status.Worktree != nil && status.Worktree.Dirty
	case FilterClean:
		return status.Worktree != nil && !status.Worktree.Dirty
	case FilterMissing:
		return status.Missing
	case FilterMerging:
		return status.MergeInProgress
	case FilterMismatch:
		entry := e.findEntry(status.Path)
		return entry != nil && remotemismatch.Mismatched(status, *entry)
	default:
		return true
	}
}

// ParseFilterKind validates an --only value.
func ParseFilterKind(raw string) (FilterKind, error) {
	kind := FilterKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case "":
		return FilterAll, nil
	case FilterAll, FilterErrors, FilterDirty, FilterClean, FilterMissing, FilterMerging, FilterMismatch:
		return kind, nil
	default:
		return "", fmt.Errorf("unsupported filter %q", raw)
	}
}

func (e *Engine) runtime(concurrency, timeoutSeconds int) (int, int) {
	defaults := config.DefaultConfig().Defaults
	if concurrency <= 0 {
		concurrency = e.cfg.Defaults.Concurrency
		if concurrency <= 0 {
			concurrency = defaults.Concurrency
		}
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = e.cfg.Defaults.TimeoutSeconds
		if timeoutSeconds <= 0 {
			timeoutSeconds = defaults.TimeoutSeconds
		}
	}
	return concurrency, timeoutSeconds
}

func workerChannelBufferSize(entryCount int) int {
	if entryCount <= 0 {
		return 1
	}
	if entryCount > maxWorkerChannelBuffer {
		return maxWorkerChannelBuffer
	}
	return entryCount
}

func (e *Engine) withRegistry(fn func(*registry.Registry) error) error {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()
	if e.registry == nil {
		e.registry = &registry.Registry{}
	}
	return fn(e.registry)
}

func (e *Engine) snapshotEntries() []registry.Entry {
	var entries []registry.Entry
	_ = e.withRegistry(func(reg *registry.Registry) error {
		entries = append([]registry.Entry(nil), reg.Entries...)
		return nil
	})
	return entries
}

func (e *Engine) findEntry(path string) *registry.Entry {
	var found *registry.Entry
	_ = e.withRegistry(func(reg *registry.Registry) error {
		if entry := reg.FindByPath(path); entry != nil {
			cp := *entry
			found = &cp
		}
		return nil
	})
	return found
}

func (e *Engine) setRegistryUpdatedAt(ts time.Time) {
	_ = e.withRegistry(func(reg *registry.Registry) error {
		reg.UpdatedAt = ts
		return nil
	})
}

func sortSyncResults(results []SyncResult) {
	// Sync may run concurrently; explicit sort keeps output deterministic.
	sort.SliceStable(results, func(i, j int) bool {
		return sortutil.LessNamePath(results[i].Name, results[i].Path, results[j].Name, results[j].Path)
	})
}
