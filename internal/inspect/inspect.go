// SPDX-License-Identifier: MIT

// Package inspect answers read-only questions about a working copy. Query
// failures degrade to safe defaults and are logged, never surfaced.
package inspect

import (
	"context"
	"log/slog"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// Inspector wraps status queries against one adapter.
type Inspector struct {
	adapter vcs.Adapter
	log     *slog.Logger
}

// New returns an Inspector. A nil logger uses slog.Default().
func New(adapter vcs.Adapter, log *slog.Logger) *Inspector {
	if log == nil {
		log = slog.Default()
	}
	return &Inspector{adapter: adapter, log: log}
}

// Conflicts returns the live unmerged paths with their codes, or nil.
func (i *Inspector) Conflicts(ctx context.Context, dir string) []model.Conflict {
	conflicts, err := i.adapter.Conflicts(ctx, dir)
	if err != nil {
		i.log.Warn("conflict query failed; assuming none", "dir", dir, "error", err)
		return nil
	}
	return conflicts
}

// ConflictedPaths returns the live unmerged paths in status order.
func (i *Inspector) ConflictedPaths(ctx context.Context, dir string) []string {
	conflicts := i.Conflicts(ctx, dir)
	if len(conflicts) == 0 {
		return nil
	}
	paths := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		paths = append(paths, c.Path)
	}
	return paths
}

// Snapshot returns the worktree summary, or the query error. Use it where
// "unknown" must not be mistaken for "clean".
func (i *Inspector) Snapshot(ctx context.Context, dir string) (*model.Worktree, error) {
	return i.adapter.WorktreeStatus(ctx, dir)
}

// IsDirty reports uncommitted changes of any kind.
func (i *Inspector) IsDirty(ctx context.Context, dir string) bool {
	wt, err := i.Snapshot(ctx, dir)
	if err != nil {
		i.log.Warn("status query failed; assuming clean", "dir", dir, "error", err)
		return false
	}
	return wt.Dirty
}

// CurrentBranch returns the checked-out branch or model.DetachedBranch.
func (i *Inspector) CurrentBranch(ctx context.Context, dir string) string {
	head, err := i.adapter.Head(ctx, dir)
	if err != nil {
		i.log.Warn("head query failed; assuming detached", "dir", dir, "error", err)
		return model.DetachedBranch
	}
	if head.Detached || head.Branch == "" {
		return model.DetachedBranch
	}
	return head.Branch
}

// Divergence counts commits reachable from remoteRef but not HEAD (behind)
// and from HEAD but not remoteRef (ahead). Unparseable counts are zero.
func (i *Inspector) Divergence(ctx context.Context, dir, remoteRef string) model.Divergence {
	return model.Divergence{
		Behind: i.count(ctx, dir, "HEAD.."+remoteRef),
		Ahead:  i.count(ctx, dir, remoteRef+"..HEAD"),
	}
}

func (i *Inspector) count(ctx context.Context, dir, revRange string) int {
	out, err := i.adapter.CountCommits(ctx, dir, revRange)
	if err != nil {
		i.log.Warn("commit count failed; using 0", "dir", dir, "range", revRange, "error", err, "class", gitx.ClassifyError(err))
		return 0
	}
	n, ok := gitx.ParseCount(out)
	if !ok {
		i.log.Warn("commit count unparseable; using 0", "dir", dir, "range", revRange, "output", out)
		return 0
	}
	return n
}
