// SPDX-License-Identifier: MIT

// Package stash protects uncommitted work around risky operations by
// stashing it under a unique marker and popping exactly that stash later.
package stash

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skaphos/forkkeeper/internal/inspect"
	"github.com/skaphos/forkkeeper/internal/interact"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/syncerr"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// MarkerPrefix starts every stash message created by Guard.
const MarkerPrefix = "forkkeeper-autostash"

// Protection is the result of Guard.Protect.
type Protection struct {
	// Proceed is false when the tree already holds unresolved conflicts.
	Proceed bool
	// Ticket is set only when a stash was created.
	Ticket *model.StashTicket
}

// Guard stashes and restores local changes.
type Guard struct {
	adapter vcs.Adapter
	inspect *inspect.Inspector
	ui      interact.UI
	log     *slog.Logger
	now     func() time.Time
}

// New returns a Guard. A nil ui drops the restore warning; a nil logger uses
// slog.Default().
func New(adapter vcs.Adapter, inspector *inspect.Inspector, ui interact.UI, log *slog.Logger) *Guard {
	if ui == nil {
		ui = interact.Noninteractive{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{adapter: adapter, inspect: inspector, ui: ui, log: log, now: time.Now}
}

// NewMarker returns a unique stash message.
func (g *Guard) NewMarker() string {
	return fmt.Sprintf("%s-%d-%s", MarkerPrefix, g.now().UnixNano(), uuid.NewString())
}

// Protect stashes tracked and untracked changes when the tree is dirty. A
// tree with unresolved conflicts is refused with Proceed=false and no stash.
func (g *Guard) Protect(ctx context.Context, dir string) (Protection, error) {
	wt, err := g.inspect.Snapshot(ctx, dir)
	if err != nil {
		return Protection{}, fmt.Errorf("inspect working tree: %w", err)
	}
	if !wt.Dirty {
		return Protection{Proceed: true}, nil
	}
	if wt.Conflicted > 0 {
		g.log.Warn("working tree has unresolved conflicts", "dir", dir, "conflicted", wt.Conflicted)
		return Protection{Proceed: false}, nil
	}
	marker := g.NewMarker()
	created, err := g.adapter.StashPush(ctx, dir, marker)
	if err != nil {
		return Protection{}, fmt.Errorf("stash local changes: %w", err)
	}
	if !created {
		return Protection{Proceed: true}, nil
	}
	ticket := &model.StashTicket{Marker: marker}
	if ref, ok := g.find(ctx, dir, marker); ok {
		ticket.Ref = ref
	}
	g.log.Info("stashed local changes", "dir", dir, "marker", marker, "ref", ticket.Ref)
	return Protection{Proceed: true, Ticket: ticket}, nil
}

// Restore pops the stash identified by ticket. The ref is re-resolved from
// the marker since other stashes may have been pushed meanwhile. On failure
// a persistent warning explains how to recover by hand and a
// StashRestoreFailed error is returned.
func (g *Guard) Restore(ctx context.Context, dir string, ticket *model.StashTicket) error {
	if ticket == nil {
		return nil
	}
	ref, ok := g.find(ctx, dir, ticket.Marker)
	if !ok {
		ref = ticket.Ref
	}
	if ref == "" {
		return g.fail(ctx, dir, ticket, "stash@{0}", fmt.Errorf("no stash found for marker %s", ticket.Marker))
	}
	if err := g.adapter.StashPop(ctx, dir, ref); err != nil {
		return g.fail(ctx, dir, ticket, ref, err)
	}
	g.log.Info("restored local changes", "dir", dir, "ref", ref)
	return nil
}

func (g *Guard) fail(ctx context.Context, dir string, ticket *model.StashTicket, ref string, cause error) error {
	hint := fmt.Sprintf("run `git stash pop %s` in %s", ref, dir)
	msg := fmt.Sprintf("Your local changes were saved in a stash (%s) but could not be restored automatically. Nothing was lost: %s after resolving any conflicts.", ticket.Marker, hint)
	if _, err := g.ui.ShowMessage(ctx, interact.LevelWarning, msg); err != nil {
		g.log.Warn("could not display stash warning", "error", err)
	}
	g.log.Error("stash restore failed", "dir", dir, "ref", ref, "marker", ticket.Marker, "error", cause)
	return syncerr.Wrap(syncerr.StashRestoreFailed, cause, "could not restore stashed local changes").WithHint(hint)
}

func (g *Guard) find(ctx context.Context, dir, marker string) (string, bool) {
	entries, err := g.adapter.StashList(ctx, dir)
	if err != nil {
		g.log.Debug("stash list failed", "dir", dir, "error", err)
		return "", false
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Message, marker) {
			return e.Ref, true
		}
	}
	return "", false
}

// Leave keeps the stash in place and tells the user how to restore it. It
// is used when popping now would collide with an unfinished merge.
func (g *Guard) Leave(ctx context.Context, dir string, ticket *model.StashTicket, reason string) error {
	if ticket == nil {
		return nil
	}
	ref, ok := g.find(ctx, dir, ticket.Marker)
	if !ok {
		ref = ticket.Ref
	}
	if ref == "" {
		ref = "stash@{0}"
	}
	return g.fail(ctx, dir, ticket, ref, fmt.Errorf("stash left in place: %s", reason))
}
