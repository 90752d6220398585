// SPDX-License-Identifier: MIT

// Package conflict resolves unmerged paths after a merge. Automatic
// resolution favours the local side so a student's edits are never dropped
// silently.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/skaphos/forkkeeper/internal/inspect"
	"github.com/skaphos/forkkeeper/internal/interact"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// Strategy selects which side of a conflict wins.
type Strategy string

const (
	Ours   Strategy = "ours"
	Theirs Strategy = "theirs"
)

// Choice is the user's answer to the interactive conflict prompt.
type Choice string

const (
	ChoiceOurs   Choice = "ours"
	ChoiceTheirs Choice = "theirs"
	ChoiceEditor Choice = "editor"
	ChoiceAbort  Choice = "abort"
)

// Prompt labels, in display order.
const (
	LabelOurs   = "Keep my changes"
	LabelTheirs = "Use upstream changes"
	LabelEditor = "Open in editor"
	LabelAbort  = "Abort merge"
)

// maxListed caps how many paths the prompt spells out.
const maxListed = 10

// Resolver applies resolution strategies to the live conflict set.
type Resolver struct {
	adapter vcs.Adapter
	inspect *inspect.Inspector
	ui      interact.UI
	log     *slog.Logger
}

// New returns a Resolver. A nil ui dismisses every prompt; a nil logger uses
// slog.Default().
func New(adapter vcs.Adapter, inspector *inspect.Inspector, ui interact.UI, log *slog.Logger) *Resolver {
	if ui == nil {
		ui = interact.Noninteractive{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{adapter: adapter, inspect: inspector, ui: ui, log: log}
}

// ResolveUsing checks out the chosen side of each target path and stages
// it. A nil paths targets every conflicted path. A side that has no version
// of a path resolves to the deletion.
func (r *Resolver) ResolveUsing(ctx context.Context, dir string, strategy Strategy, paths []string) error {
	if strategy != Ours && strategy != Theirs {
		return fmt.Errorf("unknown conflict strategy %q", strategy)
	}
	live := r.inspect.Conflicts(ctx, dir)
	targets := live
	if paths != nil {
		want := make(map[string]bool, len(paths))
		for _, p := range paths {
			want[p] = true
		}
		targets = targets[:0:0]
		for _, c := range live {
			if want[c.Path] {
				targets = append(targets, c)
			}
		}
	}
	var errs []error
	for _, c := range targets {
		if err := r.take(ctx, dir, strategy, c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Path, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Resolver) take(ctx context.Context, dir string, strategy Strategy, c model.Conflict) error {
	missing := c.OursMissing()
	if strategy == Theirs {
		missing = c.TheirsMissing()
	}
	if missing {
		return r.adapter.Remove(ctx, dir, c.Path)
	}
	if err := r.adapter.CheckoutSide(ctx, dir, string(strategy), c.Path); err != nil {
		return err
	}
	return r.adapter.Add(ctx, dir, c.Path)
}

// AutoResolveDeletedByUpstream keeps the local version of every path the
// local side modified and upstream deleted. It reports whether no conflicts
// remain afterwards.
func (r *Resolver) AutoResolveDeletedByUpstream(ctx context.Context, dir string) bool {
	var targets []string
	for _, c := range r.inspect.Conflicts(ctx, dir) {
		if c.DeletedByThem() {
			targets = append(targets, c.Path)
		}
	}
	if len(targets) > 0 {
		if err := r.ResolveUsing(ctx, dir, Ours, targets); err != nil {
			r.log.Warn("keeping local versions of upstream deletions failed", "dir", dir, "error", err)
		} else {
			r.log.Info("kept local versions of files deleted upstream", "dir", dir, "paths", targets)
		}
	}
	return len(r.inspect.ConflictedPaths(ctx, dir)) == 0
}

// ResolveAutomatically tries, in order, upstream-deletion handling, keep
// ours, then keep theirs, stopping at the first step that leaves no
// conflicts. It never reports success while conflicts remain.
func (r *Resolver) ResolveAutomatically(ctx context.Context, dir string, conflicts []string) bool {
	if len(conflicts) == 0 && len(r.inspect.ConflictedPaths(ctx, dir)) == 0 {
		return true
	}
	if r.AutoResolveDeletedByUpstream(ctx, dir) {
		return true
	}
	for _, strategy := range []Strategy{Ours, Theirs} {
		if err := r.ResolveUsing(ctx, dir, strategy, nil); err != nil {
			r.log.Debug("automatic resolution step failed", "dir", dir, "strategy", strategy, "error", err)
		}
		if len(r.inspect.ConflictedPaths(ctx, dir)) == 0 {
			r.log.Info("conflicts resolved automatically", "dir", dir, "strategy", strategy)
			return true
		}
	}
	return false
}

// PromptInteractive shows the conflict set and returns the user's choice.
// ChoiceEditor also opens every conflicted file. A dismissed prompt is
// ChoiceAbort.
func (r *Resolver) PromptInteractive(ctx context.Context, dir string, conflicts []string) (Choice, error) {
	answer, err := r.ui.ShowMessage(ctx, interact.LevelWarning, describe(conflicts),
		LabelOurs, LabelTheirs, LabelEditor, LabelAbort)
	if err != nil {
		return ChoiceAbort, fmt.Errorf("conflict prompt: %w", err)
	}
	switch answer {
	case LabelOurs:
		return ChoiceOurs, nil
	case LabelTheirs:
		return ChoiceTheirs, nil
	case LabelEditor:
		for _, path := range conflicts {
			if err := r.ui.OpenFile(ctx, filepath.Join(dir, path)); err != nil {
				r.log.Warn("could not open conflicted file", "path", path, "error", err)
			}
		}
		return ChoiceEditor, nil
	default:
		return ChoiceAbort, nil
	}
}

// ForceResolve is the last resort: keep ours, then theirs for whatever
// remains, then stage everything. It never fails; lingering conflicts are
// logged.
func (r *Resolver) ForceResolve(ctx context.Context, dir string, conflicts []string) {
	if err := r.ResolveUsing(ctx, dir, Ours, nil); err != nil {
		r.log.Debug("forced keep-ours incomplete", "dir", dir, "error", err)
	}
	if remaining := r.inspect.ConflictedPaths(ctx, dir); len(remaining) > 0 {
		if err := r.ResolveUsing(ctx, dir, Theirs, remaining); err != nil {
			r.log.Debug("forced keep-theirs incomplete", "dir", dir, "error", err)
		}
	}
	if err := r.adapter.AddAll(ctx, dir); err != nil {
		r.log.Debug("forced staging failed", "dir", dir, "error", err)
	}
	if remaining := r.inspect.ConflictedPaths(ctx, dir); len(remaining) > 0 {
		r.log.Warn("conflicts remain after forced resolution", "dir", dir, "paths", remaining, "initial", len(conflicts))
	}
}

func describe(conflicts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merging upstream changes produced %d conflicted file(s):", len(conflicts))
	for i, path := range conflicts {
		if i == maxListed {
			fmt.Fprintf(&b, "\n  ... and %d more", len(conflicts)-maxListed)
			break
		}
		b.WriteString("\n  " + path)
	}
	b.WriteString("\nHow should they be resolved?")
	return b.String()
}
