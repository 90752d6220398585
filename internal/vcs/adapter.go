// SPDX-License-Identifier: MIT
package vcs

import (
	"context"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
)

// Adapter defines the version-control operations ForkKeeper relies on.
// Every mutating verb used by the sync core goes through this interface so
// the core can be exercised against a fake working copy.
type Adapter interface {
	Name() string

	IsRepo(ctx context.Context, dir string) (bool, error)
	Head(ctx context.Context, dir string) (model.Head, error)
	WorktreeStatus(ctx context.Context, dir string) (*model.Worktree, error)
	Conflicts(ctx context.Context, dir string) ([]model.Conflict, error)
	CountCommits(ctx context.Context, dir, revRange string) (string, error)
	RefExists(ctx context.Context, dir, ref string) bool
	MergeInProgress(ctx context.Context, dir string) bool

	Remotes(ctx context.Context, dir string) ([]model.Remote, error)
	RemoteURL(ctx context.Context, dir, name string) (string, error)
	AddRemote(ctx context.Context, dir, name, url string) error
	SetRemoteURL(ctx context.Context, dir, name, url string) error
	RemoveRemote(ctx context.Context, dir, name string) error
	FetchRemote(ctx context.Context, dir, name string) error
	RemoteHeadBranch(ctx context.Context, dir, name string) (string, error)

	Checkout(ctx context.Context, dir, branch string) error
	CreateBranch(ctx context.Context, dir, branch, startPoint string, track bool) error
	PullFastForward(ctx context.Context, dir, remote, branch string) error
	PullMerge(ctx context.Context, dir, remote, branch string) error
	Merge(ctx context.Context, dir, ref, message string, allowUnrelated bool) error
	MergeAbort(ctx context.Context, dir string) error
	CheckoutSide(ctx context.Context, dir, side string, paths ...string) error
	Add(ctx context.Context, dir string, paths ...string) error
	AddAll(ctx context.Context, dir string) error
	Remove(ctx context.Context, dir string, paths ...string) error
	Commit(ctx context.Context, dir, message string) error
	Push(ctx context.Context, dir, remote, branch string) error

	StashPush(ctx context.Context, dir, message string) (bool, error)
	StashList(ctx context.Context, dir string) ([]model.StashEntry, error)
	StashPop(ctx context.Context, dir, ref string) error

	Clone(ctx context.Context, remoteURL, targetPath, branch string) error

	NormalizeURL(rawURL string) string
	PrimaryRemote(remoteNames []string) string
}

// GitAdapter implements Adapter using the git CLI via gitx.
type GitAdapter struct {
	Runner gitx.Runner
}

var _ Adapter = (*GitAdapter)(nil)

func NewGitAdapter(runner gitx.Runner) *GitAdapter {
	if runner == nil {
		runner = &gitx.GitRunner{}
	}
	return &GitAdapter{Runner: runner}
}

func (g *GitAdapter) Name() string { return "git" }

func (g *GitAdapter) IsRepo(ctx context.Context, dir string) (bool, error) {
	return gitx.IsRepo(ctx, g.Runner, dir)
}

func (g *GitAdapter) Head(ctx context.Context, dir string) (model.Head, error) {
	return gitx.Head(ctx, g.Runner, dir)
}

func (g *GitAdapter) WorktreeStatus(ctx context.Context, dir string) (*model.Worktree, error) {
	return gitx.WorktreeStatus(ctx, g.Runner, dir)
}

func (g *GitAdapter) Conflicts(ctx context.Context, dir string) ([]model.Conflict, error) {
	return gitx.Conflicts(ctx, g.Runner, dir)
}

func (g *GitAdapter) CountCommits(ctx context.Context, dir, revRange string) (string, error) {
	return gitx.CountCommits(ctx, g.Runner, dir, revRange)
}

func (g *GitAdapter) RefExists(ctx context.Context, dir, ref string) bool {
	return gitx.RefExists(ctx, g.Runner, dir, ref)
}

func (g *GitAdapter) MergeInProgress(ctx context.Context, dir string) bool {
	return gitx.MergeInProgress(ctx, g.Runner, dir)
}

func (g *GitAdapter) Remotes(ctx context.Context, dir string) ([]model.Remote, error) {
	return gitx.Remotes(ctx, g.Runner, dir)
}

func (g *GitAdapter) RemoteURL(ctx context.Context, dir, name string) (string, error) {
	return gitx.RemoteURL(ctx, g.Runner, dir, name)
}

func (g *GitAdapter) AddRemote(ctx context.Context, dir, name, url string) error {
	return gitx.AddRemote(ctx, g.Runner, dir, name, url)
}

func (g *GitAdapter) SetRemoteURL(ctx context.Context, dir, name, url string) error {
	return gitx.SetRemoteURL(ctx, g.Runner, dir, name, url)
}

func (g *GitAdapter) RemoveRemote(ctx context.Context, dir, name string) error {
	return gitx.RemoveRemote(ctx, g.Runner, dir, name)
}

func (g *GitAdapter) FetchRemote(ctx context.Context, dir, name string) error {
	return gitx.FetchRemote(ctx, g.Runner, dir, name)
}

func (g *GitAdapter) RemoteHeadBranch(ctx context.Context, dir, name string) (string, error) {
	return gitx.RemoteHeadBranch(ctx, g.Runner, dir, name)
}

func (g *GitAdapter) Checkout(ctx context.Context, dir, branch string) error {
	return gitx.Checkout(ctx, g.Runner, dir, branch)
}

func (g *GitAdapter) CreateBranch(ctx context.Context, dir, branch, startPoint string, track bool) error {
	return gitx.CreateBranch(ctx, g.Runner, dir, branch, startPoint, track)
}

func (g *GitAdapter) PullFastForward(ctx context.Context, dir, remote, branch string) error {
	return gitx.PullFastForward(ctx, g.Runner, dir, remote, branch)
}

func (g *GitAdapter) PullMerge(ctx context.Context, dir, remote, branch string) error {
	return gitx.PullMerge(ctx, g.Runner, dir, remote, branch)
}

func (g *GitAdapter) Merge(ctx context.Context, dir, ref, message string, allowUnrelated bool) error {
	return gitx.Merge(ctx, g.Runner, dir, ref, message, allowUnrelated)
}

func (g *GitAdapter) MergeAbort(ctx context.Context, dir string) error {
	return gitx.MergeAbort(ctx, g.Runner, dir)
}

func (g *GitAdapter) CheckoutSide(ctx context.Context, dir, side string, paths ...string) error {
	return gitx.CheckoutSide(ctx, g.Runner, dir, side, paths...)
}

func (g *GitAdapter) Add(ctx context.Context, dir string, paths ...string) error {
	return gitx.Add(ctx, g.Runner, dir, paths...)
}

func (g *GitAdapter) AddAll(ctx context.Context, dir string) error {
	return gitx.AddAll(ctx, g.Runner, dir)
}

func (g *GitAdapter) Remove(ctx context.Context, dir string, paths ...string) error {
	return gitx.Remove(ctx, g.Runner, dir, paths...)
}

func (g *GitAdapter) Commit(ctx context.Context, dir, message string) error {
	return gitx.Commit(ctx, g.Runner, dir, message)
}

func (g *GitAdapter) Push(ctx context.Context, dir, remote, branch string) error {
	return gitx.Push(ctx, g.Runner, dir, remote, branch)
}

func (g *GitAdapter) StashPush(ctx context.Context, dir, message string) (bool, error) {
	return gitx.StashPush(ctx, g.Runner, dir, message)
}

func (g *GitAdapter) StashList(ctx context.Context, dir string) ([]model.StashEntry, error) {
	return gitx.StashList(ctx, g.Runner, dir)
}

func (g *GitAdapter) StashPop(ctx context.Context, dir, ref string) error {
	return gitx.StashPop(ctx, g.Runner, dir, ref)
}

func (g *GitAdapter) Clone(ctx context.Context, remoteURL, targetPath, branch string) error {
	return gitx.Clone(ctx, g.Runner, remoteURL, targetPath, branch)
}

func (g *GitAdapter) NormalizeURL(rawURL string) string {
	return gitx.NormalizeURL(rawURL)
}

func (g *GitAdapter) PrimaryRemote(remoteNames []string) string {
	return gitx.PrimaryRemote(remoteNames)
}
