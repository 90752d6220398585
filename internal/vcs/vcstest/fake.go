// SPDX-License-Identifier: MIT

// Package vcstest provides an in-memory vcs.Adapter that models a single
// working copy well enough to drive the sync core in tests.
package vcstest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// Fake is a scripted working copy. Fields may be set directly before use;
// methods are safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// Branch is the checked-out branch; Detached marks a detached HEAD.
	Branch   string
	Detached bool
	// Branches is the set of local branches.
	Branches map[string]bool
	// RemoteURLs maps remote name to URL.
	RemoteURLs map[string]string
	// RemoteHeads maps remote name to its advertised HEAD branch.
	RemoteHeads map[string]string
	// Refs is the set of refs that resolve (for example
	// "refs/remotes/upstream/main").
	Refs map[string]bool
	// Behind and Ahead are reported for "HEAD..<ref>" and "<ref>..HEAD".
	Behind int
	Ahead  int
	// CountOutput overrides the raw rev-list output when set.
	CountOutput *string
	// LocalEdits are uncommitted paths in the working tree.
	LocalEdits []string
	// ConflictList is the live set of unmerged paths.
	ConflictList []model.Conflict
	// MergeConflicts are produced by the next Merge call.
	MergeConflicts []model.Conflict
	// Resist maps path to the side ("ours", "theirs") whose checkout fails.
	Resist map[string]string
	// StickyConflicts survive AddAll, modelling a pathological index.
	StickyConflicts bool
	// Stashes holds stash entries, newest first, with their stashed edits.
	Stashes []FakeStash
	// Commits counts commits created by Commit.
	Commits int
	// Pushed records "remote/branch" for each successful push.
	Pushed []string
	// Cloned records clone targets.
	Cloned []string
	// CloneURLs records the URLs passed to Clone, credentials included.
	CloneURLs []string
	// OnCall, when set, sees each call before it runs. It is invoked with
	// the Fake locked and must not call back into it.
	OnCall func(call string)

	mergeActive bool
	staged      bool
	failures    map[string][]error
	always      map[string]error
	calls       []string
}

// FakeStash is one stash entry of a Fake.
type FakeStash struct {
	Message string
	Edits   []string
}

var _ vcs.Adapter = (*Fake)(nil)

// NewFake returns a clean working copy on main with an origin remote.
func NewFake() *Fake {
	return &Fake{
		Branch:      "main",
		Branches:    map[string]bool{"main": true},
		RemoteURLs:  map[string]string{"origin": "https://example.com/student/repo.git"},
		RemoteHeads: map[string]string{},
		Refs:        map[string]bool{},
		Resist:      map[string]string{},
		failures:    map[string][]error{},
		always:      map[string]error{},
	}
}

// FailNext queues errors returned by successive calls of op, one per call.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// FailAlways makes every call of op return err.
func (f *Fake) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always[op] = err
}

// Calls returns the recorded operations in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Called reports whether any recorded call starts with prefix.
func (f *Fake) Called(prefix string) bool {
	for _, call := range f.Calls() {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

// GitError builds a classified command error as GitRunner would.
func GitError(kind gitx.ErrorKind, output string, args ...string) error {
	return &gitx.CommandError{Args: args, Output: output, Kind: kind, Err: errors.New("exit status 1")}
}

// record logs a call and returns its scripted failure. A done ctx fails
// the call before it is logged, as exec.CommandContext would.
func (f *Fake) record(ctx context.Context, op string, detail ...string) error {
	call := op
	if len(detail) > 0 {
		call += " " + strings.Join(detail, " ")
	}
	if f.OnCall != nil {
		f.OnCall(call)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.calls = append(f.calls, call)
	if err, ok := f.always[op]; ok {
		return err
	}
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) IsRepo(ctx context.Context, dir string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(ctx, "is-repo", dir) == nil, nil
}

func (f *Fake) Head(ctx context.Context, _ string) (model.Head, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "head"); err != nil {
		return model.Head{}, err
	}
	return model.Head{Branch: f.Branch, Detached: f.Detached}, nil
}

func (f *Fake) WorktreeStatus(ctx context.Context, _ string) (*model.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "status"); err != nil {
		return nil, err
	}
	wt := &model.Worktree{Unstaged: len(f.LocalEdits), Conflicted: len(f.ConflictList)}
	if f.staged {
		wt.Staged = 1
	}
	wt.Dirty = wt.Unstaged > 0 || wt.Conflicted > 0 || wt.Staged > 0
	return wt, nil
}

func (f *Fake) Conflicts(ctx context.Context, _ string) ([]model.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "status"); err != nil {
		return nil, err
	}
	if len(f.ConflictList) == 0 {
		return nil, nil
	}
	out := make([]model.Conflict, len(f.ConflictList))
	copy(out, f.ConflictList)
	return out, nil
}

func (f *Fake) CountCommits(ctx context.Context, _ string, revRange string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "rev-list", revRange); err != nil {
		return "", err
	}
	if f.CountOutput != nil {
		return *f.CountOutput, nil
	}
	if strings.HasPrefix(revRange, "HEAD..") {
		return strconv.Itoa(f.Behind), nil
	}
	return strconv.Itoa(f.Ahead), nil
}

func (f *Fake) RefExists(ctx context.Context, _ string, ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "rev-parse", ref); err != nil {
		return false
	}
	return f.Refs[ref]
}

func (f *Fake) MergeInProgress(ctx context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ctx.Err() == nil && f.mergeActive
}

func (f *Fake) Remotes(ctx context.Context, _ string) ([]model.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "remote"); err != nil {
		return nil, err
	}
	var out []model.Remote
	for name, url := range f.RemoteURLs {
		out = append(out, model.Remote{Name: name, URL: url})
	}
	return out, nil
}

func (f *Fake) RemoteURL(ctx context.Context, _ string, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "remote get-url", name); err != nil {
		return "", err
	}
	url, ok := f.RemoteURLs[name]
	if !ok {
		return "", GitError(gitx.ErrNoRemote, "error: No such remote '"+name+"'", "remote", "get-url", name)
	}
	return url, nil
}

func (f *Fake) AddRemote(ctx context.Context, _ string, name, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "remote add", name); err != nil {
		return err
	}
	if _, ok := f.RemoteURLs[name]; ok {
		return GitError(gitx.ErrUnknown, "error: remote "+name+" already exists.", "remote", "add", name)
	}
	f.RemoteURLs[name] = url
	return nil
}

func (f *Fake) SetRemoteURL(ctx context.Context, _ string, name, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "remote set-url", name); err != nil {
		return err
	}
	if _, ok := f.RemoteURLs[name]; !ok {
		return GitError(gitx.ErrNoRemote, "error: No such remote '"+name+"'", "remote", "set-url", name)
	}
	f.RemoteURLs[name] = url
	return nil
}

func (f *Fake) RemoveRemote(ctx context.Context, _ string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "remote remove", name); err != nil {
		return err
	}
	if _, ok := f.RemoteURLs[name]; !ok {
		return GitError(gitx.ErrNoRemote, "error: No such remote: '"+name+"'", "remote", "remove", name)
	}
	delete(f.RemoteURLs, name)
	return nil
}

func (f *Fake) FetchRemote(ctx context.Context, _ string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(ctx, "fetch", name)
}

func (f *Fake) RemoteHeadBranch(ctx context.Context, _ string, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "remote show", name); err != nil {
		return "", err
	}
	return f.RemoteHeads[name], nil
}

func (f *Fake) Checkout(ctx context.Context, _ string, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "checkout", branch); err != nil {
		return err
	}
	if !f.Branches[branch] {
		return GitError(gitx.ErrUnknown, "error: pathspec '"+branch+"' did not match", "checkout", branch)
	}
	f.Branch = branch
	f.Detached = false
	return nil
}

func (f *Fake) CreateBranch(ctx context.Context, _ string, branch, startPoint string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "checkout -b", branch, startPoint); err != nil {
		return err
	}
	if f.Branches[branch] {
		return GitError(gitx.ErrUnknown, "fatal: a branch named '"+branch+"' already exists", "checkout", "-b", branch)
	}
	f.Branches[branch] = true
	f.Branch = branch
	f.Detached = false
	return nil
}

func (f *Fake) PullFastForward(ctx context.Context, _ string, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(ctx, "pull --ff-only", remote, branch)
}

func (f *Fake) PullMerge(ctx context.Context, _ string, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(ctx, "pull", remote, branch)
}

func (f *Fake) Merge(ctx context.Context, _ string, ref, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "merge", ref); err != nil {
		return err
	}
	if len(f.MergeConflicts) > 0 {
		f.ConflictList = append([]model.Conflict(nil), f.MergeConflicts...)
		f.MergeConflicts = nil
		f.mergeActive = true
		return GitError(gitx.ErrMergeConflict, "CONFLICT (content): Merge conflict\nAutomatic merge failed; fix conflicts and then commit the result.", "merge", ref)
	}
	f.Commits++
	f.Behind = 0
	return nil
}

func (f *Fake) MergeAbort(ctx context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "merge --abort"); err != nil {
		return err
	}
	f.ConflictList = nil
	f.mergeActive = false
	f.staged = false
	return nil
}

func (f *Fake) CheckoutSide(ctx context.Context, _ string, side string, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "checkout --"+side, paths...); err != nil {
		return err
	}
	for _, path := range paths {
		if f.Resist[path] == side || f.Resist[path] == "both" {
			return GitError(gitx.ErrUnknown, fmt.Sprintf("error: path '%s' does not have %s version", path, side), "checkout", "--"+side, path)
		}
	}
	return nil
}

func (f *Fake) Add(ctx context.Context, _ string, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "add", paths...); err != nil {
		return err
	}
	f.resolve(paths)
	return nil
}

func (f *Fake) AddAll(ctx context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "add -A"); err != nil {
		return err
	}
	if !f.StickyConflicts {
		f.ConflictList = nil
	}
	f.staged = true
	return nil
}

func (f *Fake) Remove(ctx context.Context, _ string, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "rm", paths...); err != nil {
		return err
	}
	f.resolve(paths)
	return nil
}

func (f *Fake) resolve(paths []string) {
	drop := map[string]bool{}
	for _, p := range paths {
		drop[p] = true
	}
	kept := f.ConflictList[:0]
	for _, c := range f.ConflictList {
		if !drop[c.Path] {
			kept = append(kept, c)
		}
	}
	f.ConflictList = kept
	f.staged = true
}

func (f *Fake) Commit(ctx context.Context, _ string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "commit", message); err != nil {
		return err
	}
	if len(f.ConflictList) > 0 {
		return GitError(gitx.ErrUnmergedFiles, "error: Committing is not possible because you have unmerged files.", "commit")
	}
	if !f.staged && !f.mergeActive {
		return GitError(gitx.ErrNothingToCommit, "nothing to commit, working tree clean", "commit")
	}
	f.Commits++
	f.staged = false
	f.mergeActive = false
	f.Behind = 0
	return nil
}

func (f *Fake) Push(ctx context.Context, _ string, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "push", remote, branch); err != nil {
		return err
	}
	f.Pushed = append(f.Pushed, remote+"/"+branch)
	return nil
}

func (f *Fake) StashPush(ctx context.Context, _ string, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "stash push", message); err != nil {
		return false, err
	}
	if len(f.LocalEdits) == 0 {
		return false, nil
	}
	entry := FakeStash{Message: "On " + f.Branch + ": " + message, Edits: f.LocalEdits}
	f.Stashes = append([]FakeStash{entry}, f.Stashes...)
	f.LocalEdits = nil
	return true, nil
}

func (f *Fake) StashList(ctx context.Context, _ string) ([]model.StashEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "stash list"); err != nil {
		return nil, err
	}
	var out []model.StashEntry
	for i, s := range f.Stashes {
		out = append(out, model.StashEntry{Ref: fmt.Sprintf("stash@{%d}", i), Message: s.Message})
	}
	return out, nil
}

func (f *Fake) StashPop(ctx context.Context, _ string, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "stash pop", ref); err != nil {
		return err
	}
	for i := range f.Stashes {
		if fmt.Sprintf("stash@{%d}", i) != ref {
			continue
		}
		f.LocalEdits = append(f.LocalEdits, f.Stashes[i].Edits...)
		f.Stashes = append(f.Stashes[:i], f.Stashes[i+1:]...)
		return nil
	}
	return GitError(gitx.ErrUnknown, "error: "+ref+" is not a valid reference", "stash", "pop", ref)
}

// Clone creates targetPath on disk so filesystem callers observe a checkout.
func (f *Fake) Clone(ctx context.Context, remoteURL, targetPath, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloneURLs = append(f.CloneURLs, remoteURL)
	if err := f.record(ctx, "clone", gitx.StripToken(remoteURL), targetPath); err != nil {
		return err
	}
	if err := os.MkdirAll(targetPath, 0o755); err != nil {
		return err
	}
	f.Cloned = append(f.Cloned, targetPath)
	return nil
}

func (f *Fake) NormalizeURL(rawURL string) string { return gitx.NormalizeURL(rawURL) }

func (f *Fake) PrimaryRemote(remoteNames []string) string { return gitx.PrimaryRemote(remoteNames) }
