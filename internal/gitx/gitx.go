// Package gitx provides helpers for executing git commands and parsing
// their output. It shells out to the installed git binary.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/skaphos/forkkeeper/internal/model"
)

// Runner executes git commands in a given repo directory.
// This interface allows mocking in tests.
type Runner interface {
	// Run executes a git command in the given directory and returns its
	// stdout with trailing newlines removed.
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// GitRunner is the default Runner implementation that shells out to git.
// Failures are returned as *CommandError with the kind already classified.
type GitRunner struct {
	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
}

// Run executes a git command.
func (g *GitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := g.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	// Never block on an interactive credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := strings.TrimRight(stdout.String(), "\r\n")
	if err != nil {
		combined := strings.TrimSpace(strings.TrimSpace(stderr.String()) + "\n" + strings.TrimSpace(out))
		kind := ClassifyGitError(combined)
		if ctxErr := ctx.Err(); ctxErr != nil {
			kind = ErrTimeout
			err = errors.Join(err, ctxErr)
		}
		return out, &CommandError{Args: args, Output: combined, Kind: kind, Err: err}
	}
	return out, nil
}

// IsRepo checks whether the given path is inside a git working tree.
func IsRepo(ctx context.Context, r Runner, dir string) (bool, error) {
	out, err := r.Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

// Head returns the current branch and detached state.
func Head(ctx context.Context, r Runner, dir string) (model.Head, error) {
	out, err := r.Run(ctx, dir, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		// Detached HEAD: report the abbreviated commit instead.
		hash, hashErr := r.Run(ctx, dir, "rev-parse", "--short", "HEAD")
		if hashErr != nil {
			return model.Head{Detached: true}, nil
		}
		return model.Head{
			Branch:   strings.TrimSpace(hash),
			Detached: true,
		}, nil
	}
	return model.Head{
		Branch:   strings.TrimSpace(out),
		Detached: false,
	}, nil
}

// StatusPorcelain returns raw `git status --porcelain=v1` output.
func StatusPorcelain(ctx context.Context, r Runner, dir string) (string, error) {
	out, err := r.Run(ctx, dir, "status", "--porcelain=v1")
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	return out, nil
}

// WorktreeStatus returns the working tree dirty/staged/unstaged/untracked counts.
func WorktreeStatus(ctx context.Context, r Runner, dir string) (*model.Worktree, error) {
	out, err := StatusPorcelain(ctx, r, dir)
	if err != nil {
		return nil, err
	}
	return ParsePorcelainStatus(out), nil
}

// Conflicts returns the unmerged paths of the working tree.
func Conflicts(ctx context.Context, r Runner, dir string) ([]model.Conflict, error) {
	out, err := StatusPorcelain(ctx, r, dir)
	if err != nil {
		return nil, err
	}
	return ParseConflicts(out), nil
}

// CountCommits returns the raw output of `git rev-list --count <revRange>`.
func CountCommits(ctx context.Context, r Runner, dir, revRange string) (string, error) {
	return r.Run(ctx, dir, "rev-list", "--count", revRange)
}

// RefExists reports whether ref resolves to a commit.
func RefExists(ctx context.Context, r Runner, dir, ref string) bool {
	_, err := r.Run(ctx, dir, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

// Remotes returns all configured remotes for the repo.
func Remotes(ctx context.Context, r Runner, dir string) ([]model.Remote, error) {
	out, err := r.Run(ctx, dir, "remote")
	if err != nil {
		return nil, fmt.Errorf("git remote: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return nil, nil
	}
	var remotes []model.Remote
	for _, name := range strings.Split(strings.TrimSpace(out), "\n") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		url, err := RemoteURL(ctx, r, dir, name)
		if err != nil {
			continue
		}
		remotes = append(remotes, model.Remote{Name: name, URL: url})
	}
	return remotes, nil
}

// RemoteURL returns the configured URL of a remote.
func RemoteURL(ctx context.Context, r Runner, dir, name string) (string, error) {
	out, err := r.Run(ctx, dir, "remote", "get-url", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// AddRemote adds a new remote.
func AddRemote(ctx context.Context, r Runner, dir, name, url string) error {
	_, err := r.Run(ctx, dir, "remote", "add", name, url)
	return err
}

// SetRemoteURL updates the URL of an existing remote.
func SetRemoteURL(ctx context.Context, r Runner, dir, name, url string) error {
	_, err := r.Run(ctx, dir, "remote", "set-url", name, url)
	return err
}

// RemoveRemote deletes a remote and its remote-tracking refs.
func RemoveRemote(ctx context.Context, r Runner, dir, name string) error {
	_, err := r.Run(ctx, dir, "remote", "remove", name)
	return err
}

// FetchRemote fetches all refs of one remote with submodule recursion disabled.
func FetchRemote(ctx context.Context, r Runner, dir, name string) error {
	_, err := r.Run(ctx, dir, "-c", "fetch.recurseSubmodules=false", "fetch", "--prune", "--no-recurse-submodules", name)
	return err
}

// RemoteHeadBranch returns the branch a remote advertises as HEAD. Local
// metadata (refs/remotes/<name>/HEAD) is consulted first, then
// `git remote show`. An empty result means the remote HEAD is unknown.
func RemoteHeadBranch(ctx context.Context, r Runner, dir, name string) (string, error) {
	out, err := r.Run(ctx, dir, "symbolic-ref", "--quiet", "--short", "refs/remotes/"+name+"/HEAD")
	if err == nil {
		if branch := ParseSymbolicRemoteHead(name, out); branch != "" {
			return branch, nil
		}
	}
	out, err = r.Run(ctx, dir, "remote", "show", name)
	if err != nil {
		return "", err
	}
	return ParseRemoteShowHead(out), nil
}

// Checkout switches to an existing branch.
func Checkout(ctx context.Context, r Runner, dir, branch string) error {
	_, err := r.Run(ctx, dir, "checkout", branch)
	return err
}

// CreateBranch creates branch at startPoint and checks it out. When track
// is set the new branch tracks startPoint.
func CreateBranch(ctx context.Context, r Runner, dir, branch, startPoint string, track bool) error {
	args := []string{"checkout", "-b", branch}
	if track {
		args = append(args, "--track")
	} else {
		args = append(args, "--no-track")
	}
	args = append(args, startPoint)
	_, err := r.Run(ctx, dir, args...)
	return err
}

// PullFastForward pulls remote/branch refusing anything but a fast-forward.
func PullFastForward(ctx context.Context, r Runner, dir, remote, branch string) error {
	_, err := r.Run(ctx, dir, "pull", "--ff-only", "--no-rebase", "--no-recurse-submodules", remote, branch)
	return err
}

// PullMerge pulls remote/branch allowing a merge commit.
func PullMerge(ctx context.Context, r Runner, dir, remote, branch string) error {
	_, err := r.Run(ctx, dir, "pull", "--no-rebase", "--no-edit", "--no-recurse-submodules", remote, branch)
	return err
}

// Merge merges ref into the current branch with message.
func Merge(ctx context.Context, r Runner, dir, ref, message string, allowUnrelated bool) error {
	args := []string{"merge", "--no-edit", "-m", message}
	if allowUnrelated {
		args = append(args, "--allow-unrelated-histories")
	}
	args = append(args, ref)
	_, err := r.Run(ctx, dir, args...)
	return err
}

// MergeAbort aborts an in-progress merge.
func MergeAbort(ctx context.Context, r Runner, dir string) error {
	_, err := r.Run(ctx, dir, "merge", "--abort")
	return err
}

// MergeInProgress reports whether MERGE_HEAD exists.
func MergeInProgress(ctx context.Context, r Runner, dir string) bool {
	_, err := r.Run(ctx, dir, "rev-parse", "--quiet", "--verify", "MERGE_HEAD")
	return err == nil
}

// CheckoutSide checks out the "ours" or "theirs" stage of unmerged paths.
func CheckoutSide(ctx context.Context, r Runner, dir, side string, paths ...string) error {
	if side != "ours" && side != "theirs" {
		return fmt.Errorf("unsupported checkout side %q", side)
	}
	args := append([]string{"checkout", "--" + side, "--"}, paths...)
	_, err := r.Run(ctx, dir, args...)
	return err
}

// Add stages paths.
func Add(ctx context.Context, r Runner, dir string, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := r.Run(ctx, dir, args...)
	return err
}

// AddAll stages every change in the working tree, including deletions.
func AddAll(ctx context.Context, r Runner, dir string) error {
	_, err := r.Run(ctx, dir, "add", "-A")
	return err
}

// Remove stages the deletion of paths.
func Remove(ctx context.Context, r Runner, dir string, paths ...string) error {
	args := append([]string{"rm", "--quiet", "--ignore-unmatch", "--"}, paths...)
	_, err := r.Run(ctx, dir, args...)
	return err
}

// Commit records the index with message.
func Commit(ctx context.Context, r Runner, dir, message string) error {
	_, err := r.Run(ctx, dir, "commit", "--no-edit", "-m", message)
	return err
}

// Push pushes branch to remote.
func Push(ctx context.Context, r Runner, dir, remote, branch string) error {
	_, err := r.Run(ctx, dir, "push", remote, branch)
	return err
}

// StashPush stashes tracked and untracked changes. It returns false when
// git reported nothing to stash.
func StashPush(ctx context.Context, r Runner, dir, message string) (bool, error) {
	args := []string{"stash", "push", "-u"}
	if strings.TrimSpace(message) != "" {
		args = append(args, "-m", message)
	}
	out, err := r.Run(ctx, dir, args...)
	if err != nil {
		return false, err
	}
	return !strings.Contains(out, "No local changes to save"), nil
}

// StashList returns the stash entries, newest first.
func StashList(ctx context.Context, r Runner, dir string) ([]model.StashEntry, error) {
	out, err := r.Run(ctx, dir, "stash", "list", "--format=%gd%x09%gs")
	if err != nil {
		return nil, err
	}
	return ParseStashList(out), nil
}

// StashPop applies and drops one specific stash.
func StashPop(ctx context.Context, r Runner, dir, ref string) error {
	_, err := r.Run(ctx, dir, "stash", "pop", ref)
	return err
}

// Clone clones remoteURL into targetPath, optionally checking out branch.
func Clone(ctx context.Context, r Runner, remoteURL, targetPath, branch string) error {
	args := []string{"clone"}
	if strings.TrimSpace(branch) != "" {
		args = append(args, "--branch", strings.TrimSpace(branch))
	}
	args = append(args, remoteURL, targetPath)
	_, err := r.Run(ctx, "", args...)
	return err
}
