// SPDX-License-Identifier: MIT
package gitx

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthFailure marks authentication/authorization failures.
	ErrAuthFailure = errors.New("git auth error")
	// ErrNetworkFailure marks network/transport failures.
	ErrNetworkFailure = errors.New("git network error")
	// ErrCorruptRepo marks corrupt or invalid-repository failures.
	ErrCorruptRepo = errors.New("git corrupt repository")
	// ErrMissingRemoteRef marks missing upstream/ref/remote failures.
	ErrMissingRemoteRef = errors.New("git missing remote")
)

// ErrorKind is the classification of a failed git invocation. It is
// computed once at the process boundary so callers never re-match text.
type ErrorKind string

const (
	ErrAuth               ErrorKind = "auth"
	ErrNetwork            ErrorKind = "network"
	ErrNoRemote           ErrorKind = "no_remote"
	ErrCorrupt            ErrorKind = "corrupt"
	ErrNotARepo           ErrorKind = "not_a_repo"
	ErrTimeout            ErrorKind = "timeout"
	ErrMergeConflict      ErrorKind = "merge_conflict"
	ErrNonFastForward     ErrorKind = "non_fast_forward"
	ErrUnrelatedHistories ErrorKind = "unrelated_histories"
	ErrNothingToCommit    ErrorKind = "nothing_to_commit"
	ErrUnmergedFiles      ErrorKind = "unmerged_files"
	ErrLocalChanges       ErrorKind = "local_changes"
	ErrUnknown            ErrorKind = "unknown"
)

// CommandError is returned by GitRunner when git exits non-zero.
type CommandError struct {
	Args   []string
	Output string
	Kind   ErrorKind
	Err    error
}

func (e *CommandError) Error() string {
	args := make([]string, len(e.Args))
	for i, arg := range e.Args {
		args[i] = StripToken(arg)
	}
	if e.Output != "" {
		return fmt.Sprintf("git %s: %s: %v", strings.Join(args, " "), RedactCredentials(e.Output), e.Err)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is lets errors.Is match the coarse sentinel errors.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrAuthFailure:
		return e.Kind == ErrAuth
	case ErrNetworkFailure:
		return e.Kind == ErrNetwork
	case ErrCorruptRepo:
		return e.Kind == ErrCorrupt || e.Kind == ErrNotARepo
	case ErrMissingRemoteRef:
		return e.Kind == ErrNoRemote
	}
	return false
}

// KindOf extracts the classification of err. Errors that did not come from
// GitRunner are classified from their text as a fallback.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Kind != "" {
		return cmdErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return ClassifyGitError(err.Error())
}

// ClassifyError maps git/process errors into broad actionable categories.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	if errors.Is(err, ErrAuthFailure) {
		return "auth"
	}
	if errors.Is(err, ErrNetworkFailure) {
		return "network"
	}
	if errors.Is(err, ErrCorruptRepo) {
		return "corrupt"
	}
	if errors.Is(err, ErrMissingRemoteRef) {
		return "missing_remote"
	}
	switch KindOf(err) {
	case ErrAuth:
		return "auth"
	case ErrNetwork:
		return "network"
	case ErrTimeout:
		return "timeout"
	case ErrCorrupt, ErrNotARepo:
		return "corrupt"
	case ErrNoRemote:
		return "missing_remote"
	case ErrMergeConflict, ErrUnmergedFiles:
		return "conflict"
	case ErrNonFastForward, ErrUnrelatedHistories:
		return "diverged"
	default:
		return "unknown"
	}
}

// ClassifyGitError inspects git output and returns a classification.
func ClassifyGitError(output string) ErrorKind {
	lower := strings.ToLower(output)

	switch {
	case containsAny(lower, "refusing to merge unrelated histories"):
		return ErrUnrelatedHistories
	case containsAny(lower, "automatic merge failed", "conflict (", "merge conflict"):
		return ErrMergeConflict
	case containsAny(lower, "you have unmerged paths", "unmerged files", "needs merge", "you have not concluded your merge"):
		return ErrUnmergedFiles
	case containsAny(lower, "not possible to fast-forward", "non-fast-forward", "[rejected]", "divergent branches", "fetch first", "diverging branches"):
		return ErrNonFastForward
	case containsAny(lower, "nothing to commit", "no changes added to commit"):
		return ErrNothingToCommit
	case containsAny(lower, "would be overwritten by", "please commit your changes or stash them"):
		return ErrLocalChanges
	case containsAny(lower, "authentication failed", "permission denied", "invalid credentials", "could not read username", "access denied", "http basic: access denied", "returned error: 403"):
		return ErrAuth
	case containsAny(lower, "could not resolve host", "connection refused", "network is unreachable", "connection timed out", "unable to access", "unable to connect", "failed to connect"):
		return ErrNetwork
	case containsAny(lower, "no remote repository", "no such remote", "repository not found", "couldn't find remote ref", "remote ref does not exist"):
		return ErrNoRemote
	case containsAny(lower, "object file is empty", "loose object", "corrupt", "bad object"):
		return ErrCorrupt
	case containsAny(lower, "not a git repository"):
		return ErrNotARepo
	case containsAny(lower, "deadline exceeded", "timed out", "timeout"):
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
