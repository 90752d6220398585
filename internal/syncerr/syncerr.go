// SPDX-License-Identifier: MIT

// Package syncerr defines the failure kinds raised by the sync core.
package syncerr

import (
	"errors"
	"fmt"

	"github.com/skaphos/forkkeeper/internal/gitx"
)

// Kind tags a sync failure.
type Kind string

const (
	RemoteUnresolvable        Kind = "remote_unresolvable"
	WorkingTreeBlocked        Kind = "working_tree_blocked"
	MergeUnresolved           Kind = "merge_unresolved"
	MergeAbortedByUser        Kind = "merge_aborted_by_user"
	ManualResolutionRequested Kind = "manual_resolution_requested"
	PushFailed                Kind = "push_failed"
	AuthenticationFailed      Kind = "authentication_failed"
	HistoryRewriteDetected    Kind = "history_rewrite_detected"
	StashRestoreFailed        Kind = "stash_restore_failed"
	Unknown                   Kind = "unknown"
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrRemoteUnresolvable        = &Error{Kind: RemoteUnresolvable}
	ErrWorkingTreeBlocked        = &Error{Kind: WorkingTreeBlocked}
	ErrMergeUnresolved           = &Error{Kind: MergeUnresolved}
	ErrMergeAbortedByUser        = &Error{Kind: MergeAbortedByUser}
	ErrManualResolutionRequested = &Error{Kind: ManualResolutionRequested}
	ErrPushFailed                = &Error{Kind: PushFailed}
	ErrAuthenticationFailed      = &Error{Kind: AuthenticationFailed}
	ErrHistoryRewriteDetected    = &Error{Kind: HistoryRewriteDetected}
	ErrStashRestoreFailed        = &Error{Kind: StashRestoreFailed}
)

// Error is a tagged sync failure. Message is the one human-readable line
// shown to the user; Hint names the manual step that resolves it, if any.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

// New returns an Error of kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithHint sets the manual-resolution hint and returns e.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind carried by err. Git authentication failures that
// were never tagged map to AuthenticationFailed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if gitx.KindOf(err) == gitx.ErrAuth {
		return AuthenticationFailed
	}
	return Unknown
}

// Declined reports whether err is a user decision rather than a failure.
// Such errors are reported but never logged as application errors.
func Declined(err error) bool {
	switch KindOf(err) {
	case MergeAbortedByUser, ManualResolutionRequested:
		return true
	default:
		return false
	}
}

// UserMessage renders err as the single line shown to the user, with the
// manual step appended when one exists.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if !errors.As(err, &se) {
		return err.Error()
	}
	msg := se.Message
	if msg == "" {
		msg = se.Error()
	}
	if se.Hint != "" {
		msg += " (" + se.Hint + ")"
	}
	return msg
}
