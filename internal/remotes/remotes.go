// SPDX-License-Identifier: MIT

// Package remotes attaches, fetches and detaches named remotes.
package remotes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// DefaultFallbackBranches are tried in order when a remote does not advertise HEAD.
var DefaultFallbackBranches = []string{"main", "master"}

// Manager manages remotes of a working copy.
type Manager struct {
	adapter vcs.Adapter
	log     *slog.Logger
}

// New returns a Manager. A nil logger uses slog.Default().
func New(adapter vcs.Adapter, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{adapter: adapter, log: log}
}

// Attachment is what EnsureRemote found and changed.
type Attachment struct {
	// Existed is true when the remote was configured beforehand.
	Existed bool
	// PreviousURL is the URL EnsureRemote replaced, empty when it kept or
	// added the remote.
	PreviousURL string
}

// Changed reports whether an existing remote was pointed at a new URL.
func (a Attachment) Changed() bool { return a.PreviousURL != "" }

// EnsureRemote points remote name at url, adding it when absent.
func (m *Manager) EnsureRemote(ctx context.Context, dir, name, url string) (Attachment, error) {
	current, err := m.adapter.RemoteURL(ctx, dir, name)
	if err == nil {
		if current == url {
			return Attachment{Existed: true}, nil
		}
		if err := m.adapter.SetRemoteURL(ctx, dir, name, url); err != nil {
			return Attachment{Existed: true}, fmt.Errorf("update remote %s: %w", name, err)
		}
		m.log.Debug("remote updated", "dir", dir, "remote", name, "url", gitx.StripToken(url))
		return Attachment{Existed: true, PreviousURL: current}, nil
	}
	if err := m.adapter.AddRemote(ctx, dir, name, url); err != nil {
		return Attachment{}, fmt.Errorf("add remote %s: %w", name, err)
	}
	m.log.Debug("remote added", "dir", dir, "remote", name, "url", gitx.StripToken(url))
	return Attachment{}, nil
}

// Detach undoes EnsureRemote. A replaced URL is put back; an added remote
// is removed unless keep is set.
func (m *Manager) Detach(ctx context.Context, dir, name string, a Attachment, keep bool) model.Ignored {
	switch {
	case a.Changed():
		if err := m.adapter.SetRemoteURL(ctx, dir, name, a.PreviousURL); err != nil {
			m.log.Warn("could not restore remote url", "dir", dir, "remote", name, "error", err)
			return model.Ignored{Op: "remote set-url " + name, Err: err}
		}
		m.log.Debug("remote url restored", "dir", dir, "remote", name, "url", gitx.StripToken(a.PreviousURL))
	case !a.Existed && !keep:
		return m.RemoveRemote(ctx, dir, name)
	}
	return model.Ignored{}
}

// Fetch fetches every ref of remote name. Failures propagate unretried.
func (m *Manager) Fetch(ctx context.Context, dir, name string) error {
	if err := m.adapter.FetchRemote(ctx, dir, name); err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	return nil
}

// ResolveDefaultBranch returns the branch remote advertises as HEAD, or the
// first fallback candidate whose remote-tracking ref resolves. ok is false
// when nothing resolves.
func (m *Manager) ResolveDefaultBranch(ctx context.Context, dir, remote string, fallbacks []string) (string, bool) {
	branch, err := m.adapter.RemoteHeadBranch(ctx, dir, remote)
	if err != nil {
		m.log.Debug("remote HEAD lookup failed; trying fallback branches", "remote", remote, "error", err)
	}
	if branch = strings.TrimSpace(branch); branch != "" {
		return branch, true
	}
	for _, candidate := range fallbacks {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if m.adapter.RefExists(ctx, dir, "refs/remotes/"+remote+"/"+candidate) {
			return candidate, true
		}
	}
	return "", false
}

// RemoveRemote deletes remote name. Failure is returned as Ignored since the
// remote may already be gone.
func (m *Manager) RemoveRemote(ctx context.Context, dir, name string) model.Ignored {
	if err := m.adapter.RemoveRemote(ctx, dir, name); err != nil {
		m.log.Debug("remote removal ignored", "dir", dir, "remote", name, "error", err)
		return model.Ignored{Op: "remote remove " + name, Err: err}
	}
	return model.Ignored{}
}

// Push pushes branch to remote.
func (m *Manager) Push(ctx context.Context, dir, remote, branch string) error {
	if err := m.adapter.Push(ctx, dir, remote, branch); err != nil {
		return fmt.Errorf("push %s %s: %w", remote, branch, err)
	}
	return nil
}
