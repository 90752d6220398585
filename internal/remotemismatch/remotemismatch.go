// SPDX-License-Identifier: MIT

// Package remotemismatch detects working copies whose live origin no longer
// matches the origin recorded in the registry, and reconciles them.
package remotemismatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/registry"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// ReconcileMode controls how origin mismatch reconciliation is applied.
type ReconcileMode string

const (
	ReconcileNone     ReconcileMode = "none"
	ReconcileRegistry ReconcileMode = "registry"
	ReconcileGit      ReconcileMode = "git"
)

// Plan describes one reconcile action for a working copy.
type Plan struct {
	Path          string
	PrimaryRemote string
	LiveURL       string
	RegistryURL   string
	Action        string
}

// ParseReconcileMode validates and parses a reconcile mode flag value.
func ParseReconcileMode(raw string) (ReconcileMode, error) {
	mode := ReconcileMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case "", ReconcileNone:
		return ReconcileNone, nil
	case ReconcileRegistry, ReconcileGit:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported --reconcile-origin value %q (expected none, registry, or git)", raw)
	}
}

// Mismatched reports whether the live origin differs from the registry.
// Credentials and URL spelling differences are ignored.
func Mismatched(status model.RepoStatus, entry registry.Entry) bool {
	recorded := strings.TrimSpace(entry.OriginURL)
	live := strings.TrimSpace(status.OriginURL)
	if recorded == "" || live == "" {
		return false
	}
	return gitx.NormalizeURL(gitx.StripToken(recorded)) != gitx.NormalizeURL(gitx.StripToken(live))
}

// BuildPlans computes reconcile plans from status data and registry state.
func BuildPlans(repos []model.RepoStatus, reg *registry.Registry, mode ReconcileMode) []Plan {
	if reg == nil || mode == ReconcileNone {
		return nil
	}
	plans := make([]Plan, 0)
	for _, repo := range repos {
		entry := reg.FindByPath(repo.Path)
		if entry == nil || !Mismatched(repo, *entry) {
			continue
		}
		plan := Plan{
			Path:          repo.Path,
			PrimaryRemote: repo.PrimaryRemote,
			LiveURL:       gitx.StripToken(repo.OriginURL),
			RegistryURL:   gitx.StripToken(entry.OriginURL),
		}
		switch mode {
		case ReconcileRegistry:
			plan.Action = "set registry origin_url to live git remote"
		case ReconcileGit:
			if strings.TrimSpace(repo.PrimaryRemote) == "" {
				continue
			}
			plan.Action = "set git remote URL to registry origin_url"
		}
		plans = append(plans, plan)
	}
	return plans
}

// ApplyPlans applies plans to the registry or to git remotes based on mode.
func ApplyPlans(ctx context.Context, plans []Plan, reg *registry.Registry, mode ReconcileMode, adapter vcs.Adapter, now func() time.Time) error {
	if len(plans) == 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	switch mode {
	case ReconcileRegistry:
		if reg == nil {
			return nil
		}
		for _, plan := range plans {
			entry := reg.FindByPath(plan.Path)
			if entry == nil {
				continue
			}
			entry.OriginURL = plan.LiveURL
			entry.RepoID = gitx.NormalizeURL(plan.LiveURL)
			entry.LastSeen = now()
		}
	case ReconcileGit:
		if adapter == nil {
			return fmt.Errorf("adapter is required for git remote reconciliation")
		}
		for _, plan := range plans {
			if err := adapter.SetRemoteURL(ctx, plan.Path, plan.PrimaryRemote, plan.RegistryURL); err != nil {
				return fmt.Errorf("git remote set-url %q %q (%q): %w", plan.PrimaryRemote, plan.RegistryURL, plan.Path, err)
			}
		}
	}
	return nil
}
