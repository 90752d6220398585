// Package model defines the core data types used throughout ForkKeeper.
package model

import "time"

// DetachedBranch is reported as the current branch when HEAD is detached.
const DetachedBranch = "DETACHED"

// Remote represents a single git remote.
type Remote struct {
	// Name is the configured remote name (for example, "upstream").
	Name string `json:"name" yaml:"name"`
	// URL is the remote fetch/push URL. It may embed a credential token.
	URL string `json:"url" yaml:"url"`
}

// Head represents the current HEAD state of a repo.
type Head struct {
	// Branch is the current branch name when HEAD is attached.
	Branch string `json:"branch" yaml:"branch"`
	// Detached reports whether HEAD is detached.
	Detached bool `json:"detached" yaml:"detached"`
}

// Worktree represents the working tree status.
type Worktree struct {
	// Dirty indicates whether the worktree has any local modifications.
	Dirty bool `json:"dirty" yaml:"dirty"`
	// Staged is the count of staged file changes.
	Staged int `json:"staged" yaml:"staged"`
	// Unstaged is the count of unstaged file changes.
	Unstaged int `json:"unstaged" yaml:"unstaged"`
	// Untracked is the count of untracked files.
	Untracked int `json:"untracked" yaml:"untracked"`
	// Conflicted is the count of paths in an unmerged state.
	Conflicted int `json:"conflicted" yaml:"conflicted"`
}

// Conflict is one unmerged path together with its two-letter porcelain code
// (for example "UU", or "UD" for a file deleted by the incoming side).
type Conflict struct {
	Path string `json:"path" yaml:"path"`
	Code string `json:"code" yaml:"code"`
}

// DeletedByThem reports the "modified here, deleted upstream" shape.
func (c Conflict) DeletedByThem() bool { return c.Code == "UD" }

// OursMissing reports whether the local side has no version of the path.
func (c Conflict) OursMissing() bool { return len(c.Code) == 2 && c.Code[0] == 'D' }

// TheirsMissing reports whether the incoming side has no version of the path.
func (c Conflict) TheirsMissing() bool { return len(c.Code) == 2 && c.Code[1] == 'D' }

// Divergence is the fresh per-run measurement of how far a local branch is
// from a remote ref. Counts are never negative.
type Divergence struct {
	Behind        int    `json:"behind" yaml:"behind"`
	Ahead         int    `json:"ahead" yaml:"ahead"`
	DefaultBranch string `json:"default_branch,omitempty" yaml:"default_branch,omitempty"`
}

// StashTicket identifies one stash created to protect local edits.
type StashTicket struct {
	// Marker is the unique message the stash was created with.
	Marker string `json:"marker" yaml:"marker"`
	// Ref is the resolved stash reference (for example "stash@{0}").
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// StashEntry is one line of the stash list.
type StashEntry struct {
	Ref     string `json:"ref" yaml:"ref"`
	Message string `json:"message" yaml:"message"`
}

// SyncOutcome is the terminal result of a fork sync. Updated=false means
// nothing to do or the user declined; failures are returned as errors.
type SyncOutcome struct {
	Updated       bool     `json:"updated" yaml:"updated"`
	DefaultBranch string   `json:"default_branch,omitempty" yaml:"default_branch,omitempty"`
	BehindCount   int      `json:"behind_count" yaml:"behind_count"`
	Warnings      []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// BackupRecord describes a metadata-stripped copy of a working tree taken
// before it was deleted and re-cloned.
type BackupRecord struct {
	SourcePath string    `json:"source_path" yaml:"source_path"`
	BackupPath string    `json:"backup_path" yaml:"backup_path"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

// Ignored records a best-effort operation whose failure was deliberately
// swallowed. The zero value means the operation succeeded.
type Ignored struct {
	Op  string
	Err error
}

// Failed reports whether the swallowed operation failed.
func (i Ignored) Failed() bool { return i.Err != nil }

// SyncRecord records the outcome of the last sync of a registered repo.
type SyncRecord struct {
	// OK is true when the last sync completed successfully.
	OK bool `json:"ok" yaml:"ok"`
	// At is the timestamp of the last sync attempt.
	At time.Time `json:"at" yaml:"at"`
	// Updated reports whether upstream changes were merged.
	Updated bool `json:"updated,omitempty" yaml:"updated,omitempty"`
	// Error contains the sync error message when OK is false.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RepoStatus is the status report for a single registered repository.
type RepoStatus struct {
	RepoID      string `json:"repo_id" yaml:"repo_id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Path        string `json:"path" yaml:"path"`
	UpstreamURL string `json:"upstream_url,omitempty" yaml:"upstream_url,omitempty"`
	// OriginURL is the live origin remote URL with credentials stripped.
	OriginURL string   `json:"origin_url,omitempty" yaml:"origin_url,omitempty"`
	Remotes   []Remote `json:"remotes,omitempty" yaml:"remotes,omitempty"`
	// PrimaryRemote is the remote OriginURL was read from.
	PrimaryRemote string    `json:"primary_remote,omitempty" yaml:"primary_remote,omitempty"`
	Head          Head      `json:"head" yaml:"head"`
	Worktree      *Worktree `json:"worktree" yaml:"worktree"`
	// MergeInProgress reports an unfinished merge left for manual resolution.
	MergeInProgress bool `json:"merge_in_progress,omitempty" yaml:"merge_in_progress,omitempty"`
	// Stashes counts autostash entries left behind by interrupted syncs.
	Stashes    int         `json:"stashes,omitempty" yaml:"stashes,omitempty"`
	Missing    bool        `json:"missing,omitempty" yaml:"missing,omitempty"`
	LastSync   *SyncRecord `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorClass string      `json:"error_class,omitempty" yaml:"error_class,omitempty"`
}

// StatusReport is the top-level output of the status command.
type StatusReport struct {
	GeneratedAt time.Time    `json:"generated_at" yaml:"generated_at"`
	Repos       []RepoStatus `json:"repos" yaml:"repos"`
}
