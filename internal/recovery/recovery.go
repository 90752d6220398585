// SPDX-License-Identifier: MIT

// Package recovery replaces a working copy whose remote history was
// rewritten: it backs the files up, deletes the checkout and clones again.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/interact"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// DefaultExcludes strip version-control metadata from backups.
var DefaultExcludes = []string{".git", ".git/**", "**/.git", "**/.git/**"}

const backupTimeLayout = "20060102-150405"

// Credentials builds authenticated remote URLs and refreshes a rejected
// token.
type Credentials interface {
	AuthURL(ctx context.Context, rawURL string) (string, error)
	Refresh(ctx context.Context, rawURL string) (string, error)
}

// Options configure a Recovery.
type Options struct {
	// BackupRoot holds backups. Defaults to the parent of the working copy.
	BackupRoot string
	// Excludes are doublestar patterns, relative to the working copy, left
	// out of the backup in addition to DefaultExcludes.
	Excludes []string
}

// Recovery performs backup-and-reclone.
type Recovery struct {
	adapter vcs.Adapter
	creds   Credentials
	ui      interact.UI
	log     *slog.Logger
	opts    Options
	now     func() time.Time
	remove  func(string) error
}

// New returns a Recovery. creds may be nil when remotes need no token.
func New(adapter vcs.Adapter, creds Credentials, ui interact.UI, log *slog.Logger, opts Options) *Recovery {
	if ui == nil {
		ui = interact.Noninteractive{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recovery{adapter: adapter, creds: creds, ui: ui, log: log, opts: opts, now: time.Now, remove: os.RemoveAll}
}

// IsHistoryRewriteSignature reports whether err describes local and remote
// histories that can no longer be reconciled: unrelated histories, or a
// rejected fast-forward that a merge could not repair either. Conflicts and
// transport failures are ordinary errors.
func IsHistoryRewriteSignature(err error) bool {
	if err == nil {
		return false
	}
	kinds := collectKinds(err)
	if kinds[gitx.ErrUnrelatedHistories] {
		return true
	}
	for _, ordinary := range []gitx.ErrorKind{gitx.ErrMergeConflict, gitx.ErrUnmergedFiles, gitx.ErrAuth, gitx.ErrNetwork, gitx.ErrTimeout, gitx.ErrLocalChanges} {
		if kinds[ordinary] {
			return false
		}
	}
	return kinds[gitx.ErrNonFastForward]
}

func collectKinds(err error) map[gitx.ErrorKind]bool {
	kinds := map[gitx.ErrorKind]bool{}
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ce, ok := e.(*gitx.CommandError); ok {
			kinds[ce.Kind] = true
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return kinds
}

// Recover backs up dir, deletes it and clones remoteURL into it again. The
// returned record is nil when the backup could not be made; recovery still
// proceeds. A directory that cannot be deleted aborts recovery.
func (r *Recovery) Recover(ctx context.Context, dir, remoteURL, displayName string) (*model.BackupRecord, error) {
	if displayName == "" {
		displayName = filepath.Base(dir)
	}
	record, err := r.backup(dir)
	if err != nil {
		r.log.Warn("backup before re-clone failed; continuing without it", "dir", dir, "error", err)
		record = nil
	}

	if err := ctx.Err(); err != nil {
		return record, fmt.Errorf("re-clone of %s interrupted: %w", dir, err)
	}
	if err := r.remove(dir); err != nil {
		return record, fmt.Errorf("remove %s before re-clone: %w", dir, err)
	}
	if _, err := os.Stat(dir); err == nil {
		return record, fmt.Errorf("remove %s before re-clone: directory still exists", dir)
	}

	if err := r.clone(ctx, dir, remoteURL); err != nil {
		return record, err
	}

	msg := fmt.Sprintf("%s was downloaded again because its remote history changed.", displayName)
	if record != nil {
		msg += fmt.Sprintf(" Your previous files were saved to %s.", record.BackupPath)
	}
	msg += " This is unusual; tell your instructor if it happens again."
	if _, err := r.ui.ShowMessage(ctx, interact.LevelWarning, msg); err != nil {
		r.log.Warn("could not display recovery message", "error", err)
	}
	r.log.Info("working copy re-cloned", "dir", dir, "backup", backupPath(record))
	return record, nil
}

func backupPath(record *model.BackupRecord) string {
	if record == nil {
		return ""
	}
	return record.BackupPath
}

// clone clones into dir, refreshing credentials and retrying once when the
// remote rejects them.
func (r *Recovery) clone(ctx context.Context, dir, remoteURL string) error {
	url, err := r.authURL(ctx, remoteURL)
	if err != nil {
		return err
	}
	refreshed := false
	op := func() error {
		cloneErr := r.adapter.Clone(ctx, url, dir, "")
		if cloneErr == nil {
			return nil
		}
		if gitx.KindOf(cloneErr) != gitx.ErrAuth || r.creds == nil || refreshed {
			return backoff.Permanent(cloneErr)
		}
		refreshed = true
		next, refreshErr := r.creds.Refresh(ctx, remoteURL)
		if refreshErr != nil {
			return backoff.Permanent(errors.Join(cloneErr, refreshErr))
		}
		url = next
		if err := os.RemoveAll(dir); err != nil {
			return backoff.Permanent(err)
		}
		return cloneErr
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("re-clone %s: %w", gitx.StripToken(remoteURL), err)
	}
	return nil
}

func (r *Recovery) authURL(ctx context.Context, remoteURL string) (string, error) {
	if r.creds == nil {
		return remoteURL, nil
	}
	url, err := r.creds.AuthURL(ctx, remoteURL)
	if err != nil {
		return "", fmt.Errorf("credentials for %s: %w", gitx.StripToken(remoteURL), err)
	}
	return url, nil
}

func (r *Recovery) backup(dir string) (*model.BackupRecord, error) {
	ts := r.now()
	root := r.opts.BackupRoot
	if root == "" {
		root = filepath.Dir(dir)
	}
	dest := filepath.Join(root, fmt.Sprintf("%s-backup-%s", filepath.Base(dir), ts.Format(backupTimeLayout)))
	if _, err := os.Stat(dest); err == nil {
		dest = fmt.Sprintf("%s-%d", dest, ts.UnixNano())
	}
	excludes := append(append([]string{}, DefaultExcludes...), r.opts.Excludes...)
	if err := copyTree(dir, dest, excludes); err != nil {
		_ = os.RemoveAll(dest)
		return nil, err
	}
	return &model.BackupRecord{SourcePath: dir, BackupPath: dest, Timestamp: ts}, nil
}

func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// copyTree copies regular files, directories and symlinks under src to dst,
// skipping paths matched by excludes.
func copyTree(src, dst string, excludes []string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if rel == "." {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if excluded(filepath.ToSlash(rel), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		switch {
		case d.IsDir():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, fi.Mode().Perm())
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
