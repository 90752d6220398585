// SPDX-License-Identifier: MIT
// Package discovery walks course directories to find git working copies.
package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/skaphos/forkkeeper/internal/gitx"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

// Result represents a discovered working copy.
type Result struct {
	Path          string // absolute path to the working copy root
	RepoID        string // normalized origin URL
	OriginURL     string // origin URL with credentials stripped
	UpstreamURL   string // upstream remote URL, when one is configured
	PrimaryRemote string
	Remotes       []model.Remote
}

// Options configures the discovery scan.
type Options struct {
	Roots          []string
	Exclude        []string // glob patterns to skip
	FollowSymlinks bool
	// UpstreamRemote names the remote whose URL becomes Result.UpstreamURL.
	UpstreamRemote string
	Adapter        vcs.Adapter
}

// Scan walks all roots and returns discovered working copies. It skips
// directories matching exclude patterns and does not recurse into .git
// directories or into a working copy once found.
func Scan(ctx context.Context, opts Options) ([]Result, error) {
	if opts.Adapter == nil {
		opts.Adapter = vcs.NewGitAdapter(nil)
	}
	if opts.UpstreamRemote == "" {
		opts.UpstreamRemote = "upstream"
	}

	visited := make(map[string]struct{})
	var results []Result

	for _, root := range opts.Roots {
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		if err := walkRoot(ctx, absRoot, opts, visited, &results); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// MatchesExclude checks whether a path matches any of the given exclude
// glob patterns.
func MatchesExclude(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	slashPath := filepath.ToSlash(path)
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		match, err := doublestar.Match(pattern, slashPath)
		if err != nil {
			continue
		}
		if match {
			return true
		}
	}
	return false
}

func walkRoot(ctx context.Context, root string, opts Options, visited map[string]struct{}, results *[]Result) error {
	realRoot := root
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		realRoot = resolved
	}
	if _, ok := visited[realRoot]; ok {
		return nil
	}
	visited[realRoot] = struct{}{}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		isLink := d.Type()&os.ModeSymlink != 0
		if !d.IsDir() && !isLink {
			return nil
		}
		if d.Name() == ".git" {
			return fs.SkipDir
		}
		if MatchesExclude(path, opts.Exclude) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if isLink {
			if !opts.FollowSymlinks {
				return nil
			}
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil
			}
			info, err := os.Stat(target)
			if err != nil || !info.IsDir() {
				return nil
			}
			return walkRoot(ctx, target, opts, visited, results)
		}

		if !hasGitDir(path) {
			return nil
		}
		result, err := buildResult(ctx, opts, path)
		if err != nil {
			return err
		}
		*results = append(*results, result)
		return fs.SkipDir
	})
}

// hasGitDir reports whether dir holds a .git directory or a gitdir file.
func hasGitDir(dir string) bool {
	gitPath := filepath.Join(dir, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return true
	}
	_, ok := gitdirFromFile(gitPath)
	return ok
}

func gitdirFromFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, "gitdir:") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(content, "gitdir:"))
	if raw == "" {
		return "", false
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw), true
	}
	return filepath.Clean(filepath.Join(filepath.Dir(path), raw)), true
}

func buildResult(ctx context.Context, opts Options, dir string) (Result, error) {
	adapter := opts.Adapter
	remotes, err := adapter.Remotes(ctx, dir)
	if err != nil {
		return Result{}, err
	}
	var remoteNames []string
	for _, r := range remotes {
		remoteNames = append(remoteNames, r.Name)
	}
	primary := adapter.PrimaryRemote(remoteNames)
	result := Result{Path: dir, PrimaryRemote: primary, Remotes: remotes}
	for _, r := range remotes {
		switch r.Name {
		case primary:
			result.OriginURL = gitx.StripToken(r.URL)
		case opts.UpstreamRemote:
			result.UpstreamURL = gitx.StripToken(r.URL)
		}
	}
	result.RepoID = adapter.NormalizeURL(result.OriginURL)
	return result, nil
}
