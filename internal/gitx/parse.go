package gitx

import (
	"strconv"
	"strings"

	"github.com/skaphos/forkkeeper/internal/model"
)

// unmergedCodes are the porcelain v1 XY pairs git uses for unmerged paths.
var unmergedCodes = map[string]struct{}{
	"DD": {}, "AU": {}, "UD": {}, "UA": {}, "DU": {}, "AA": {}, "UU": {},
}

// ParsePorcelainStatus parses the output of `git status --porcelain=v1`
// into a Worktree struct.
func ParsePorcelainStatus(output string) *model.Worktree {
	wt := &model.Worktree{}
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if len(line) < 2 {
			continue
		}
		x := line[0]
		y := line[1]

		if x == '?' && y == '?' {
			wt.Untracked++
			continue
		}
		if _, ok := unmergedCodes[line[:2]]; ok {
			wt.Conflicted++
			continue
		}
		if x != ' ' && x != '?' {
			wt.Staged++
		}
		if y != ' ' && y != '?' {
			wt.Unstaged++
		}
	}
	wt.Dirty = wt.Staged > 0 || wt.Unstaged > 0 || wt.Untracked > 0 || wt.Conflicted > 0
	return wt
}

// ParseConflicts extracts unmerged paths, in output order, from
// `git status --porcelain=v1`.
func ParseConflicts(output string) []model.Conflict {
	var conflicts []model.Conflict
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		if _, ok := unmergedCodes[code]; !ok {
			continue
		}
		path := unquotePath(strings.TrimSpace(line[3:]))
		if path == "" {
			continue
		}
		conflicts = append(conflicts, model.Conflict{Path: path, Code: code})
	}
	return conflicts
}

func unquotePath(path string) string {
	if len(path) >= 2 && strings.HasPrefix(path, `"`) && strings.HasSuffix(path, `"`) {
		if unq, err := strconv.Unquote(path); err == nil {
			return unq
		}
	}
	return path
}

// ParseCount parses a single commit count as printed by
// `git rev-list --count`. ok is false for empty, negative or garbled output.
func ParseCount(output string) (int, bool) {
	output = strings.TrimSpace(output)
	if output == "" {
		return 0, false
	}
	n, err := strconv.Atoi(output)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseRevListCount parses the output of:
//
//	git rev-list --left-right --count <left>...<right>
//
// Returns (left, right). Unparseable halves are reported as zero.
func ParseRevListCount(output string) (int, int) {
	output = strings.TrimSpace(output)
	if output == "" {
		return 0, 0
	}
	parts := strings.Fields(output)
	if len(parts) != 2 {
		return 0, 0
	}
	left, _ := ParseCount(parts[0])
	right, _ := ParseCount(parts[1])
	return left, right
}

// ParseRemoteShowHead extracts the advertised default branch from
// `git remote show <name>` output ("  HEAD branch: main").
func ParseRemoteShowHead(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "HEAD branch:")
		if !ok {
			continue
		}
		branch := strings.TrimSpace(rest)
		// git prints "(unknown)" when the remote HEAD is ambiguous.
		if branch == "" || strings.HasPrefix(branch, "(") {
			return ""
		}
		return branch
	}
	return ""
}

// ParseSymbolicRemoteHead strips the remote prefix from the short form of
// refs/remotes/<remote>/HEAD ("upstream/main" → "main").
func ParseSymbolicRemoteHead(remote, output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}
	output = strings.TrimPrefix(output, "refs/remotes/")
	branch, ok := strings.CutPrefix(output, remote+"/")
	if !ok {
		return ""
	}
	return branch
}

// ParseStashList parses `git stash list --format=%gd%x09%gs`.
func ParseStashList(output string) []model.StashEntry {
	var entries []model.StashEntry
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ref, message, _ := strings.Cut(line, "\t")
		entries = append(entries, model.StashEntry{
			Ref:     strings.TrimSpace(ref),
			Message: strings.TrimSpace(message),
		})
	}
	return entries
}
