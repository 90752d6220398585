// SPDX-License-Identifier: MIT
package forkkeeper

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skaphos/forkkeeper/internal/engine"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/tableutil"
	"github.com/skaphos/forkkeeper/internal/termstyle"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

// logOutputWriteFailure records non-fatal output write/flush failures.
// CLI consumers frequently pipe to tools that close early (for example `head`),
// so we log and continue instead of treating these as command failures.
func logOutputWriteFailure(cmd *cobra.Command, context string, err error) {
	if err == nil {
		return
	}
	debugf(cmd, "ignored output write failure (%s): %v", context, err)
}

func parseFormat(raw string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	switch format {
	case "", formatTable:
		return formatTable, nil
	case formatJSON:
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format %q", raw)
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	logOutputWriteFailure(cmd, "json", err)
	return nil
}

func writeSyncTable(cmd *cobra.Command, results []engine.SyncResult, cwd string, noHeaders bool) error {
	table := &tableutil.Table{Headers: []string{"NAME", "PATH", "OUTCOME", "BEHIND", "DETAIL"}}
	for _, res := range results {
		detail := res.Error
		if detail == "" && res.Backup != nil {
			detail = "backup: " + res.Backup.BackupPath
		}
		if detail == "" && len(res.Warnings) > 0 {
			detail = res.Warnings[0]
		}
		table.AddRow(
			res.Name,
			displayRepoPath(res.Path, cwd),
			colorOutcome(res),
			strconv.Itoa(res.BehindCount),
			detail,
		)
	}
	return table.Write(cmd.OutOrStdout(), noHeaders)
}

func writeStatusTable(cmd *cobra.Command, report *model.StatusReport, cwd string, noHeaders bool) error {
	table := &tableutil.Table{Headers: []string{"NAME", "PATH", "BRANCH", "STATE", "LAST_SYNC"}}
	for _, repo := range report.Repos {
		table.AddRow(
			repo.Name,
			displayRepoPath(repo.Path, cwd),
			statusBranch(repo),
			statusState(repo),
			lastSync(repo.LastSync),
		)
	}
	return table.Write(cmd.OutOrStdout(), noHeaders)
}

func statusBranch(repo model.RepoStatus) string {
	switch {
	case repo.Missing:
		return "-"
	case repo.Head.Detached:
		return model.DetachedBranch
	default:
		return repo.Head.Branch
	}
}

func statusState(repo model.RepoStatus) string {
	switch {
	case repo.Missing:
		return termstyle.Colorize(colorOutputEnabled, "missing", termstyle.Warning)
	case repo.Error != "":
		return termstyle.Colorize(colorOutputEnabled, "error: "+repo.ErrorClass, termstyle.Failure)
	case repo.MergeInProgress:
		return termstyle.Colorize(colorOutputEnabled, "merging", termstyle.Failure)
	}
	var parts []string
	if repo.Worktree != nil && repo.Worktree.Conflicted > 0 {
		parts = append(parts, fmt.Sprintf("%d conflicted", repo.Worktree.Conflicted))
	}
	if repo.Worktree != nil && repo.Worktree.Dirty {
		parts = append(parts, "dirty")
	}
	if repo.Stashes > 0 {
		parts = append(parts, fmt.Sprintf("%d autostash", repo.Stashes))
	}
	if len(parts) == 0 {
		return termstyle.Colorize(colorOutputEnabled, "clean", termstyle.OK)
	}
	return termstyle.Colorize(colorOutputEnabled, strings.Join(parts, ", "), termstyle.Warning)
}

func lastSync(rec *model.SyncRecord) string {
	if rec == nil {
		return "never"
	}
	stamp := rec.At.Local().Format(time.DateTime)
	if !rec.OK {
		return termstyle.Colorize(colorOutputEnabled, stamp+" (failed)", termstyle.Failure)
	}
	return stamp
}

func colorOutcome(res engine.SyncResult) string {
	value := string(res.Outcome)
	switch {
	case !res.OK:
		return termstyle.Colorize(colorOutputEnabled, value, termstyle.Failure)
	case res.Outcome == engine.OutcomeDeclined || res.Outcome == engine.OutcomeRecovered || len(res.Warnings) > 0:
		return termstyle.Colorize(colorOutputEnabled, value, termstyle.Warning)
	default:
		return termstyle.Colorize(colorOutputEnabled, value, termstyle.OK)
	}
}

// syncExitCode maps a result to the command severity.
func syncExitCode(res engine.SyncResult) int {
	switch {
	case !res.OK:
		return 2
	case res.Outcome == engine.OutcomeDeclined || res.Outcome == engine.OutcomeRecovered || len(res.Warnings) > 0:
		return 1
	default:
		return 0
	}
}

func displayRepoPath(repoPath, cwd string) string {
	if rel, ok := relWithin(cwd, repoPath); ok {
		return rel
	}
	return repoPath
}

func relWithin(base, target string) (string, bool) {
	if strings.TrimSpace(base) == "" || strings.TrimSpace(target) == "" {
		return "", false
	}
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", false
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil || rel == "." || rel == ".." {
		return "", false
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
