// SPDX-License-Identifier: MIT
package forkkeeper

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skaphos/forkkeeper/internal/cliio"
	"github.com/skaphos/forkkeeper/internal/engine"
	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/remotemismatch"
	"github.com/skaphos/forkkeeper/internal/tableutil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report branch, local changes and last sync for registered repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		debugf(cmd, "starting status")
		format, _ := cmd.Flags().GetString("format")
		format, err := parseFormat(format)
		if err != nil {
			return err
		}
		noHeaders, _ := cmd.Flags().GetBool("no-headers")
		only, _ := cmd.Flags().GetString("only")
		filter, err := engine.ParseFilterKind(only)
		if err != nil {
			return err
		}
		reconcileRaw, _ := cmd.Flags().GetString("reconcile-origin")
		mode, err := remotemismatch.ParseReconcileMode(reconcileRaw)
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")

		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		report, err := rt.engine.Status(cmd.Context(), engine.StatusOptions{Filter: filter})
		if err != nil {
			return err
		}

		cwd, _ := os.Getwd()
		plans := remotemismatch.BuildPlans(report.Repos, rt.cfg.Registry, mode)
		if len(plans) > 0 {
			logOutputWriteFailure(cmd, "origin mismatch plan", writeMismatchPlan(cmd, plans, cwd))
			proceed := yes
			if !proceed {
				proceed, err = cliio.PromptYesNo(cmd.ErrOrStderr(), cmd.InOrStdin(), "Proceed with origin reconciliation? [y/N]: ")
				if err != nil {
					return err
				}
			}
			if !proceed {
				infof(cmd, "origin reconciliation cancelled")
			} else {
				if err := remotemismatch.ApplyPlans(cmd.Context(), plans, rt.cfg.Registry, mode, rt.engine.Adapter(), nil); err != nil {
					return err
				}
				if err := rt.save(); err != nil {
					return err
				}
				if report, err = rt.engine.Status(cmd.Context(), engine.StatusOptions{Filter: filter}); err != nil {
					return err
				}
			}
		}

		setColorOutputMode(cmd, format)
		if format == formatJSON {
			if err := writeJSON(cmd, report); err != nil {
				return err
			}
		} else {
			logOutputWriteFailure(cmd, "status table", writeStatusTable(cmd, report, cwd, noHeaders))
		}
		raiseExitCode(statusExitCode(report))
		return nil
	},
}

func init() {
	statusCmd.Flags().String("only", "all", statusOnlyUsage)
	statusCmd.Flags().String("reconcile-origin", "none", "fix origin drift: none, registry (trust git), or git (trust registry)")
	statusCmd.Flags().Bool("yes", false, "apply origin reconciliation without confirmation")
	addFormatFlag(statusCmd)
	addNoHeadersFlag(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

func writeMismatchPlan(cmd *cobra.Command, plans []remotemismatch.Plan, cwd string) error {
	if _, err := fmt.Fprintln(cmd.ErrOrStderr(), "Origin mismatches:"); err != nil {
		return err
	}
	table := &tableutil.Table{Headers: []string{"PATH", "LIVE", "REGISTRY", "ACTION"}}
	for _, plan := range plans {
		table.AddRow(displayRepoPath(plan.Path, cwd), plan.LiveURL, plan.RegistryURL, plan.Action)
	}
	return table.Write(cmd.ErrOrStderr(), false)
}

// statusExitCode is 2 when any repo has an error or unfinished merge, 1 for
// missing or dirty-with-autostash repos.
func statusExitCode(report *model.StatusReport) int {
	code := 0
	for _, repo := range report.Repos {
		switch {
		case repo.Missing:
			code = max(code, 1)
		case repo.Error != "" || repo.MergeInProgress:
			code = max(code, 2)
		case repo.Stashes > 0:
			code = max(code, 1)
		}
	}
	return code
}
