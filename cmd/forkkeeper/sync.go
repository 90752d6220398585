// SPDX-License-Identifier: MIT
package forkkeeper

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/skaphos/forkkeeper/internal/engine"
	"github.com/skaphos/forkkeeper/internal/strutil"
)

var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "Merge new upstream commits into one or all registered forks",
	Long: "Without a path, every registered repository is synced in turn. With a path, only that fork is synced; " +
		"an unregistered path is registered first when --upstream is given.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debugf(cmd, "starting sync")
		format, _ := cmd.Flags().GetString("format")
		format, err := parseFormat(format)
		if err != nil {
			return err
		}
		noHeaders, _ := cmd.Flags().GetBool("no-headers")
		upstream, _ := cmd.Flags().GetString("upstream")
		branch, _ := cmd.Flags().GetString("branch")
		fallbacks, _ := cmd.Flags().GetString("fallback-branches")
		yes, _ := cmd.Flags().GetBool("yes")
		continueOnError, _ := cmd.Flags().GetBool("continue-on-error")
		nonInteractive, _ := cmd.Flags().GetBool("non-interactive")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		timeout, _ := cmd.Flags().GetInt("timeout")

		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		opts := engine.SyncOptions{
			Concurrency:          concurrency,
			Timeout:              timeout,
			ContinueOnError:      continueOnError,
			Interactive:          !nonInteractive && stdinIsTerminal(cmd),
			UpstreamURL:          upstream,
			DefaultBranch:        branch,
			AutoResolveConflicts: optionalBool(cmd, "auto-resolve"),
			KeepUpstreamRemote:   optionalBool(cmd, "keep-remote"),
			FallbackBranches:     strutil.SplitCSV(fallbacks),
		}
		if yes {
			confirm := false
			opts.Confirm = &confirm
		}
		debugf(cmd, "interactive=%t continue-on-error=%t", opts.Interactive, opts.ContinueOnError)

		var results []engine.SyncResult
		if len(args) == 1 {
			res, err := rt.engine.SyncPath(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			results = []engine.SyncResult{res}
		} else {
			if len(rt.cfg.Registry.Entries) == 0 {
				infof(cmd, "no repositories registered (run forkkeeper add or forkkeeper scan first)")
				return nil
			}
			results = rt.engine.SyncAll(cmd.Context(), opts, func(res engine.SyncResult) {
				debugf(cmd, "%s: %s", res.Name, res.Outcome)
			})
		}
		if err := rt.save(); err != nil {
			return err
		}

		cwd, _ := os.Getwd()
		setColorOutputMode(cmd, format)
		switch format {
		case formatJSON:
			if err := writeJSON(cmd, results); err != nil {
				return err
			}
		default:
			logOutputWriteFailure(cmd, "sync table", writeSyncTable(cmd, results, cwd, noHeaders))
		}
		for _, res := range results {
			raiseExitCode(syncExitCode(res))
		}
		if !continueOnError && len(results) < len(rt.cfg.Registry.Entries) && len(args) == 0 {
			infof(cmd, "stopped after the first failure; pass --continue-on-error to sync the rest")
		}
		infof(cmd, "sync completed: %d repos", len(results))
		return nil
	},
}

func init() {
	syncCmd.Flags().String("upstream", "", "upstream template URL (registers an unknown path)")
	syncCmd.Flags().String("branch", "", "default branch to sync instead of the upstream HEAD")
	syncCmd.Flags().String("fallback-branches", "", "comma-separated branches to try when upstream HEAD is unknown")
	syncCmd.Flags().Bool("auto-resolve", false, "resolve conflicts without prompting")
	syncCmd.Flags().Bool("keep-remote", false, "keep the upstream remote after syncing")
	syncCmd.Flags().Bool("yes", false, "update without asking for confirmation")
	syncCmd.Flags().Bool("continue-on-error", false, "keep syncing remaining repositories after a failure")
	syncCmd.Flags().Bool("non-interactive", false, "never prompt; resolve conflicts automatically")
	syncCmd.Flags().Int("concurrency", 0, "max concurrent repositories with --continue-on-error --non-interactive (default from config)")
	syncCmd.Flags().Int("timeout", 0, "timeout in seconds per repository (default from config)")
	addFormatFlag(syncCmd)
	addNoHeadersFlag(syncCmd)
	rootCmd.AddCommand(syncCmd)
}

func stdinIsTerminal(cmd *cobra.Command) bool {
	file, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return false
	}
	return isTerminalFD(int(file.Fd()))
}
