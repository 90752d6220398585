// SPDX-License-Identifier: MIT
package forkkeeper

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/skaphos/forkkeeper/internal/engine"
	"github.com/skaphos/forkkeeper/internal/strutil"
	"github.com/skaphos/forkkeeper/internal/tableutil"
)

var scanCmd = &cobra.Command{
	Use:   "scan <root>...",
	Short: "Find git working copies under course roots and register them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debugf(cmd, "starting scan")
		exclude, _ := cmd.Flags().GetString("exclude")
		followSymlinks, _ := cmd.Flags().GetBool("follow-symlinks")
		format, _ := cmd.Flags().GetString("format")
		format, err := parseFormat(format)
		if err != nil {
			return err
		}
		noHeaders, _ := cmd.Flags().GetBool("no-headers")

		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		statuses, err := rt.engine.Scan(cmd.Context(), engine.ScanOptions{
			Roots:          args,
			Exclude:        strutil.SplitCSV(exclude),
			FollowSymlinks: followSymlinks,
		})
		if err != nil {
			return err
		}
		if err := rt.save(); err != nil {
			return err
		}

		setColorOutputMode(cmd, format)
		if format == formatJSON {
			return writeJSON(cmd, statuses)
		}
		cwd, _ := os.Getwd()
		table := &tableutil.Table{Headers: []string{"NAME", "PATH", "ORIGIN", "UPSTREAM"}}
		for _, s := range statuses {
			table.AddRow(s.Name, displayRepoPath(s.Path, cwd), s.OriginURL, strconv.FormatBool(s.UpstreamURL != ""))
		}
		logOutputWriteFailure(cmd, "scan table", table.Write(cmd.OutOrStdout(), noHeaders))
		infof(cmd, "scan completed: %d repos", len(statuses))
		return nil
	},
}

func init() {
	scanCmd.Flags().String("exclude", "", "comma-separated glob patterns to skip (default from config)")
	scanCmd.Flags().Bool("follow-symlinks", false, "follow symbolic links while scanning")
	addFormatFlag(scanCmd)
	addNoHeadersFlag(scanCmd)
	rootCmd.AddCommand(scanCmd)
}
