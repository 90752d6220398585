// SPDX-License-Identifier: MIT
package forkkeeper

import (
	"github.com/spf13/cobra"

	"github.com/skaphos/forkkeeper/internal/engine"
)

var addCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a course repository",
	Long: "Register an existing working copy, or a path that does not exist yet together with --origin " +
		"so the next sync clones it.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		upstream, _ := cmd.Flags().GetString("upstream")
		origin, _ := cmd.Flags().GetString("origin")
		name, _ := cmd.Flags().GetString("name")
		branch, _ := cmd.Flags().GetString("branch")
		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		entry, err := rt.engine.Add(cmd.Context(), engine.AddOptions{
			Path:          args[0],
			Name:          name,
			UpstreamURL:   upstream,
			OriginURL:     origin,
			DefaultBranch: branch,
		})
		if err != nil {
			return err
		}
		if err := rt.save(); err != nil {
			return err
		}
		infof(cmd, "registered %s (%s)", entry.DisplayName(), entry.Path)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <path>",
	Aliases: []string{"rm"},
	Short:   "Unregister a course repository without touching its files",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		if !rt.engine.Remove(args[0]) {
			infof(cmd, "%s is not registered", args[0])
			raiseExitCode(1)
			return nil
		}
		if err := rt.save(); err != nil {
			return err
		}
		infof(cmd, "unregistered %s", args[0])
		return nil
	},
}

func init() {
	addCmd.Flags().String("upstream", "", "upstream template URL")
	addCmd.Flags().String("origin", "", "origin URL (read from the working copy when omitted)")
	addCmd.Flags().String("name", "", "display name (default: directory name)")
	addCmd.Flags().String("branch", "", "default branch (default: upstream HEAD)")
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
}
