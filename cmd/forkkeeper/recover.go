// SPDX-License-Identifier: MIT
package forkkeeper

import (
	"github.com/spf13/cobra"

	"github.com/skaphos/forkkeeper/internal/syncerr"
)

var recoverCmd = &cobra.Command{
	Use:   "recover <path>",
	Short: "Back up a working copy, delete it and clone it again",
	Long: "Use recover when a repository's remote history was rewritten and ordinary syncing keeps failing. " +
		"Files are copied to a timestamped backup directory, without git metadata, before the working copy is replaced.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetString("remote")
		name, _ := cmd.Flags().GetString("name")
		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		record, err := rt.engine.Recover(cmd.Context(), args[0], remote, name)
		if saveErr := rt.save(); saveErr != nil {
			debugf(cmd, "could not save registry: %v", saveErr)
		}
		if err != nil {
			return errorf(err)
		}
		if record != nil {
			infof(cmd, "backup: %s", record.BackupPath)
		}
		raiseExitCode(1)
		return nil
	},
}

func init() {
	recoverCmd.Flags().String("remote", "", "URL to clone from (default: the recorded origin)")
	recoverCmd.Flags().String("name", "", "display name used in messages")
	rootCmd.AddCommand(recoverCmd)
}

// errorf renders err as its single user-facing line.
func errorf(err error) error {
	if err == nil {
		return nil
	}
	return userError{err: err}
}

type userError struct{ err error }

func (u userError) Error() string { return syncerr.UserMessage(u.err) }
func (u userError) Unwrap() error { return u.err }
