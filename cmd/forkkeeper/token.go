// SPDX-License-Identifier: MIT
package forkkeeper

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skaphos/forkkeeper/internal/credentials"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage access tokens used for https remotes",
	Long: "Tokens are stored per host and owner in a file next to the config, readable only by you. " +
		"The " + credentials.EnvToken + " environment variable takes precedence over stored tokens.",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <url>",
	Short: "Store the access token for a remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		tok, err := rt.console.Input(cmd.Context(), "Access token", true)
		if err != nil {
			return err
		}
		if tok == "" {
			return errors.New("no token entered")
		}
		if err := rt.store.Set(args[0], tok); err != nil {
			return err
		}
		infof(cmd, "token saved to %s", rt.store.Path())
		return nil
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete <url>",
	Short: "Forget the access token for a remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		if err := rt.store.Delete(args[0]); err != nil {
			return err
		}
		infof(cmd, "token removed")
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remotes that have a stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadSession(cmd)
		if err != nil {
			return err
		}
		origins, err := rt.store.Origins()
		if err != nil {
			return err
		}
		for _, origin := range origins {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), origin); err != nil {
				logOutputWriteFailure(cmd, "token list", err)
				break
			}
		}
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd, tokenDeleteCmd, tokenListCmd)
	rootCmd.AddCommand(tokenCmd)
}
