// SPDX-License-Identifier: MIT
package forkkeeper

import "github.com/spf13/cobra"

const (
	formatUsage     = "output format: table or json"
	noHeadersUsage  = "when using table format, do not print headers"
	statusOnlyUsage = "filter: all, errors, dirty, clean, missing, merging, origin-mismatch"
)

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "o", formatTable, formatUsage)
}

func addNoHeadersFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("no-headers", false, noHeadersUsage)
}

// optionalBool returns a pointer to the flag value only when it was set,
// so unset flags fall back to configuration.
func optionalBool(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetBool(name)
	return &v
}
