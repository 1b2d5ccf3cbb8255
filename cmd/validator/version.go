package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shpitdev/email-batch-validator/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Current)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
