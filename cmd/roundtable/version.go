package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/roundtable/internal/version"
)

// Version returns the current version
func Version() string {
	return version.String()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	// No config is needed to print the version.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "roundtable version %s\n", Version())
	},
}
