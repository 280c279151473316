package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/roundtable/internal/signals"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a research run in this directory",
	Long: `Ask a 'roundtable run' started from the current directory to stop.

The request is a file at .roundtable/signals/stop which the running process
watches. The run is cancelled and the process exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		if err := signals.SendStop(cwd); err != nil {
			return fmt.Errorf("send stop signal: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Stop requested\n", color.YellowString("■"))
		return nil
	},
}
