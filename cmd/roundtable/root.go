package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/config"
	"github.com/ShayCichocki/roundtable/internal/logging"
)

var (
	cfgFile string
	verbose bool

	cfg         *config.Config
	logger      = logging.Default
	closeLogger = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "roundtable",
	Short: "Multi-agent research team",
	Long: `Roundtable puts a research question in front of a small team of agents.

A researcher gathers information, an analyst interprets it, a writer drafts
the answer and a critic reviews it until the work is done. Participants are
chosen from the wording of the task unless --all-agents is given.

Run a task locally with 'roundtable run', or start the HTTP API with
'roundtable serve' to queue tasks in the background.

Configuration is read from ~/.config/roundtable/config.yaml, a .roundtable.yaml
in the current directory or a parent, and environment variables such as
MODEL_TYPE, MODEL_NAME and OPENAI_API_KEY.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return closeLogger() },
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: user and project config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config when given and the layered config otherwise.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromPath(cfgFile)
	}
	return config.Load()
}

// setup loads the config and builds the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		c.Logging.Level = logging.LevelDebug
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, closeFn, err := logging.New(logging.Options{
		Level:       c.Logging.Level,
		Dir:         c.Logging.Dir,
		FileLogging: c.Logging.FileLogging,
		// The viewer owns the terminal while it runs.
		Quiet: cmd == runCmd && runTUI,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	cfg = c
	logger = l
	closeLogger = closeFn
	return nil
}

// namedLogger returns the command logger with a component name.
func namedLogger(name string) *zap.SugaredLogger {
	return logger.Named(name)
}
