package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/roundtable/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify roundtable configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config file.

Configuration is stored at ~/.config/roundtable/config.yaml
Project-specific overrides can be placed in .roundtable.yaml`,
	Args: cobra.MaximumNArgs(2),
	// An invalid config must still be viewable and fixable.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			return showConfig(out, cfg)
		case 1:
			return showConfigKey(out, args[0])
		default:
			return setConfigKey(out, args[0], args[1])
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig(cmd.OutOrStdout(), cfg)
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List every configuration key",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, key := range config.Keys() {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config files in use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "project: %s\n", project)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configPathCmd)
}

// showConfig prints c as YAML with secrets masked, followed by where the
// model API key comes from.
func showConfig(w io.Writer, c *config.Config) error {
	doc, err := c.YAML()
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if _, err := w.Write(doc); err != nil {
		return err
	}

	_, source, keyErr := config.APIKey(c)
	switch {
	case keyErr != nil:
		fmt.Fprintf(w, "\n%s %v\n", color.YellowString("⚠"), keyErr)
	case source != config.KeySourceImplicit:
		fmt.Fprintf(w, "\n%s API key loaded from %s\n", color.GreenString("✓"), source)
	}
	return nil
}

// isSecretKey reports whether key holds a credential.
func isSecretKey(key string) bool {
	return strings.HasSuffix(key, "api_key")
}

func showConfigKey(w io.Writer, key string) error {
	value, err := config.Lookup(key)
	if err != nil {
		return err
	}
	if s, ok := value.(string); ok && isSecretKey(strings.ToLower(key)) {
		value = config.MaskAPIKey(s)
	}
	fmt.Fprintln(w, value)
	return nil
}

func setConfigKey(w io.Writer, key, value string) error {
	if err := config.SetValue(key, value); err != nil {
		return err
	}
	if isSecretKey(strings.ToLower(key)) {
		value = config.MaskAPIKey(value)
	}
	fmt.Fprintf(w, "Set %s = %s\n", key, value)
	return nil
}
