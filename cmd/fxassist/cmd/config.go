package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxassist/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage fxassist configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  fxassist config init -o fxassist.yaml
  fxassist config validate -f fxassist.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings.

Example:
  fxassist config init -o fxassist.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  fxassist config validate -f fxassist.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "fxassist.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	_ = configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  fxassist run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configValidatePath)
	switch cfg.Gateway.Kind {
	case "bridge":
		fmt.Fprintf(out, "  Gateway: bridge at %s (timeout %s)\n", cfg.Gateway.URL, cfg.Gateway.Timeout)
	default:
		fmt.Fprintf(out, "  Gateway: paper (%.2f %s)\n", cfg.Paper.Balance, cfg.Paper.Currency)
		if cfg.Paper.ReplayFile != "" {
			fmt.Fprintf(out, "  Replay: %s at %gx\n", cfg.Paper.ReplayFile, cfg.Paper.Speed)
		}
	}
	fmt.Fprintf(out, "  Loop: every %s, %d bars, %d workers\n", cfg.Loop.Interval, cfg.Loop.Bars, cfg.Loop.Workers)
	fmt.Fprintf(out, "  Registry: %s (%s)\n", cfg.Registry.Path, cfg.Registry.Store)
	fmt.Fprintf(out, "  HTTP: %s\n", cfg.HTTP.Addr)
	return nil
}
