package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxassist/config"
)

var rootCmd = &cobra.Command{
	Use:   "fxassist",
	Short: "Fractal breakout trading assistant for MT5 terminals",
	Long: `fxassist watches a set of FX instruments, detects Williams fractals on
one-minute bars and signals when price breaks the latest swing level.

It can place the breakout trade automatically, move stops to breakeven,
trail them and flatten positions on request. A dashboard connects over
HTTP and receives a market frame every polling interval on a WebSocket.

Orders go to an MT5 terminal through a bridge sidecar, or to the built-in
paper gateway which can be fed from a recorded tick file.`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override app.log_level")
}

// loadConfig reads --config, or the defaults when no file was given.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
