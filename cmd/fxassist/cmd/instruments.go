package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxassist/registry"
)

var instrumentsCmd = &cobra.Command{
	Use:   "instruments",
	Short: "List tracked instruments and their trading settings",
	Long: `Print the instrument registry from the configured store.

The store is created and seeded with EURUSD when it does not exist yet.

Example:
  fxassist instruments -c fxassist.yaml`,
	RunE: runInstruments,
}

func init() {
	rootCmd.AddCommand(instrumentsCmd)
}

func runInstruments(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := registry.OpenStore(cfg.Registry.Store, cfg.Registry.Path)
	if err != nil {
		return err
	}
	defer closeStore(store)

	reg, err := registry.Open(store, zerolog.Nop())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTRUMENT\tAUTO\tLOTS\tSL\tTP\tSTRATEGY")
	all := reg.All()
	for _, name := range reg.Names() {
		s := all[name]
		fmt.Fprintf(w, "%s\t%t\t%.2f\t%g\t%g\t%s\n", name, s.AutoTrading, s.LotSize, s.SLPips, s.TPPips, s.Strategy)
	}
	return w.Flush()
}

func closeStore(st registry.Store) {
	if c, ok := st.(io.Closer); ok {
		_ = c.Close()
	}
}
