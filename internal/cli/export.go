package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pricehub/internal/app"
)

var (
	exportCurrency  string
	exportDays      int
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export crypto|forex|ves [SYMBOL|PAIR]",
	Short: "Export a daily history as CSV and/or PNG chart",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Kind:      args[0],
			Currency:  exportCurrency,
			Days:      exportDays,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}
		if len(args) == 2 {
			opts.Symbol = args[1]
		} else if opts.Kind != "ves" {
			return fmt.Errorf("%s export needs a symbol or pair", opts.Kind)
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCurrency, "currency", "USD", "Quote currency for crypto history")
	exportCmd.Flags().IntVar(&exportDays, "days", 0, "History window in days (0 uses the per-domain default)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (0 keeps all)")
}
