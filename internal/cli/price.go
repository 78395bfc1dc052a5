package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pricehub/internal/app"
)

var priceCurrency string

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Fetch current quotes from the upstream providers",
}

var priceCryptoCmd = &cobra.Command{
	Use:   "crypto SYMBOL [SYMBOL...]",
	Short: "Crypto spot prices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var symbols []string
		for _, arg := range args {
			symbols = append(symbols, strings.Split(arg, ",")...)
		}
		return getApp().Price(cmd.Context(), cmd.OutOrStdout(), app.PriceOptions{
			Kind:     "crypto",
			Symbols:  symbols,
			Currency: priceCurrency,
		})
	},
}

var priceForexCmd = &cobra.Command{
	Use:   "forex FROM TO",
	Short: "Fiat exchange rate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Price(cmd.Context(), cmd.OutOrStdout(), app.PriceOptions{
			Kind: "forex",
			From: args[0],
			To:   args[1],
		})
	},
}

var priceVESCmd = &cobra.Command{
	Use:   "ves",
	Short: "Bolívar oficial and paralelo rates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().Price(cmd.Context(), cmd.OutOrStdout(), app.PriceOptions{Kind: "ves"}); err != nil {
			return fmt.Errorf("ves rate: %w", err)
		}
		return nil
	},
}

func init() {
	priceCryptoCmd.Flags().StringVar(&priceCurrency, "currency", "USD", "Quote currency")
	priceCmd.AddCommand(priceCryptoCmd, priceForexCmd, priceVESCmd)
}
