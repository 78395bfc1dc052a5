package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricehub/internal/app"
)

var (
	simulateType      string
	simulateSymbol    string
	simulateThreshold string
	simulateDirection string
	simulatePrice     string
	simulateToken     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条价格告警并输出推送内容",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateThreshold == "" {
			return errors.New("--threshold 必须提供")
		}
		threshold, err := decimal.NewFromString(simulateThreshold)
		if err != nil {
			return fmt.Errorf("invalid --threshold: %w", err)
		}

		opts := app.SimulateOptions{
			Type:      simulateType,
			Symbol:    simulateSymbol,
			Threshold: threshold,
			Direction: simulateDirection,
			Token:     simulateToken,
		}
		if simulatePrice != "" {
			price, err := decimal.NewFromString(simulatePrice)
			if err != nil {
				return fmt.Errorf("invalid --price: %w", err)
			}
			opts.Price = &price
		}

		return getApp().SimulateAlert(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateType, "type", "crypto", "告警类型 crypto|forex|ves")
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTC", "币种、货币对或 VES 序列")
	simulateCmd.Flags().StringVar(&simulateThreshold, "threshold", "", "触发阈值")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", "above", "above|below")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "覆盖实时价格")
	simulateCmd.Flags().StringVar(&simulateToken, "token", "", "真实推送的 Expo token (可选)")
}
