package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pricehub/internal/app"
)

var (
	alertUser      string
	alertType      string
	alertSymbol    string
	alertThreshold string
	alertDirection string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "管理持久化的价格告警",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
			return m.ListAlerts(cmd.Context(), alertUser)
		})
	},
}

var alertsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an enabled alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertThreshold == "" {
			return errors.New("--threshold 必须提供")
		}
		threshold, err := decimal.NewFromString(alertThreshold)
		if err != nil {
			return fmt.Errorf("invalid --threshold: %w", err)
		}
		opts := app.CreateAlertOptions{
			UserID:    alertUser,
			Type:      alertType,
			Symbol:    alertSymbol,
			Threshold: threshold,
			Direction: alertDirection,
		}
		return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
			_, err := m.CreateAlert(cmd.Context(), opts)
			return err
		})
	},
}

var alertsEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Re-enable an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAlertEnabled(cmd, args[0], true)
	},
}

var alertsDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Disable an alert without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAlertEnabled(cmd, args[0], false)
	},
}

var alertsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
			return m.DeleteAlert(cmd.Context(), args[0])
		})
	},
}

func setAlertEnabled(cmd *cobra.Command, id string, enabled bool) error {
	return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
		_, err := m.SetAlertEnabled(cmd.Context(), id, enabled)
		return err
	})
}

func init() {
	alertsListCmd.Flags().StringVar(&alertUser, "user", "", "用户 ID")
	_ = alertsListCmd.MarkFlagRequired("user")

	alertsCreateCmd.Flags().StringVar(&alertUser, "user", "", "用户 ID")
	alertsCreateCmd.Flags().StringVar(&alertType, "type", "crypto", "告警类型 crypto|forex|ves")
	alertsCreateCmd.Flags().StringVar(&alertSymbol, "symbol", "BTC", "币种、货币对或 VES 序列")
	alertsCreateCmd.Flags().StringVar(&alertThreshold, "threshold", "", "触发阈值")
	alertsCreateCmd.Flags().StringVar(&alertDirection, "direction", "above", "above|below")
	_ = alertsCreateCmd.MarkFlagRequired("user")

	alertsCmd.AddCommand(alertsListCmd, alertsCreateCmd, alertsEnableCmd, alertsDisableCmd, alertsDeleteCmd)
}
