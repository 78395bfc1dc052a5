package cli

import (
	"github.com/spf13/cobra"

	"pricehub/internal/app"
)

var (
	tokenUser     string
	tokenPlatform string
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "管理设备推送 token",
}

var tokensAddCmd = &cobra.Command{
	Use:   "add TOKEN",
	Short: "Register a push token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
			_, err := m.AddPushToken(cmd.Context(), tokenUser, args[0], tokenPlatform)
			return err
		})
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's push tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
			return m.ListPushTokens(cmd.Context(), tokenUser)
		})
	},
}

var tokensRemoveCmd = &cobra.Command{
	Use:   "remove TOKEN",
	Short: "Unregister a push token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
			return m.RemovePushToken(cmd.Context(), args[0])
		})
	},
}

func init() {
	tokensAddCmd.Flags().StringVar(&tokenUser, "user", "", "用户 ID")
	tokensAddCmd.Flags().StringVar(&tokenPlatform, "platform", "", "ios|android")
	_ = tokensAddCmd.MarkFlagRequired("user")

	tokensListCmd.Flags().StringVar(&tokenUser, "user", "", "用户 ID")
	_ = tokensListCmd.MarkFlagRequired("user")

	tokensCmd.AddCommand(tokensAddCmd, tokensListCmd, tokensRemoveCmd)
}
