package cli

import (
	"github.com/spf13/cobra"

	"pricehub/internal/app"
)

var profileID string

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Create, rename or show a user profile",
}

var profileSetCmd = &cobra.Command{
	Use:   "set DISPLAY_NAME",
	Short: "Create a profile, or rename the one given by --id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
			_, err := m.SetProfile(cmd.Context(), profileID, args[0])
			return err
		})
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WithAdmin(cmd.Context(), cmd.OutOrStdout(), func(m *app.Admin) error {
			return m.ShowProfile(cmd.Context(), args[0])
		})
	},
}

func init() {
	profileSetCmd.Flags().StringVar(&profileID, "id", "", "已有 profile 的 ID (留空则新建)")
	profileCmd.AddCommand(profileSetCmd, profileShowCmd)
}
