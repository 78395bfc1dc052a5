package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one alert evaluation tick and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().Evaluate(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}
