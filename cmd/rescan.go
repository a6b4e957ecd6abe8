package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRescanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Re-matches stored disclosures against the current keyword list",
		Long: `Walks every stored disclosure and records alerts for keywords added
since it was ingested. Existing alerts are left alone, so the command is
safe to repeat.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			stats, err := appInstance.RunRescan(cmd.Context())
			if err != nil {
				return fmt.Errorf("rescan: %w", err)
			}
			return writeSummary(cmd.OutOrStdout(), stats)
		}),
	}
}
