package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDailyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Ingests the official daily disclosure feed once",
		Long: `Fetches today's disclosures from every configured open-data source
and writes them with the feed's conflict and alert settings. A source that
fails does not stop the others, but any failure makes the command exit
non-zero after the summary is printed.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			stats, runErr := appInstance.RunDaily(cmd.Context())
			if err := writeSummary(cmd.OutOrStdout(), stats); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("daily feed: %w", runErr)
			}
			return nil
		}),
	}
}
