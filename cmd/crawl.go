package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
)

// blockCooldown is how long operators should wait after the archive blocks us.
const blockCooldown = 30 * time.Minute

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Resumes the archive backfill from the saved checkpoint",
		Long: `Walks the disclosure archive backwards from the saved cursor, one
(year, month, market, page) at a time, until the configured floor year is
passed. Progress is checkpointed after every page so an interrupted crawl
resumes where it stopped. If the archive serves its block page the crawl
stops immediately and exits non-zero.`,
		RunE: withApp(runCrawlCommand),
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, appInstance App) error {
	logger := appInstance.Logger()

	stats, err := appInstance.RunCrawl(cmd.Context())
	switch {
	case errors.Is(err, crawler.ErrBlocked):
		return fmt.Errorf("%w at %s: wait at least %s before resuming", err, stats.End, blockCooldown)
	case errors.Is(err, context.Canceled):
		logger.Info("crawl interrupted, progress saved", zap.Stringer("cursor", stats.End))
		return nil
	case err != nil:
		return fmt.Errorf("run crawler: %w", err)
	}

	logger.Info("crawl command finished")
	return writeSummary(cmd.OutOrStdout(), stats)
}

// writeSummary prints a run summary as indented JSON.
func writeSummary(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
