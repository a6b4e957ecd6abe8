package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/feed"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the ops API, the daily feed schedule and an optional background crawl",
		Long: `Starts the ops HTTP server (health, metrics, checkpoint, alerts, runs and
rescan endpoints), schedules the daily feed with cron when feed.enabled is
set, and resumes the archive crawl in the background when
crawl.background is set. SIGINT or SIGTERM drains everything and exits.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			if migrate {
				s, err := resolveSession(cmd.Context())
				if err != nil {
					return err
				}
				if err := runMigrate(cmd, s, "up"); err != nil {
					return err
				}
			}
			return runServe(cmd.Context(), appInstance)
		}),
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(ctx context.Context, a App) error {
	cfg := a.Config()
	logger := a.Logger()

	apiServer, rescans := a.APIServer(ctx)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var scheduler *feed.Scheduler
	if cfg.Feed.Enabled {
		s, err := feed.NewScheduler(ctx, cfg.Feed.Schedule, cfg.Location(), func(ctx context.Context) error {
			_, err := a.RunDaily(ctx)
			return err
		}, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		scheduler = s
		scheduler.Start()
		logger.Info("daily feed scheduled", zap.String("schedule", cfg.Feed.Schedule), zap.String("timezone", cfg.Crawl.Timezone))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	if cfg.Crawl.Background {
		g.Go(func() error {
			stats, err := a.RunCrawl(gctx)
			switch {
			case err == nil:
				logger.Info("background crawl reached floor year", zap.Stringer("cursor", stats.End))
			case errors.Is(err, crawler.ErrBlocked):
				logger.Error("background crawl blocked; restart after cooldown",
					zap.Stringer("cursor", stats.End), zap.Duration("cooldown", blockCooldown))
			case errors.Is(err, context.Canceled):
			default:
				logger.Error("background crawl failed", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		if scheduler != nil {
			select {
			case <-scheduler.Stop().Done():
			case <-shutdownCtx.Done():
				logger.Warn("scheduled feed still running at shutdown")
			}
		}
		rescans.Wait()
		return nil
	})

	err := g.Wait()
	logger.Info("shutdown complete")
	return err
}
