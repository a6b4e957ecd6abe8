package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/api"
	"github.com/JakeFAU/disclosure-monitor/internal/app"
	"github.com/JakeFAU/disclosure-monitor/internal/config"
	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/feed"
	"github.com/JakeFAU/disclosure-monitor/internal/ingest"
	"github.com/JakeFAU/disclosure-monitor/internal/logging"
)

type ctxKey string

const (
	appKey     ctxKey = "app"
	sessionKey ctxKey = "session"

	// skipAppAnnotation marks commands that only need config and a logger.
	skipAppAnnotation = "skip-app"
)

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	RunCrawl(ctx context.Context) (crawler.RunStats, error)
	RunDaily(ctx context.Context) (feed.Stats, error)
	RunRescan(ctx context.Context) (ingest.RescanStats, error)
	APIServer(base context.Context) (*api.Server, *api.RescanTrigger)
}

// session is what every command gets, with or without an App.
type session struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "disclosure-monitor",
		Short: "Ingests company disclosure filings and raises keyword alerts.",
		Long: `disclosure-monitor walks the public disclosure archive month by month,
stores every filing it can parse, and records an alert whenever a filing
mentions a watched keyword. It resumes from its last checkpoint, ingests the
official daily feed on a schedule, and exposes an ops API.`,
		SilenceUsage: true,

		// Load config and build the application before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is the normal case outside local development.
			_ = godotenv.Load()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.Build(cfg.Logging)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), sessionKey, session{cfg: cfg, logger: logger})
			if cmd.Annotations[skipAppAnnotation] != "true" {
				appInstance, err := newApp(ctx, cfg, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},

	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")

	cmd.AddCommand(
		newCrawlCmd(),
		newDailyCmd(),
		newRescanCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute runs the CLI until it finishes or the process is signaled and
// returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for fn and shuts it down when fn returns, whether
// or not fn fails.
func withApp(fn func(cmd *cobra.Command, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close()
		return fn(cmd, appInstance)
	}
}

func resolveSession(ctx context.Context) (session, error) {
	rt, ok := ctx.Value(sessionKey).(session)
	if !ok {
		return session{}, errors.New("configuration not loaded")
	}
	return rt, nil
}
