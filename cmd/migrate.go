package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/database"
)

// openMigrator is replaced in tests.
var openMigrator = func(dsn string, logger *zap.Logger) (migrator, error) {
	return database.Open(dsn, logger)
}

type migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Version(ctx context.Context) (int64, error)
	Close() error
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Applies or inspects the database schema",
		Long:      `Applies pending migrations (up, the default), rolls back the latest one (down), or prints the current schema version.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		Annotations: map[string]string{
			skipAppAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return runMigrate(cmd, s, action)
		},
	}
}

func runMigrate(cmd *cobra.Command, s session, action string) (err error) {
	m, err := openMigrator(s.cfg.DB.DSN, s.logger.Named("migrate"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close migrator: %w", cerr)
		}
	}()

	ctx := cmd.Context()
	switch action {
	case "up":
		if err := m.Up(ctx); err != nil {
			return err
		}
	case "down":
		if err := m.Down(ctx); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}

	v, err := m.Version(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return err
}
