// Package cmd defines the CLI commands for the webmentions executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/app"
	"github.com/JakeFAU/webmentions/internal/cache"
	"github.com/JakeFAU/webmentions/internal/config"
	"github.com/JakeFAU/webmentions/internal/delivery"
	"github.com/JakeFAU/webmentions/internal/logging"
	"github.com/JakeFAU/webmentions/internal/runid"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Gather(ctx context.Context) (app.GatherReport, error)
	Send(ctx context.Context) (delivery.Summary, error)
	Migrate(ctx context.Context) (bool, error)
	Serve(ctx context.Context) error
	Store() *cache.Store
	Logger() *zap.Logger
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, runID string) (App, error) {
	return app.Build(ctx, cfg, logger, runID)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "webmentions",
		Short: "Gathers, caches and sends webmentions for a static site.",
		Long: `webmentions keeps a static site's webmention caches up to date.
It looks up the mentions other sites have made of each page, queues the links
each page makes, and later delivers those links as webmentions.`,
		SilenceUsage: true,

		// Builds the application once config is known and stores it on the
		// context for subcommands.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			id, err := runid.New()
			if err != nil {
				return err
			}
			logger = logging.ForRun(logger, cmd.Name(), id)
			zap.ReplaceGlobals(logger)

			ctx := runid.WithContext(cmd.Context(), id)
			appInstance, err := newApp(ctx, cfg, logger, id)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(ctx, appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(cmd.Context())
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); WEBMENTIONS_* env vars override it")

	cmd.AddCommand(newGatherCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCountCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}
