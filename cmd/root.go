// Package cmd defines and implements the CLI commands for the genealogy-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/app"
	"github.com/JakeFAU/genealogy-crawler/internal/config"
	"github.com/JakeFAU/genealogy-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can inject
// in-memory services.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "genealogy-crawler",
		Short: "Incremental crawler for the Mathematics Genealogy Project.",
		Long: `genealogy-crawler scans the record database by sequential ID, extracts
people and advisor/student relations, and keeps a deduplicated graph that
grows across repeated runs. Each run resumes where the previous one stopped.`,
		SilenceUsage: true,

		// Runs after flags parse and before the subcommand's RunE: config,
		// logger and services are built here and injected via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyFlagOverrides(cmd.Flags(), &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment uses the GENEALOGY_ prefix")
	cmd.PersistentFlags().String("output-dir", "", "directory for the data file and run snapshots (default \"output\")")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// applyFlagOverrides copies explicitly set command flags over the loaded
// configuration. Flags left at their defaults never override config or env.
func applyFlagOverrides(flags *pflag.FlagSet, cfg *config.Config) error {
	ints := map[string]*int{
		"workers":       &cfg.Crawler.Workers,
		"batch-size":    &cfg.Crawler.BatchSize,
		"404-threshold": &cfg.Crawler.NotFoundThreshold,
		"start-id":      &cfg.Crawler.StartID,
		"limit":         &cfg.Crawler.Limit,
		"port":          &cfg.Server.Port,
	}
	for name, dst := range ints {
		if !changed(flags, name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return fmt.Errorf("read --%s: %w", name, err)
		}
		*dst = v
	}

	strs := map[string]*string{
		"output-dir":    &cfg.Output.Dir,
		"data-file":     &cfg.Output.DataFile,
		"metadata-file": &cfg.Output.MetadataFile,
	}
	for name, dst := range strs {
		if !changed(flags, name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return fmt.Errorf("read --%s: %w", name, err)
		}
		*dst = v
	}
	return nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. Any command error exits non-zero.
// SIGINT and SIGTERM cancel the command context; crawl treats that as a
// normal stop and still persists its results.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
