package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/logging"
	"pricetrail/resolver"
	"pricetrail/scheduler"
	"pricetrail/scraper"
	"pricetrail/session"
	"pricetrail/storage"
)

func init() {
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Runs the scheduler and the command poller until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger.Info("Starting pricetrail", zap.Int("sites", len(cfg.Sites)))
		for id, site := range cfg.Sites {
			logger.Info("Loaded site", zap.String("id", id), zap.String("name", site.Name), zap.Int("targets", len(site.Targets)))
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		gate, err := buildGate(ctx, store)
		if err != nil {
			return err
		}

		sched := scheduler.New(cfg.Scheduler, gate, store, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		logger.Info("Daemon running. Press Ctrl+C to stop.")

		<-ctx.Done()
		logger.Info("Shutting down...")
		sched.Stop()
		logger.Info("Goodbye!")
		return nil
	},
}

// openStore opens the configured backend and syncs the registry with the
// site files.
func openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Storage.DatabaseURL != "" {
		logger.Info("Connected to Postgres", zap.String("url", logging.MaskConnectionString(cfg.Storage.DatabaseURL)))
	} else {
		logger.Info("SQLite database", zap.String("path", cfg.Storage.DBPath))
	}

	n, err := store.SeedTargets(ctx, cfg.Sites)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("seed targets: %w", err)
	}
	logger.Info("Target registry synced", zap.Int("targets", n))
	return store, nil
}

func buildGate(ctx context.Context, store storage.Store) (*scheduler.Gate, error) {
	artifacts, err := storage.NewArtifactStore(ctx, cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	res := resolver.New(cfg.Policy, logger)

	return scheduler.NewGate(cfg.Scheduler, scheduler.Deps{
		Targets:  store,
		Scraper:  scraper.NewLifecycle(store, store, cfg, res, logger),
		Launcher: browser.NewPlaywrightLauncher(cfg.Browser, logger),
		Session: session.Options{
			Browser:   cfg.Browser,
			Policy:    cfg.Policy,
			Resolver:  res,
			Artifacts: artifacts,
			Logger:    logger,
		},
		Runs:       store,
		Reconciler: store,
		Logger:     logger,
	})
}
