package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"flowmill/internal/archive"
	"flowmill/internal/config"
	"flowmill/internal/janitor"
	"flowmill/internal/logging"
	"flowmill/internal/snapshot/filestore"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the snapshot stores and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := slog.New(logging.NewHandler(os.Stderr, cfg.Log.Format, level))

	factory := filestore.NewFactory(cfg.NodeID, logger)
	defer func() { _ = factory.Close() }()

	sweeper, err := janitor.New(janitor.Config{
		Interval: cfg.Janitor.Interval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sweeper.Stop() }()

	var uploaders []*archive.Uploader
	defer func() {
		for _, u := range uploaders {
			u.Close()
		}
	}()
	var client archive.API
	if cfg.Archive.Enabled {
		client, err = archive.NewClient(ctx, cfg.Archive.Region)
		if err != nil {
			return err
		}
	}

	for _, partition := range cfg.Partitions {
		if _, err := factory.CreateReceivableStore(cfg.DataDir, partition); err != nil {
			return err
		}
	}
	for _, store := range factory.Stores() {
		if err := sweeper.Register(store); err != nil {
			return err
		}
		if client != nil {
			uploader := archive.NewUploader(archive.Config{
				Bucket:          cfg.Archive.Bucket,
				Prefix:          cfg.Archive.Prefix,
				Concurrency:     cfg.Archive.Concurrency,
				RateBytesPerSec: cfg.Archive.RateBytesPerSec(),
				QueueDepth:      cfg.Archive.QueueDepth,
				NodeID:          cfg.NodeID,
				Logger:          logger,
			}, store.Partition(), client)
			store.AddListener(uploader)
			uploaders = append(uploaders, uploader)
		}
	}

	sweeper.Start()
	logger.Info("snapshot engine ready",
		"node", cfg.NodeID,
		"partitions", len(cfg.Partitions),
		"dataDir", cfg.DataDir,
		"archive", cfg.Archive.Enabled)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
