// Command fetch downloads UDL bulk export archives listed in the URL file and
// unpacks them into the raw directory, ready for ingest. Credentials come
// from UDL_TOKEN or API_USERNAME/API_PASSWORD.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/udl-ingest/internal/adapter/udl"
	"github.com/couchcryptid/udl-ingest/internal/config"
	"github.com/couchcryptid/udl-ingest/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("fetch failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := udl.NewClient(cfg, logger)
	fetcher := udl.NewFetcher(client, cfg, logger)

	stats, err := fetcher.Run(ctx, cfg.BulkURLsFile)
	logger.Info("fetch finished",
		"downloaded", stats.Downloaded,
		"extracted", stats.Extracted,
		"kept_as_is", stats.KeptAsIs,
	)
	return err
}
