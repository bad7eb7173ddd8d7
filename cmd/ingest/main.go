// Command ingest converts the JSON files under the raw directory into a
// date-partitioned parquet dataset. It is a batch job: it processes every
// input file once, pushes run metrics if a Pushgateway is configured, and
// exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/udl-ingest/internal/adapter/keyindex"
	"github.com/couchcryptid/udl-ingest/internal/adapter/parquetds"
	"github.com/couchcryptid/udl-ingest/internal/config"
	"github.com/couchcryptid/udl-ingest/internal/domain"
	"github.com/couchcryptid/udl-ingest/internal/observability"
	"github.com/couchcryptid/udl-ingest/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)

	// Run in a helper so deferred cleanup sees the error path too.
	if err := run(cfg, logger); err != nil {
		logger.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules := domain.DefaultRules()
	if len(cfg.KeepColumns) > 0 {
		rules.KeepColumns = cfg.KeepColumns
		logger.Info("output restricted to configured columns", "columns", cfg.KeepColumns)
	}

	metrics := observability.NewMetrics()
	writer := parquetds.NewWriter(cfg.DatasetDir(), rules.PartitionColumn, logger)

	// The key index is optional (DEDUP_INDEX); without it dedup is per-chunk only.
	var index pipeline.KeyIndex
	if cfg.DedupIndex {
		idx, err := keyindex.Open(ctx, cfg.DedupIndexPath, rules.DedupKeys)
		if err != nil {
			return fmt.Errorf("open key index: %w", err)
		}
		defer func() {
			if err := idx.Close(); err != nil {
				logger.Error("key index close error", "error", err)
			}
		}()
		index = idx
		logger.Info("cross-run key index enabled", "path", cfg.DedupIndexPath)
	}

	stats, runErr := pipeline.New(cfg, rules, writer, index, logger, metrics).Run(ctx)

	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(cfg.PushgatewayURL, cfg.MetricsJob); err != nil {
			logger.Warn("metrics push failed", "gateway", cfg.PushgatewayURL, "error", err)
		} else {
			logger.Info("metrics pushed", "gateway", cfg.PushgatewayURL, "job", cfg.MetricsJob)
		}
	}

	if runErr != nil {
		return runErr
	}

	logger.Info("dataset ready",
		"dir", cfg.DatasetDir(),
		"files", stats.Files,
		"rows_written", stats.RowsWritten,
	)
	return nil
}
