package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/couchcryptid/udl-ingest/internal/config"
	"github.com/couchcryptid/udl-ingest/internal/domain"
	"github.com/couchcryptid/udl-ingest/internal/observability"
)

// BatchWriter persists one normalized batch and reports how many rows landed.
type BatchWriter interface {
	WriteBatch(ctx context.Context, batch *domain.Batch) (int, error)
}

// KeyIndex filters rows whose natural key was written by an earlier run and
// records keys once their batch lands. Optional; a nil index disables
// cross-run filtering.
type KeyIndex interface {
	FilterNew(ctx context.Context, batch *domain.Batch) (*domain.Batch, error)
	Record(ctx context.Context, batch *domain.Batch) error
}

// RunStats summarizes one ingestion run.
type RunStats struct {
	Files             int
	FilesFailed       int
	Batches           int
	RowsRead          int
	RowsWritten       int
	DuplicatesDropped int
	RowsSkipped       int
	NulledCells       int
}

// Pipeline drives ingestion: enumerate input files in sorted order, chunk
// their records, normalize, dedupe, and write.
type Pipeline struct {
	normalizer *domain.Normalizer
	rules      domain.Rules
	writer     BatchWriter
	index      KeyIndex
	logger     *slog.Logger
	metrics    *observability.Metrics

	rawDir    string
	chunkSize int
	strategy  string
	failFast  bool
}

// New creates a Pipeline from config and adapters. index may be nil.
func New(cfg *config.Config, rules domain.Rules, writer BatchWriter, index KeyIndex, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		normalizer: domain.NewNormalizer(rules),
		rules:      rules,
		writer:     writer,
		index:      index,
		logger:     logger,
		metrics:    metrics,
		rawDir:     cfg.RawDir,
		chunkSize:  cfg.ChunkSize,
		strategy:   cfg.ParseStrategy,
		failFast:   cfg.FailFast,
	}
}

// Run ingests every *.json file under the raw directory. Storage and context
// errors always abort the run. Malformed input aborts only under fail-fast;
// otherwise the rest of the offending file is skipped and the run continues
// with the next file.
func (p *Pipeline) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats

	files, err := filepath.Glob(filepath.Join(p.rawDir, "*.json"))
	if err != nil {
		return stats, fmt.Errorf("list input files: %w", err)
	}
	sort.Strings(files)

	if len(files) == 0 {
		p.logger.Info("no input files found", "dir", p.rawDir)
		return stats, nil
	}

	p.logger.Info("ingestion started",
		"files", len(files),
		"chunk_size", p.chunkSize,
		"strategy", p.strategy,
		"fail_fast", p.failFast,
	)

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		p.logger.Info("processing file", "file", filepath.Base(path), "index", i+1, "total", len(files))

		if err := p.processFile(ctx, path, &stats); err != nil {
			if p.failFast || !isFileError(err) || ctx.Err() != nil {
				return stats, err
			}
			stats.FilesFailed++
			p.metrics.FilesFailed.Inc()
			p.logger.Error("skipping rest of file", "file", filepath.Base(path), "error", err)
			continue
		}
		stats.Files++
		p.metrics.FilesProcessed.Inc()
	}

	p.logger.Info("ingestion finished",
		"files", stats.Files,
		"files_failed", stats.FilesFailed,
		"batches", stats.Batches,
		"rows_read", stats.RowsRead,
		"rows_written", stats.RowsWritten,
		"duplicates_dropped", stats.DuplicatesDropped,
		"rows_skipped", stats.RowsSkipped,
		"cells_nulled", stats.NulledCells,
	)
	return stats, nil
}

// isFileError reports whether err is confined to one input file.
func isFileError(err error) bool {
	var malformed *MalformedRecordError
	var detect *FormatDetectionError
	return errors.As(err, &malformed) || errors.As(err, &detect)
}

func (p *Pipeline) processFile(ctx context.Context, path string, stats *RunStats) error {
	it, err := openRecords(path, p.strategy)
	if err != nil {
		return err
	}
	defer it.Close()

	src := filepath.Base(path)
	chunks := newChunker(it, p.chunkSize)
	for chunkIdx := 1; ; chunkIdx++ {
		records, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.processChunk(ctx, src, chunkIdx, records, stats); err != nil {
			return err
		}
	}
}

// processChunk runs one normalize-dedupe-write cycle.
func (p *Pipeline) processChunk(ctx context.Context, src string, chunkIdx int, records []domain.RawRecord, stats *RunStats) error {
	start := time.Now()

	stats.RowsRead += len(records)
	p.metrics.RowsRead.Add(float64(len(records)))

	batch, nulled := p.normalizer.NormalizeBatch(records)
	batch.SourceFile = src
	batch.Index = chunkIdx
	if nulled > 0 {
		stats.NulledCells += nulled
		p.metrics.CoercionNulls.Add(float64(nulled))
		p.logger.Debug("coercion nulled cells", "file", src, "chunk", chunkIdx, "cells", nulled)
	}

	rows, dropped := domain.Dedupe(batch.Rows, batch.Schema, p.rules.DedupKeys)
	batch.Rows = rows
	if dropped > 0 {
		stats.DuplicatesDropped += dropped
		p.metrics.DuplicatesDropped.Add(float64(dropped))
	}

	if p.index != nil {
		before := len(batch.Rows)
		filtered, err := p.index.FilterNew(ctx, batch)
		if err != nil {
			return fmt.Errorf("filter batch %s/%d against key index: %w", src, chunkIdx, err)
		}
		batch = filtered
		if skipped := before - len(batch.Rows); skipped > 0 {
			stats.RowsSkipped += skipped
			p.metrics.RowsSkippedByIndex.Add(float64(skipped))
		}
	}

	if len(batch.Rows) == 0 || len(batch.Schema.Fields) == 0 {
		p.logger.Debug("nothing to write", "file", src, "chunk", chunkIdx)
		return nil
	}

	written, err := p.writer.WriteBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("write batch %s/%d: %w", src, chunkIdx, err)
	}

	if p.index != nil {
		if err := p.index.Record(ctx, batch); err != nil {
			return fmt.Errorf("record keys for batch %s/%d: %w", src, chunkIdx, err)
		}
	}

	stats.Batches++
	stats.RowsWritten += written
	p.metrics.BatchesWritten.Inc()
	p.metrics.RowsWritten.Add(float64(written))
	p.metrics.BatchRows.Observe(float64(len(batch.Rows)))
	p.metrics.BatchDuration.Observe(time.Since(start).Seconds())

	p.logger.Info("wrote batch", "file", src, "chunk", chunkIdx, "rows", written, "duplicates_dropped", dropped)
	return nil
}
