package udl

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/udl-ingest/internal/config"
)

// FetchStats summarizes one bulk fetch run.
type FetchStats struct {
	Downloaded int
	Extracted  int
	KeptAsIs   int // downloads that were not zip archives
}

// Fetcher drives a URL list end to end: download each archive into the raw
// directory, unpack it in place, and pace between downloads so the bulk
// endpoint is not hammered.
type Fetcher struct {
	client   *Client
	rawDir   string
	pacing   time.Duration
	keepZips bool
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher writing into cfg.RawDir.
func NewFetcher(client *Client, cfg *config.Config, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:   client,
		rawDir:   cfg.RawDir,
		pacing:   cfg.FetchPacing,
		keepZips: cfg.KeepZips,
		logger:   logger,
	}
}

// Run downloads every URL in the list file, in order. Archive names get a
// 1-based positional prefix so identically named exports never clobber each
// other. Any download failure aborts the run; a download that is not a zip
// archive is kept as-is and the run continues.
func (f *Fetcher) Run(ctx context.Context, urlsFile string) (FetchStats, error) {
	var stats FetchStats

	urls, err := ReadURLList(urlsFile)
	if err != nil {
		return stats, err
	}
	if len(urls) == 0 {
		return stats, fmt.Errorf("no URLs in %s", urlsFile)
	}

	f.logger.Info("bulk fetch started", "urls", len(urls), "dest", f.rawDir)

	for i, u := range urls {
		name := fmt.Sprintf("%03d_%s", i+1, ArchiveName(u))
		dest := filepath.Join(f.rawDir, name)

		f.logger.Info("downloading archive", "file", name, "index", i+1, "total", len(urls))
		if err := f.client.Download(ctx, u, dest); err != nil {
			return stats, fmt.Errorf("download %s: %w", name, err)
		}
		stats.Downloaded++

		extracted, err := Unzip(dest, f.rawDir)
		switch {
		case errors.Is(err, zip.ErrFormat):
			// Some bulk endpoints serve plain JSON directly.
			f.logger.Warn("download is not a zip archive, keeping as-is", "file", name)
			stats.KeptAsIs++
		case err != nil:
			return stats, fmt.Errorf("extract %s: %w", name, err)
		default:
			stats.Extracted += extracted
			f.logger.Info("extracted archive", "file", name, "files", extracted)
			if !f.keepZips {
				if err := os.Remove(dest); err != nil {
					f.logger.Warn("could not remove archive", "file", name, "error", err)
				}
			}
		}

		if i+1 < len(urls) {
			if err := sleepWithContext(ctx, f.pacing); err != nil {
				return stats, err
			}
		}
	}

	f.logger.Info("bulk fetch finished",
		"downloaded", stats.Downloaded,
		"extracted_files", stats.Extracted,
		"kept_as_is", stats.KeptAsIs,
	)
	return stats, nil
}
