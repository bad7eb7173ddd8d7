// Package keyindex tracks which natural keys have already been written to
// the dataset, so reruns over overlapping bulk archives skip rows earlier
// runs landed.
package keyindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/udl-ingest/internal/domain"
)

// Index is a durable set of written key tuples backed by SQLite. Keys are
// recorded only after their batch commits to storage, so a crash between
// write and record re-admits those rows on the next run: duplicates are
// possible after a crash, silent loss is not.
type Index struct {
	db       *sql.DB
	priority []string
}

// Open creates or opens the index database at path. priority is the
// natural-key column order, matching the deduplicator's.
func Open(ctx context.Context, path string, priority []string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open key index %s: %w", path, err)
	}
	// The pipeline is single-threaded; one connection sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping key index %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS written_keys (
			key TEXT PRIMARY KEY
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create key index schema: %w", err)
	}
	return &Index{db: db, priority: priority}, nil
}

// FilterNew returns a copy of the batch holding only rows whose key tuple is
// not yet in the index. Batches without key columns pass through untouched.
func (ix *Index) FilterNew(ctx context.Context, batch *domain.Batch) (*domain.Batch, error) {
	keys := domain.KeyColumns(batch.Schema, ix.priority)
	if len(keys) == 0 {
		return batch, nil
	}

	stmt, err := ix.db.PrepareContext(ctx, `SELECT 1 FROM written_keys WHERE key = ?`)
	if err != nil {
		return nil, fmt.Errorf("prepare key lookup: %w", err)
	}
	defer stmt.Close()

	kept := make([]domain.Row, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		var one int
		err := stmt.QueryRowContext(ctx, domain.CompositeKey(row, keys)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			kept = append(kept, row)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("look up key: %w", err)
		}
	}

	out := *batch
	out.Rows = kept
	return &out, nil
}

// Record stores the key of every row in the batch. Call only after the batch
// has been durably written.
func (ix *Index) Record(ctx context.Context, batch *domain.Batch) error {
	keys := domain.KeyColumns(batch.Schema, ix.priority)
	if len(keys) == 0 || len(batch.Rows) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin key index transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO written_keys (key) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("prepare key insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range batch.Rows {
		if _, err := stmt.ExecContext(ctx, domain.CompositeKey(row, keys)); err != nil {
			return fmt.Errorf("record key: %w", err)
		}
	}
	return tx.Commit()
}

// Size reports how many keys the index holds.
func (ix *Index) Size(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM written_keys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count keys: %w", err)
	}
	return n, nil
}

// Close releases the underlying database.
func (ix *Index) Close() error { return ix.db.Close() }
