package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/udl-ingest/internal/adapter/parquetds"
	"github.com/couchcryptid/udl-ingest/internal/domain"
)

func writeDataset(t *testing.T, batches ...*domain.Batch) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "elset_history_aodr")
	w := parquetds.NewWriter(root, "epoch_date", slog.Default())
	for _, b := range batches {
		_, err := w.WriteBatch(context.Background(), b)
		require.NoError(t, err)
	}
	return root
}

func partitionedBatch(src string) *domain.Batch {
	epoch := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schema := domain.BuildSchema(
		[]string{"epoch", "satNo", "epoch_date"},
		map[string]domain.ColumnKind{
			"epoch":      domain.KindTimestamp,
			"satNo":      domain.KindNullableInt,
			"epoch_date": domain.KindDate,
		},
	)
	return &domain.Batch{
		Rows: []domain.Row{
			{"epoch": epoch, "satNo": int64(5), "epoch_date": day},
			{"epoch": epoch.Add(time.Hour), "satNo": int64(6), "epoch_date": day},
			{"epoch": nil, "satNo": int64(7), "epoch_date": nil},
		},
		Schema:     schema,
		SourceFile: src,
		Index:      1,
	}
}

func flatBatch(src string, kind domain.ColumnKind, satNo any) *domain.Batch {
	schema := domain.BuildSchema([]string{"satNo"}, map[string]domain.ColumnKind{"satNo": kind})
	return &domain.Batch{
		Rows:       []domain.Row{{"satNo": satNo}},
		Schema:     schema,
		SourceFile: src,
		Index:      1,
	}
}

func TestRunValidDataset(t *testing.T) {
	root := writeDataset(t, partitionedBatch("day1.json"))

	assert.Equal(t, 0, run(root))
}

func TestRunFailsOnMixedColumnTypes(t *testing.T) {
	root := writeDataset(t,
		flatBatch("a.json", domain.KindNullableInt, int64(5)),
		flatBatch("b.json", domain.KindString, "00005"),
	)

	assert.Equal(t, 1, run(root), "one column name with two physical types must fail")
}

func TestRunFailsOnDuplicateKeysWithinFile(t *testing.T) {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	schema := domain.BuildSchema(
		[]string{"epoch", "satNo"},
		map[string]domain.ColumnKind{
			"epoch": domain.KindTimestamp,
			"satNo": domain.KindNullableInt,
		},
	)
	batch := &domain.Batch{
		Rows: []domain.Row{
			{"epoch": epoch, "satNo": int64(5)},
			{"epoch": epoch, "satNo": int64(5)},
		},
		Schema:     schema,
		SourceFile: "dup.json",
		Index:      1,
	}
	root := writeDataset(t, batch)

	assert.Equal(t, 1, run(root))
}

func TestRunFailsOnPartitionMismatch(t *testing.T) {
	// The row claims Jan 1 as its partition but its epoch falls on Jan 2.
	schema := domain.BuildSchema(
		[]string{"epoch", "epoch_date"},
		map[string]domain.ColumnKind{
			"epoch":      domain.KindTimestamp,
			"epoch_date": domain.KindDate,
		},
	)
	batch := &domain.Batch{
		Rows: []domain.Row{{
			"epoch":      time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
			"epoch_date": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
		Schema:     schema,
		SourceFile: "skewed.json",
		Index:      1,
	}
	root := writeDataset(t, batch)

	assert.Equal(t, 1, run(root))
}

func TestRunFailsOnStrayFiles(t *testing.T) {
	root := writeDataset(t, partitionedBatch("day1.json"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.txt"), []byte("notes"), 0o644))

	assert.Equal(t, 1, run(root))
}

func TestRunFailsOnMissingRoot(t *testing.T) {
	assert.Equal(t, 1, run(filepath.Join(t.TempDir(), "nope")))
}
