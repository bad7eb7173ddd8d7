package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/udl-ingest/internal/config"
	"github.com/couchcryptid/udl-ingest/internal/domain"
	"github.com/couchcryptid/udl-ingest/internal/observability"
	"github.com/couchcryptid/udl-ingest/internal/pipeline"
)

// --- mocks ---

type mockWriter struct {
	batches []*domain.Batch
	err     error
}

func (m *mockWriter) WriteBatch(_ context.Context, b *domain.Batch) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.batches = append(m.batches, b)
	return len(b.Rows), nil
}

// mockIndex remembers composite keys across WriteBatch calls, like the real
// durable index does across runs.
type mockIndex struct {
	seen     map[string]bool
	recorded int
}

func newMockIndex() *mockIndex {
	return &mockIndex{seen: map[string]bool{}}
}

func (m *mockIndex) FilterNew(_ context.Context, b *domain.Batch) (*domain.Batch, error) {
	keys := domain.KeyColumns(b.Schema, domain.DefaultRules().DedupKeys)
	if len(keys) == 0 {
		return b, nil
	}
	kept := make([]domain.Row, 0, len(b.Rows))
	for _, row := range b.Rows {
		if !m.seen[domain.CompositeKey(row, keys)] {
			kept = append(kept, row)
		}
	}
	out := *b
	out.Rows = kept
	return &out, nil
}

func (m *mockIndex) Record(_ context.Context, b *domain.Batch) error {
	keys := domain.KeyColumns(b.Schema, domain.DefaultRules().DedupKeys)
	for _, row := range b.Rows {
		m.seen[domain.CompositeKey(row, keys)] = true
		m.recorded++
	}
	return nil
}

// --- helpers ---

func testConfig(rawDir string) *config.Config {
	return &config.Config{
		RawDir:        rawDir,
		ChunkSize:     50000,
		ParseStrategy: pipeline.StrategyStreaming,
		FailFast:      true,
	}
}

func writeRaw(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newPipeline(cfg *config.Config, w pipeline.BatchWriter, ix pipeline.KeyIndex) *pipeline.Pipeline {
	return pipeline.New(cfg, domain.DefaultRules(), w, ix, slog.Default(), observability.NewMetrics())
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "b.json", `[{"satNo": 2, "epoch": "2024-01-02T00:00:00Z"}]`)
	writeRaw(t, dir, "a.json", `{"satNo": 1, "epoch": "2024-01-01T00:00:00Z"}
{"satNo": 1, "epoch": "2024-01-01T06:00:00Z"}
`)

	w := &mockWriter{}
	stats, err := newPipeline(testConfig(dir), w, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 3, stats.RowsRead)
	assert.Equal(t, 3, stats.RowsWritten)
	assert.Zero(t, stats.DuplicatesDropped)

	// Files process in sorted order regardless of creation order.
	require.Len(t, w.batches, 2)
	assert.Equal(t, "a.json", w.batches[0].SourceFile)
	assert.Equal(t, "b.json", w.batches[1].SourceFile)
	assert.Equal(t, 1, w.batches[0].Index)
}

func TestPipeline_Run_ChunksLargeFiles(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "big.json", `{"satNo": 1}
{"satNo": 2}
{"satNo": 3}
{"satNo": 4}
{"satNo": 5}
`)

	cfg := testConfig(dir)
	cfg.ChunkSize = 2
	w := &mockWriter{}

	stats, err := newPipeline(cfg, w, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	require.Len(t, w.batches, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{w.batches[0].Index, w.batches[1].Index, w.batches[2].Index})
	assert.Len(t, w.batches[0].Rows, 2)
	assert.Len(t, w.batches[2].Rows, 1)
}

func TestPipeline_Run_SkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "sparse.json", `{"satNo": 1}

# interleaved comment
{"satNo": 2}
`)

	w := &mockWriter{}
	stats, err := newPipeline(testConfig(dir), w, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.RowsRead)
	assert.Equal(t, 2, stats.RowsWritten)
}

func TestPipeline_Run_DeduplicatesWithinChunk(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "dup.json", `{"satNo": 5, "epoch": "2024-01-01T00:00:00Z", "tags": "first"}
{"satNo": 5, "epoch": "2024-01-01T00:00:00Z", "tags": "second"}
{"satNo": 6, "epoch": "2024-01-01T00:00:00Z", "tags": "other"}
`)

	w := &mockWriter{}
	stats, err := newPipeline(testConfig(dir), w, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, stats.RowsRead)
	assert.Equal(t, 2, stats.RowsWritten)
	assert.Equal(t, 1, stats.DuplicatesDropped)

	require.Len(t, w.batches, 1)
	require.Len(t, w.batches[0].Rows, 2)
	assert.Equal(t, "second", w.batches[0].Rows[0]["tags"], "later duplicate must win")
}

func TestPipeline_Run_EmptyDirectory(t *testing.T) {
	w := &mockWriter{}
	stats, err := newPipeline(testConfig(t.TempDir()), w, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, stats.Files)
	assert.Empty(t, w.batches)
}

func TestPipeline_Run_MalformedFailFast(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "a.json", `{"satNo": 1}
{"satNo": broken}
`)
	writeRaw(t, dir, "b.json", `{"satNo": 2}`)

	w := &mockWriter{}
	stats, err := newPipeline(testConfig(dir), w, nil).Run(context.Background())

	var malformed *pipeline.MalformedRecordError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 2, malformed.Record)
	assert.Zero(t, stats.Files)
	assert.Empty(t, w.batches, "the bad record is in the first chunk, so nothing should be written")
}

func TestPipeline_Run_MalformedSkipsFileWhenNotFailFast(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "a.json", `{"satNo": 1}
{"satNo": broken}
`)
	writeRaw(t, dir, "b.json", `{"satNo": 2}`)

	cfg := testConfig(dir)
	cfg.FailFast = false
	w := &mockWriter{}

	stats, err := newPipeline(cfg, w, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, w.batches, 1)
	assert.Equal(t, "b.json", w.batches[0].SourceFile)
}

func TestPipeline_Run_EarlierChunksSurviveMidFileFailure(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "a.json", `{"satNo": 1}
{"satNo": 2}
{"satNo": broken}
`)

	cfg := testConfig(dir)
	cfg.ChunkSize = 2
	cfg.FailFast = false
	w := &mockWriter{}

	stats, err := newPipeline(cfg, w, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, w.batches, 1, "the complete first chunk should have been written")
	assert.Len(t, w.batches[0].Rows, 2)
	assert.Equal(t, 2, stats.RowsWritten)
}

func TestPipeline_Run_WriteErrorAlwaysFatal(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "a.json", `{"satNo": 1}`)
	writeRaw(t, dir, "b.json", `{"satNo": 2}`)

	cfg := testConfig(dir)
	cfg.FailFast = false
	w := &mockWriter{err: errors.New("disk full")}

	_, err := newPipeline(cfg, w, nil).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestPipeline_Run_KeyIndexFiltersAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "a.json", `{"satNo": 5, "epoch": "2024-01-01T00:00:00Z"}`)
	writeRaw(t, dir, "b.json", `{"satNo": 5, "epoch": "2024-01-01T00:00:00Z"}
{"satNo": 7, "epoch": "2024-01-01T00:00:00Z"}
`)

	w := &mockWriter{}
	ix := newMockIndex()
	stats, err := newPipeline(testConfig(dir), w, ix).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, stats.RowsRead)
	assert.Equal(t, 2, stats.RowsWritten)
	assert.Equal(t, 1, stats.RowsSkipped)
	assert.Equal(t, 2, ix.recorded)

	require.Len(t, w.batches, 2)
	assert.Len(t, w.batches[0].Rows, 1)
	assert.Len(t, w.batches[1].Rows, 1, "the repeated key should have been filtered out")
}

func TestPipeline_Run_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "a.json", `{"satNo": 1}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &mockWriter{}
	_, err := newPipeline(testConfig(dir), w, nil).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.batches)
}

func TestPipeline_Run_CountsNulledCells(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, "a.json", `{"satNo": "garbage", "meanMotion": "still garbage"}`)

	w := &mockWriter{}
	stats, err := newPipeline(testConfig(dir), w, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, stats.NulledCells)
	assert.Equal(t, 1, stats.RowsWritten, "nulled cells never reject the row")
}
