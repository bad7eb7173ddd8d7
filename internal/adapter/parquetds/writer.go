// Package parquetds persists normalized batches as a hive-partitioned
// Parquet dataset on local disk.
package parquetds

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/zeebo/xxh3"

	"github.com/couchcryptid/udl-ingest/internal/domain"
)

// nullPartitionDir is the hive convention for rows whose partition value is
// null; readers like Spark, Trino, and pyarrow map it back to NULL.
const nullPartitionDir = "__HIVE_DEFAULT_PARTITION__"

// WriteError reports a storage failure. Fatal for the run: a dataset that
// silently lost a batch is worse than a failed run.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer appends batches under the dataset root, one subdirectory per
// distinct partition date. Output file names derive from the batch's source
// file and chunk index, so re-ingesting the same input replaces its own
// earlier output instead of accumulating duplicates. Files are written to a
// temp name and renamed, so readers never observe a partial file.
type Writer struct {
	root      string
	partition string
	logger    *slog.Logger
}

// NewWriter creates a Writer rooted at dir, partitioning on the named column.
func NewWriter(dir, partitionColumn string, logger *slog.Logger) *Writer {
	return &Writer{root: dir, partition: partitionColumn, logger: logger}
}

// WriteBatch splits the batch by partition value and writes one Parquet file
// per partition directory. Batches without the partition column land
// unpartitioned at the dataset root. Returns the number of rows written.
func (w *Writer) WriteBatch(ctx context.Context, batch *domain.Batch) (int, error) {
	if batch == nil || len(batch.Rows) == 0 {
		return 0, nil
	}

	fileSchema := stripColumn(batch.Schema, w.partition)
	if len(fileSchema.Fields) == 0 {
		return 0, nil
	}
	pqSchema := parquetSchema(filepath.Base(w.root), fileSchema)
	name := partFileName(batch.SourceFile, batch.Index)

	written := 0
	for _, group := range w.groupByPartition(batch) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		dir := w.root
		if group.dir != "" {
			dir = filepath.Join(w.root, group.dir)
		}
		if err := writeFile(dir, name, pqSchema, fileSchema, group.rows); err != nil {
			return written, err
		}
		written += len(group.rows)
		w.logger.Debug("wrote partition file",
			"partition", group.dir,
			"file", name,
			"rows", len(group.rows),
		)
	}
	return written, nil
}

type partitionGroup struct {
	dir  string // "" means unpartitioned
	rows []domain.Row
}

// groupByPartition buckets rows by their partition directory, ordered by
// directory name for deterministic write order.
func (w *Writer) groupByPartition(batch *domain.Batch) []partitionGroup {
	if !batch.Schema.Has(w.partition) {
		return []partitionGroup{{rows: batch.Rows}}
	}

	buckets := make(map[string][]domain.Row)
	for _, row := range batch.Rows {
		dir := nullPartitionDir
		if t, ok := row[w.partition].(time.Time); ok {
			dir = t.UTC().Format("2006-01-02")
		}
		buckets[dir] = append(buckets[dir], row)
	}

	dirs := make([]string, 0, len(buckets))
	for dir := range buckets {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	groups := make([]partitionGroup, 0, len(dirs))
	for _, dir := range dirs {
		groups = append(groups, partitionGroup{
			dir:  w.partition + "=" + dir,
			rows: buckets[dir],
		})
	}
	return groups
}

func writeFile(dir, name string, schema *parquet.Schema, fields *domain.Schema, rows []domain.Row) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: dir, Err: err}
	}
	target := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return &WriteError{Path: target, Err: err}
	}
	defer os.Remove(tmp.Name())

	pw := parquet.NewGenericWriter[map[string]any](tmp, schema)
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = fileRow(row, fields)
	}
	if _, err := pw.Write(out); err != nil {
		tmp.Close()
		return &WriteError{Path: target, Err: err}
	}
	if err := pw.Close(); err != nil {
		tmp.Close()
		return &WriteError{Path: target, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	return nil
}

// fileRow converts one normalized row into the writer's map form. Null cells
// are omitted keys, which the optional fields record as definition-level
// nulls. Timestamps convert to microsecond epoch offsets matching their
// column's logical type.
func fileRow(row domain.Row, fields *domain.Schema) map[string]any {
	out := make(map[string]any, len(fields.Fields))
	for _, f := range fields.Fields {
		v := row[f.Name]
		if v == nil {
			continue
		}
		switch f.Kind {
		case domain.KindTimestamp:
			if t, ok := v.(time.Time); ok {
				out[f.Name] = t.UnixMicro()
			}
		case domain.KindDate:
			if t, ok := v.(time.Time); ok {
				out[f.Name] = int32(t.Unix() / 86400)
			}
		default:
			out[f.Name] = v
		}
	}
	return out
}

// stripColumn removes the named column from a schema; the partition value
// lives in the directory name, not the file.
func stripColumn(schema *domain.Schema, name string) *domain.Schema {
	fields := make([]domain.Field, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Name != name {
			fields = append(fields, f)
		}
	}
	return &domain.Schema{Fields: fields}
}

// parquetSchema maps resolved column kinds onto physical Parquet types. All
// fields are optional: any cell of any column may be null.
func parquetSchema(name string, schema *domain.Schema) *parquet.Schema {
	group := parquet.Group{}
	for _, f := range schema.Fields {
		group[f.Name] = parquet.Optional(nodeFor(f.Kind))
	}
	return parquet.NewSchema(name, group)
}

func nodeFor(kind domain.ColumnKind) parquet.Node {
	switch kind {
	case domain.KindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case domain.KindNullableInt:
		return parquet.Int(64)
	case domain.KindBool:
		return parquet.Leaf(parquet.BooleanType)
	case domain.KindTimestamp:
		return parquet.Timestamp(parquet.Microsecond)
	case domain.KindDate:
		return parquet.Date()
	default:
		return parquet.String()
	}
}

// partFileName is deterministic per (source file, chunk): the same input
// always maps to the same output name.
func partFileName(sourceFile string, chunk int) string {
	return fmt.Sprintf("part-%016x-c%03d.parquet", xxh3.Hash([]byte(sourceFile)), chunk)
}
