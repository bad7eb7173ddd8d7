package parquetds

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ReadRows loads every row of one Parquet file into memory, along with the
// file's schema. Cell values carry the physical representation: timestamps
// come back as microsecond epoch offsets. Intended for validation and tests,
// not the ingest path.
func ReadRows(path string) ([]map[string]any, *parquet.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := parquet.NewGenericReader[map[string]any](f)
	defer r.Close()

	rows := make([]map[string]any, r.NumRows())
	for i := range rows {
		rows[i] = map[string]any{}
	}

	total := 0
	for total < len(rows) {
		n, err := r.Read(rows[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return rows[:total], r.Schema(), nil
}
