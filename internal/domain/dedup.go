package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeyColumns returns the columns of the priority list present in the schema,
// in priority order. An empty result means the batch has no usable natural
// key and deduplication does not apply.
func KeyColumns(schema *Schema, priority []string) []string {
	var keys []string
	for _, name := range priority {
		if schema.Has(name) {
			keys = append(keys, name)
		}
	}
	return keys
}

// Dedupe drops duplicate rows within one batch, keeping the last occurrence
// per distinct key tuple. Rows are stably sorted ascending by the tuple
// first, so among duplicates "last" follows key order and then input order,
// independent of how records arrived. Nulls sort after values and compare
// equal to each other. The returned count is the number of rows dropped.
func Dedupe(rows []Row, schema *Schema, priority []string) ([]Row, int) {
	keys := KeyColumns(schema, priority)
	if len(keys) == 0 || len(rows) < 2 {
		return rows, 0
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareKey(sorted[i], sorted[j], keys) < 0
	})

	out := make([]Row, 0, len(sorted))
	for i, row := range sorted {
		if i+1 < len(sorted) && compareKey(row, sorted[i+1], keys) == 0 {
			continue
		}
		out = append(out, row)
	}
	return out, len(rows) - len(out)
}

func compareKey(a, b Row, keys []string) int {
	for _, k := range keys {
		if c := compareCell(a[k], b[k]); c != 0 {
			return c
		}
	}
	return 0
}

// compareCell orders two cells of the same column. Within a batch a column
// holds a single type, so the mixed-type fallback only guards against misuse.
func compareCell(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case !av && bv:
				return -1
			case av && !bv:
				return 1
			}
			return 0
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(keyString(a), keyString(b))
}

// CompositeKey renders a row's key tuple as a single string: cell renderings
// joined by the unit separator, nulls as NUL. Stable across runs, so it
// doubles as the durable-index key.
func CompositeKey(row Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = keyString(row[k])
	}
	return strings.Join(parts, "\x1f")
}

func keyString(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
