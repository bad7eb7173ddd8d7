package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Normalizer turns batches of raw records into typed rows plus the schema
// those rows share. It never rejects a record: heterogeneous shapes union
// into one column set, and every unparsable cell degrades to null. Construct
// once per run and reuse; it holds no per-batch state.
type Normalizer struct {
	rules Rules

	timestamps map[string]bool
	floats     map[string]bool
	ints       map[string]bool
	strings    map[string]bool
	jsonText   map[string]bool
	keep       map[string]bool
}

// NewNormalizer builds a normalizer for the given column rules.
func NewNormalizer(rules Rules) *Normalizer {
	n := &Normalizer{
		rules:      rules,
		timestamps: toSet(rules.TimestampColumns),
		floats:     toSet(rules.FloatColumns),
		ints:       toSet(rules.IntColumns),
		strings:    toSet(rules.StringColumns),
		jsonText:   toSet(rules.JSONColumns),
	}
	if len(rules.KeepColumns) > 0 {
		n.keep = toSet(rules.KeepColumns)
	}
	return n
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// colStats accumulates what classification observed in one column across the
// whole batch. Absent keys and explicit JSON nulls both count as null.
type colStats struct {
	present   int // non-null cells
	bools     int
	nested    int // objects and arrays
	bytes     int
	numbers   int
	fractions int // numbers written as floats ("2.5", "1.0"), among numbers
	strs      int
}

func (st *colStats) observe(v any) {
	if v == nil {
		return
	}
	st.present++
	switch x := v.(type) {
	case bool:
		st.bools++
	case map[string]any, []any:
		st.nested++
	case []byte:
		st.bytes++
	case json.Number:
		st.numbers++
		if _, err := x.Int64(); err != nil {
			st.fractions++
		}
	case int64:
		st.numbers++
	case float64:
		st.numbers++
		if x != float64(int64(x)) {
			st.fractions++
		}
	case string:
		st.strs++
	}
}

// NormalizeBatch flattens, classifies, and coerces one batch of raw records.
// The returned rows preserve input order one-to-one with records. The second
// result counts cells that held a value but could not be parsed under their
// column's type and were nulled.
func (n *Normalizer) NormalizeBatch(records []RawRecord) (*Batch, int) {
	flat := make([]Row, len(records))
	stats := make(map[string]*colStats)
	for i, rec := range records {
		row := flattenRecord(rec)
		flat[i] = row
		for name, v := range row {
			st := stats[name]
			if st == nil {
				st = &colStats{}
				stats[name] = st
			}
			st.observe(v)
		}
	}

	order := n.columnOrder(stats)
	kinds := make(map[string]ColumnKind, len(order))
	for _, name := range order {
		kinds[name] = n.classify(name, stats[name], len(flat))
	}

	partition := n.rules.PartitionColumn != "" && kinds[n.rules.PartitionSource] == KindTimestamp
	if partition {
		// An input column carrying the partition name yields to the derived value.
		order = withoutName(order, n.rules.PartitionColumn)
		kinds[n.rules.PartitionColumn] = KindDate
	}

	rows := make([]Row, len(flat))
	nulled := 0
	for i, raw := range flat {
		row := make(Row, len(order)+1)
		for _, name := range order {
			v := raw[name]
			cell := coerceCell(kinds[name], v)
			if v != nil && cell == nil {
				nulled++
			}
			row[name] = cell
		}
		if partition {
			row[n.rules.PartitionColumn] = partitionDate(row[n.rules.PartitionSource])
		}
		rows[i] = row
	}

	if partition {
		order = append(order, n.rules.PartitionColumn)
	}
	return &Batch{Rows: rows, Schema: BuildSchema(order, kinds)}, nulled
}

// flattenRecord flattens nested objects exactly one level deep, joining keys
// with a dot. Values nested deeper stay embedded and reach the classifier as
// objects; arrays are never expanded at any depth.
func flattenRecord(rec RawRecord) Row {
	out := make(Row, len(rec))
	for k, v := range rec {
		if m, ok := v.(map[string]any); ok {
			for ck, cv := range m {
				out[k+"."+ck] = cv
			}
			continue
		}
		out[k] = v
	}
	return out
}

// columnOrder fixes the data-column order for the batch: the allowlist order
// when one is configured, lexicographic otherwise. Either way the order is a
// pure function of the column set, never of record arrival.
func (n *Normalizer) columnOrder(stats map[string]*colStats) []string {
	if n.keep != nil {
		order := make([]string, 0, len(n.rules.KeepColumns))
		for _, name := range n.rules.KeepColumns {
			if _, ok := stats[name]; ok {
				order = append(order, name)
			}
		}
		return order
	}
	order := make([]string, 0, len(stats))
	for name := range stats {
		order = append(order, name)
	}
	sort.Strings(order)
	return order
}

func withoutName(names []string, drop string) []string {
	out := names[:0]
	for _, name := range names {
		if name != drop {
			out = append(out, name)
		}
	}
	return out
}

// classify resolves one column's kind. The float, int, and string lists win
// outright. Observed booleans or raw bytes force string next, before the JSON
// and timestamp lists get a say, except that a uniformly boolean column with
// no nulls keeps its booleans. Nested content forces JSON text the same way.
// Unlisted, unforced columns resolve from their observed numbers.
func (n *Normalizer) classify(name string, st *colStats, total int) ColumnKind {
	switch {
	case n.floats[name]:
		return KindFloat
	case n.ints[name]:
		return KindNullableInt
	case n.strings[name]:
		return KindString
	case total > 0 && st.bools == total:
		return KindBool
	case st.bools > 0 || st.bytes > 0:
		return KindString
	case n.jsonText[name] || st.nested > 0:
		return KindJSONText
	case n.timestamps[name]:
		return KindTimestamp
	}
	return resolvePassThrough(st)
}

// resolvePassThrough types an unlisted column from its observed content:
// numbers written as integers become nullable ints, any float-written number
// makes the column float, and everything else, including all-null and mixed
// content, lands on string.
func resolvePassThrough(st *colStats) ColumnKind {
	switch {
	case st.present == 0:
		return KindString
	case st.numbers == st.present && st.fractions == 0:
		return KindNullableInt
	case st.numbers == st.present:
		return KindFloat
	default:
		return KindString
	}
}

func coerceCell(kind ColumnKind, v any) any {
	switch kind {
	case KindFloat:
		return coerceFloat(v)
	case KindNullableInt:
		return coerceInt(v)
	case KindJSONText:
		return coerceJSONText(v)
	case KindTimestamp:
		return coerceTimestamp(v)
	case KindBool:
		// Uniformly boolean by construction.
		return v
	default:
		return coerceString(v)
	}
}

// partitionDate truncates a timestamp cell to its UTC calendar date. Null
// timestamps yield a null partition value.
func partitionDate(cell any) any {
	t, ok := cell.(time.Time)
	if !ok {
		return nil
	}
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
