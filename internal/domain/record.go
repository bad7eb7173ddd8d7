package domain

// RawRecord is one decoded JSON object from an input file. Values carry the
// decoder's types: string, bool, json.Number, nil, map[string]any, []any.
// No shape is guaranteed across records, even within one file.
type RawRecord = map[string]any

// Row is a normalized record: a flat mapping from column name to a typed
// cell. After coercion a cell is one of nil, float64, int64, string, bool,
// or time.Time in UTC (microsecond precision; the partition column holds a
// UTC midnight). Every column of the batch schema is present in every row,
// with nil marking a null cell.
type Row = map[string]any

// ColumnKind is the semantic type a column resolved to for one batch.
type ColumnKind uint8

const (
	// KindPassThrough marks a column not covered by any fixed rule. It only
	// exists during classification; the registry resolves it to one of the
	// concrete kinds before any row is built.
	KindPassThrough ColumnKind = iota
	KindFloat
	KindNullableInt
	KindString
	KindJSONText
	KindTimestamp
	KindBool
	// KindDate is reserved for the derived partition column.
	KindDate
)

func (k ColumnKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindNullableInt:
		return "nullable_int"
	case KindString:
		return "string"
	case KindJSONText:
		return "json_text"
	case KindTimestamp:
		return "timestamp"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return "passthrough"
	}
}

// Batch is one bounded group of normalized rows sharing a schema, plus the
// provenance the driver uses for progress reporting and output file naming.
type Batch struct {
	Rows   []Row
	Schema *Schema

	// SourceFile is the base name of the originating input file; Index is the
	// 1-based chunk index within that file.
	SourceFile string
	Index      int
}
