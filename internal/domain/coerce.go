package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Rules fixes the column-level behavior for one dataset: which columns coerce
// to which type regardless of what a given batch happens to contain, how the
// partition date derives, the natural-key priority for deduplication, and an
// optional output allowlist. The fixed lists are what keeps physical types
// identical across heterogeneous batches; per-batch inference only ever
// applies to columns no list claims.
type Rules struct {
	TimestampColumns []string
	FloatColumns     []string
	IntColumns       []string
	StringColumns    []string
	JSONColumns      []string

	// PartitionSource is the timestamp column the partition date derives
	// from. PartitionColumn is the derived calendar-date column appended
	// after all data columns.
	PartitionSource string
	PartitionColumn string

	// DedupKeys is the priority-ordered natural key. The columns of this list
	// present in a batch schema, kept in this order, form the key tuple.
	DedupKeys []string

	// KeepColumns, when non-empty, restricts output to the named columns in
	// the given order. Names absent from the data are ignored.
	KeepColumns []string
}

// DefaultRules returns the column rules for UDL elset history.
func DefaultRules() Rules {
	return Rules{
		TimestampColumns: []string{"epoch", "createdAt", "effectiveFrom", "effectiveUntil"},
		FloatColumns: []string{
			"agom", "apogee", "perigee", "semiMajorAxis", "period",
			"eccentricity", "inclination", "meanAnomaly", "raan",
			"argOfPerigee", "bStar", "meanMotion", "meanMotionDot",
			"meanMotionDDot", "ballisticCoeff",
		},
		IntColumns: []string{"satNo", "revNo", "idElset", "idOnOrbit", "idOrbitDetermination"},
		StringColumns: []string{
			"uct", "classificationMarking", "origin", "source", "sourceDL",
			"descriptor", "createdBy", "transactionId", "tags",
		},
		JSONColumns:     []string{"tags"},
		PartitionSource: "epoch",
		PartitionColumn: "epoch_date",
		DedupKeys:       []string{"satNo", "epoch", "idElset"},
	}
}

// timestampLayouts are the accepted input forms, tried in order. Zoneless
// values are read as UTC. Go's parser accepts fractional seconds after the
// seconds field even when the layout omits them.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceFloat parses v as a 64-bit float. Anything unparsable, including
// booleans and nested values, degrades to null.
func coerceFloat(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		return f
	case float64:
		return x
	case int64:
		return float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return f
	default:
		return nil
	}
}

// coerceInt parses v as a 64-bit integer, keeping a true null state on
// failure rather than inventing a zero. Integral floats convert ("5.0"
// becomes 5); fractional values are unparsable.
func coerceInt(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		return integralInt64(f)
	case int64:
		return x
	case float64:
		return integralInt64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return integralInt64(f)
	default:
		return nil
	}
}

func integralInt64(f float64) any {
	if f != math.Trunc(f) || f >= float64(math.MaxInt64) || f < float64(math.MinInt64) {
		return nil
	}
	return int64(f)
}

// coerceString renders v as clean text: booleans as "true"/"false", byte
// sequences as UTF-8 with invalid bytes replaced, nested values as canonical
// JSON. Strings never degrade to null except for null input.
func coerceString(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case []byte:
		return strings.ToValidUTF8(string(x), "�")
	case json.Number:
		return x.String()
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case map[string]any, []any:
		return canonicalJSON(x)
	default:
		return fmt.Sprint(x)
	}
}

// coerceJSONText serializes nested values to canonical JSON text; scalars
// render the same way plain string coercion does.
func coerceJSONText(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return canonicalJSON(v)
	default:
		return coerceString(v)
	}
}

// canonicalJSON compacts a nested value to JSON text with sorted object keys.
// Values that arrived through the JSON decoder always encode; on the
// impossible failure the Go representation stands in rather than an error.
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// coerceTimestamp parses v as a UTC timestamp truncated to microseconds.
// Numbers are not treated as epoch offsets; like every other unparsable
// value they degrade to null.
func coerceTimestamp(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Truncate(time.Microsecond)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Truncate(time.Microsecond)
			}
		}
		return nil
	default:
		return nil
	}
}
