// Command genmock generates synthetic UDL elset history files for exercising
// the ingest pipeline without live AODR credentials. Output matches the bulk
// export shapes ingest accepts: a single JSON array or NDJSON. A fixed seed
// produces an identical file every run.
//
// Usage:
//
//	go run ./cmd/genmock -out data/00_raw/elsets_mock.json -count 500
//	go run ./cmd/genmock -out data/00_raw/elsets_mock.ndjson -format ndjson -dirty
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the generated file")
	count := flag.Int("count", 500, "number of records to generate")
	format := flag.String("format", "array", `output shape: "array" or "ndjson"`)
	seed := flag.Int64("seed", 1, "rng seed")
	startStr := flag.String("start", "2024-01-01T00:00:00Z", "epoch of the first record (RFC 3339)")
	dirty := flag.Bool("dirty", false, "inject unparsable cells to exercise coercion nulling")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if *format != "array" && *format != "ndjson" {
		return fmt.Errorf(`-format must be "array" or "ndjson", got %q`, *format)
	}
	start, err := time.Parse(time.RFC3339, *startStr)
	if err != nil {
		return fmt.Errorf("parsing -start: %w", err)
	}

	recs, stats := buildRecords(*count, *seed, start.UTC(), *dirty)

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	switch *format {
	case "array":
		err = writeArray(*out, recs)
	case "ndjson":
		err = writeNDJSON(*out, recs, *seed)
	}
	if err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}

	log.Printf("wrote %d records: %s", len(recs), *out)
	log.Printf("epochs span %d days starting %s", stats.days, start.Format("2006-01-02"))
	log.Printf("duplicate keys: %d, dirty cells: %d", stats.duplicates, stats.dirtyCells)
	return nil
}

type genStats struct {
	duplicates int
	dirtyCells int
	days       int
}

// buildRecords produces elset records with epochs marching forward one orbit
// (~97 minutes) at a time, so a few hundred records span several partition
// days. Shapes vary the way real exports do: sparse columns, ints written as
// strings, booleans, nested objects, empty tag lists.
func buildRecords(count int, seed int64, start time.Time, dirty bool) ([]map[string]any, genStats) {
	rng := rand.New(rand.NewSource(seed))

	// Fixed clock for createdAt so the file is reproducible.
	clk := clockwork.NewFakeClockAt(start.Add(31 * 24 * time.Hour))

	var stats genStats
	days := map[string]bool{}
	recs := make([]map[string]any, 0, count)

	for i := 0; i < count; i++ {
		epoch := start.Add(time.Duration(i) * 97 * time.Minute)
		days[epoch.Format("2006-01-02")] = true

		meanMotion := 11.25 + rng.Float64()*4.75
		rec := map[string]any{
			"classificationMarking": "U",
			"dataMode":              "TEST",
			"source":                "18th SPCS",
			"origin":                "genmock",
			"satNo":                 10000 + rng.Intn(400),
			"idElset":               9000000 + i,
			"epoch":                 epoch.Format(time.RFC3339Nano),
			"meanMotion":            meanMotion,
			"eccentricity":          rng.Float64() * 0.02,
			"inclination":           20 + rng.Float64()*80,
			"raan":                  rng.Float64() * 360,
			"argOfPerigee":          rng.Float64() * 360,
			"meanAnomaly":           rng.Float64() * 360,
			"bStar":                 rng.Float64() * 1e-3,
			"revNo":                 1000 + i*15 + rng.Intn(15),
			"createdAt":             clk.Now().UTC().Format(time.RFC3339),
			"createdBy":             "genmock",
		}
		clk.Advance(time.Duration(200+rng.Intn(800)) * time.Millisecond)

		// Optional columns appear on a subset of records.
		if rng.Intn(3) == 0 {
			rec["period"] = 1440 / meanMotion
			rec["semiMajorAxis"] = 6700 + rng.Float64()*800
			rec["apogee"] = 400 + rng.Float64()*300
			rec["perigee"] = 350 + rng.Float64()*200
		}
		if rng.Intn(4) == 0 {
			rec["uct"] = rng.Intn(2) == 0
		}
		if rng.Intn(5) == 0 {
			rec["tags"] = []string{"ELSET", "SGP4"}
		} else if rng.Intn(5) == 0 {
			rec["tags"] = []string{}
		}
		if rng.Intn(6) == 0 {
			rec["satNo"] = fmt.Sprintf("%05d", rec["satNo"])
		}
		if rng.Intn(8) == 0 {
			rec["epoch"] = epoch.Format("2006-01-02 15:04:05")
		}
		if rng.Intn(10) == 0 {
			rec["extra"] = map[string]any{
				"propagator":  "SGP4",
				"rcsEstimate": rng.Float64() * 10,
			}
		}

		// Occasionally reuse the previous natural key so dedup has work to do.
		if i > 0 && rng.Intn(12) == 0 {
			prev := recs[len(recs)-1]
			rec["satNo"] = prev["satNo"]
			rec["epoch"] = prev["epoch"]
			rec["idElset"] = prev["idElset"]
			stats.duplicates++
		}

		if dirty && rng.Intn(20) == 0 {
			switch rng.Intn(3) {
			case 0:
				rec["satNo"] = "not-a-number"
			case 1:
				rec["epoch"] = "sometime last week"
			case 2:
				rec["meanMotion"] = "fast"
			}
			stats.dirtyCells++
		}

		recs = append(recs, rec)
	}

	stats.days = len(days)
	return recs, stats
}

func writeArray(path string, recs []map[string]any) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func writeNDJSON(path string, recs []map[string]any, seed int64) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# synthetic UDL elset history, seed=%d\n", seed)
	for i, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
		// Blank separator lines; readers skip these.
		if (i+1)%250 == 0 {
			buf.WriteByte('\n')
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
