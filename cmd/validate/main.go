// Command validate checks a written elset dataset for structural integrity:
// partition layout, parquet readability, schema consistency across files, and
// natural-key uniqueness within files. It reads the dataset the way a
// downstream consumer would and exits non-zero on any failure.
//
// Usage:
//
//	go run ./cmd/validate -dataset data/01_processed/elset_history_aodr
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/couchcryptid/udl-ingest/internal/adapter/parquetds"
	"github.com/couchcryptid/udl-ingest/internal/config"
	"github.com/couchcryptid/udl-ingest/internal/domain"
)

const nullPartition = "__HIVE_DEFAULT_PARTITION__"

var partitionDirPattern = regexp.MustCompile(`^epoch_date=(\d{4}-\d{2}-\d{2}|__HIVE_DEFAULT_PARTITION__)$`)

// phase tracks pass/fail for one validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataset := flag.String("dataset", "", "dataset root directory (default: the configured dataset directory)")
	flag.Parse()

	root := *dataset
	if root == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
			os.Exit(1)
		}
		root = cfg.DatasetDir()
	}

	if code := run(root); code != 0 {
		os.Exit(code)
	}
}

func run(root string) int {
	fmt.Println("=== Elset Dataset Validation ===")
	fmt.Println()
	fmt.Printf("Dataset: %s\n", root)

	files, layout := validateLayout(root)
	contents, readability := validateReadability(files)
	schema := validateSchemaConsistency(contents)
	keys := validateKeys(contents)

	phases := []*phase{layout, readability, schema, keys}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-40s %s\n", p.name, status)
	}

	totalRows := 0
	partitions := map[string]bool{}
	for _, c := range contents {
		totalRows += len(c.rows)
		if c.partition != "" {
			partitions[c.partition] = true
		}
	}
	fmt.Println()
	fmt.Printf("Files: %d, Rows: %d, Partitions: %d\n", len(files), totalRows, len(partitions))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// partFile locates one parquet file within the dataset.
type partFile struct {
	path      string
	partition string // partition dir value, "" when the file sits at the root
}

// partContent is a fully loaded part file.
type partContent struct {
	partFile
	rows    []map[string]any
	columns map[string]string // column name -> parquet type
}

// ── Phase 1: Partition Layout ──
// Every entry under the dataset root must be a parquet file or an
// epoch_date=<value> directory containing only parquet files.

func validateLayout(root string) ([]partFile, *phase) {
	p := &phase{name: "Phase 1: Partition Layout"}

	entries, err := os.ReadDir(root)
	if err != nil {
		p.errorf("reading dataset root: %v", err)
		return nil, p
	}
	if len(entries) == 0 {
		p.errorf("dataset root %s is empty", root)
		return nil, p
	}

	var files []partFile
	for _, e := range entries {
		if !e.IsDir() {
			if strings.HasSuffix(e.Name(), ".parquet") {
				files = append(files, partFile{path: filepath.Join(root, e.Name())})
			} else {
				p.errorf("unexpected file at dataset root: %s", e.Name())
			}
			continue
		}

		m := partitionDirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			p.errorf("directory %q does not match epoch_date=<YYYY-MM-DD>", e.Name())
			continue
		}

		dir := filepath.Join(root, e.Name())
		children, err := os.ReadDir(dir)
		if err != nil {
			p.errorf("reading partition %s: %v", e.Name(), err)
			continue
		}
		if len(children) == 0 {
			p.errorf("partition %s is empty", e.Name())
		}
		for _, c := range children {
			switch {
			case c.IsDir():
				p.errorf("partition %s contains nested directory %s", e.Name(), c.Name())
			case !strings.HasSuffix(c.Name(), ".parquet"):
				p.errorf("partition %s contains non-parquet file %s", e.Name(), c.Name())
			default:
				files = append(files, partFile{path: filepath.Join(dir, c.Name()), partition: m[1]})
			}
		}
	}
	return files, p
}

// ── Phase 2: File Readability ──
// Every parquet file must open, parse, and hold at least one row.

func validateReadability(files []partFile) ([]partContent, *phase) {
	p := &phase{name: "Phase 2: File Readability"}

	var contents []partContent
	for _, f := range files {
		rows, schema, err := parquetds.ReadRows(f.path)
		if err != nil {
			p.errorf("%s: %v", f.path, err)
			continue
		}
		if len(rows) == 0 {
			p.errorf("%s: file has no rows", f.path)
		}
		columns := map[string]string{}
		for _, field := range schema.Fields() {
			columns[field.Name()] = field.Type().String()
		}
		contents = append(contents, partContent{partFile: f, rows: rows, columns: columns})
	}
	return contents, p
}

// ── Phase 3: Schema Consistency ──
// A column name must map to exactly one parquet type across the dataset.
// Files need not carry identical column sets; chunks see different sparse
// columns.

func validateSchemaConsistency(contents []partContent) *phase {
	p := &phase{name: "Phase 3: Schema Consistency"}

	seen := map[string]string{}
	origin := map[string]string{}
	for _, c := range contents {
		for col, typ := range c.columns {
			prev, ok := seen[col]
			if !ok {
				seen[col] = typ
				origin[col] = c.path
				continue
			}
			if prev != typ {
				p.errorf("column %q is %s in %s but %s in %s", col, prev, origin[col], typ, c.path)
			}
		}
	}
	return p
}

// ── Phase 4: Key & Partition Integrity ──
// Within each file no two rows share the natural key, and every row's epoch
// falls on the partition date the file lives under.

func validateKeys(contents []partContent) *phase {
	p := &phase{name: "Phase 4: Key & Partition Integrity"}

	rules := domain.DefaultRules()
	for _, c := range contents {
		if keys := presentKeys(rules.DedupKeys, c.columns); len(keys) > 0 {
			counts := map[string]int{}
			for _, row := range c.rows {
				counts[domain.CompositeKey(row, keys)]++
			}
			for key, n := range counts {
				if n > 1 {
					p.errorf("%s: key %s appears %d times", c.path, printableKey(key), n)
				}
			}
		}

		checkPartitionAgreement(p, c, rules.PartitionSource)
	}
	return p
}

// presentKeys filters the key priority list down to columns the file carries.
func presentKeys(priority []string, columns map[string]string) []string {
	var keys []string
	for _, k := range priority {
		if _, ok := columns[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// printableKey renders a composite key's separators for error messages.
func printableKey(key string) string {
	key = strings.ReplaceAll(key, "\x1f", "|")
	return strings.ReplaceAll(key, "\x00", "<null>")
}

// checkPartitionAgreement verifies each row's partition source value falls on
// the partition date. Timestamps read back as microsecond epoch offsets; rows
// under the null partition must hold a null.
func checkPartitionAgreement(p *phase, c partContent, source string) {
	if c.partition == "" {
		return
	}
	if _, ok := c.columns[source]; !ok {
		return
	}
	for i, row := range c.rows {
		v := row[source]
		if c.partition == nullPartition {
			if v != nil {
				p.errorf("%s row %d: %s=%v under the null partition", c.path, i, source, v)
			}
			continue
		}
		micros, ok := v.(int64)
		if !ok {
			p.errorf("%s row %d: %s is %T, want int64 micros", c.path, i, source, v)
			continue
		}
		if day := time.UnixMicro(micros).UTC().Format("2006-01-02"); day != c.partition {
			p.errorf("%s row %d: %s falls on %s, partition says %s", c.path, i, source, day, c.partition)
		}
	}
}
