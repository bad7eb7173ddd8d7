package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/udl-ingest/internal/domain"
)

// Parse strategies for array-form files. Streaming decodes elements one at a
// time through encoding/json's token API; document reads and decodes the
// whole file at once. Newline-delimited files always stream line by line.
const (
	StrategyStreaming = "streaming"
	StrategyDocument  = "document"
)

// FormatDetectionError reports a file whose format could not be determined:
// unreadable, empty, or no content within the detection window.
type FormatDetectionError struct {
	Path string
	Err  error
}

func (e *FormatDetectionError) Error() string {
	return fmt.Sprintf("detect format of %s: %v", e.Path, e.Err)
}

func (e *FormatDetectionError) Unwrap() error { return e.Err }

// MalformedRecordError reports invalid record syntax. It is fatal for the
// file: parsing never resumes past a bad record, since the decoder state
// after one is unreliable.
type MalformedRecordError struct {
	Path string
	// Record is the 1-based record ordinal, which for newline-delimited files
	// is the line number. Zero means the failure preceded any record.
	Record int
	Err    error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %d in %s: %v", e.Record, e.Path, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// recordIterator yields raw records one at a time. Next returns io.EOF after
// the final record; Close releases the underlying file and is safe after EOF.
type recordIterator interface {
	Next() (domain.RawRecord, error)
	Close() error
}

// detectWindow bounds how far format detection looks for the first
// non-whitespace byte.
const detectWindow = 512

// openRecords opens an input file and returns an iterator over its records.
// The first non-whitespace byte decides the format: '[' means one JSON array
// of objects, anything else newline-delimited JSON.
func openRecords(path, strategy string) (recordIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FormatDetectionError{Path: path, Err: err}
	}

	br := bufio.NewReaderSize(f, 64*1024)
	head, err := br.Peek(detectWindow)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, &FormatDetectionError{Path: path, Err: err}
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	if len(trimmed) == 0 {
		f.Close()
		if len(head) < detectWindow {
			return nil, &FormatDetectionError{Path: path, Err: errors.New("file is empty")}
		}
		return nil, &FormatDetectionError{Path: path, Err: errors.New("no content in detection window")}
	}

	if trimmed[0] == '[' {
		if strategy == StrategyDocument {
			return newDocumentIterator(f, br, path)
		}
		return newArrayIterator(f, br, path)
	}
	return newNDJSONIterator(f, br, path), nil
}

// arrayIterator streams elements of a top-level JSON array without holding
// the file in memory.
type arrayIterator struct {
	f    *os.File
	dec  *json.Decoder
	path string
	n    int
	done bool
}

func newArrayIterator(f *os.File, r io.Reader, path string) (*arrayIterator, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		f.Close()
		return nil, &MalformedRecordError{Path: path, Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		f.Close()
		return nil, &MalformedRecordError{Path: path, Err: fmt.Errorf("expected '[', got %v", tok)}
	}
	return &arrayIterator{f: f, dec: dec, path: path}, nil
}

func (it *arrayIterator) Next() (domain.RawRecord, error) {
	if it.done {
		return nil, io.EOF
	}
	if !it.dec.More() {
		it.done = true
		if _, err := it.dec.Token(); err != nil {
			return nil, &MalformedRecordError{Path: it.path, Record: it.n, Err: err}
		}
		return nil, io.EOF
	}
	var rec domain.RawRecord
	if err := it.dec.Decode(&rec); err != nil {
		it.done = true
		return nil, &MalformedRecordError{Path: it.path, Record: it.n + 1, Err: err}
	}
	it.n++
	return rec, nil
}

func (it *arrayIterator) Close() error { return it.f.Close() }

// ndjsonIterator reads one JSON object per line, skipping blank lines and
// '#' comment lines.
type ndjsonIterator struct {
	f    *os.File
	sc   *bufio.Scanner
	path string
	line int
}

func newNDJSONIterator(f *os.File, r io.Reader, path string) *ndjsonIterator {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &ndjsonIterator{f: f, sc: sc, path: path}
}

func (it *ndjsonIterator) Next() (domain.RawRecord, error) {
	for it.sc.Scan() {
		it.line++
		line := bytes.TrimSpace(it.sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		rec, err := decodeObject(line)
		if err != nil {
			return nil, &MalformedRecordError{Path: it.path, Record: it.line, Err: err}
		}
		return rec, nil
	}
	if err := it.sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", it.path, err)
	}
	return nil, io.EOF
}

func (it *ndjsonIterator) Close() error { return it.f.Close() }

// decodeObject decodes exactly one JSON object, rejecting trailing content on
// the same line.
func decodeObject(line []byte) (domain.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec domain.RawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing content after object")
	}
	return rec, nil
}

// documentIterator holds a fully decoded array-form file. Used by the
// document parse strategy, which trades memory for simpler failure modes on
// files known to be small.
type documentIterator struct {
	recs []domain.RawRecord
	pos  int
}

func newDocumentIterator(f *os.File, r io.Reader, path string) (*documentIterator, error) {
	defer f.Close()
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var recs []domain.RawRecord
	if err := dec.Decode(&recs); err != nil {
		return nil, &MalformedRecordError{Path: path, Err: err}
	}
	return &documentIterator{recs: recs}, nil
}

func (it *documentIterator) Next() (domain.RawRecord, error) {
	if it.pos >= len(it.recs) {
		return nil, io.EOF
	}
	rec := it.recs[it.pos]
	it.pos++
	return rec, nil
}

func (it *documentIterator) Close() error { return nil }
