package pipeline

import (
	"errors"
	"io"

	"github.com/couchcryptid/udl-ingest/internal/domain"
)

// chunker groups records from an iterator into bounded batches so memory use
// follows chunk size, not file size.
type chunker struct {
	src  recordIterator
	size int
}

func newChunker(src recordIterator, size int) *chunker {
	return &chunker{src: src, size: size}
}

// Next returns the next batch of at most size records, preserving source
// order. The final batch may be shorter; io.EOF follows it. Any source error
// passes through with whatever records preceded it discarded, since a
// malformed record poisons its whole file anyway.
func (c *chunker) Next() ([]domain.RawRecord, error) {
	var buf []domain.RawRecord
	for len(buf) < c.size {
		rec, err := c.src.Next()
		if errors.Is(err, io.EOF) {
			if len(buf) == 0 {
				return nil, io.EOF
			}
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
		if buf == nil {
			buf = make([]domain.RawRecord, 0, c.size)
		}
		buf = append(buf, rec)
	}
	return buf, nil
}
