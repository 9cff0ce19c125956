package bundle

import (
	"context"
	"fmt"
)

// TOCDumper returns the raw table of contents of a bundle container.
type TOCDumper interface {
	DumpTOC(ctx context.Context, path string) ([]byte, error)
}

// Reader loads bundle containers into mutable documents.
type Reader struct {
	dumper TOCDumper
}

// Bundle package reader constructor over a TOC dumper.
func NewReader(dumper TOCDumper) *Reader {
	return &Reader{dumper: dumper}
}

// Bundle package reader dumping the TOC of the xar at path and parsing it.
func (r *Reader) Read(ctx context.Context, path string) (*Document, error) {
	data, err := r.dumper.DumpTOC(ctx, path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
