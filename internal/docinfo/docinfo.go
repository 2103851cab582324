// Package docinfo inspects uploaded decks.
package docinfo

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

var ErrNotPDF = errors.New("not a pdf document")

// PageCount returns the number of pages in a PDF held in r. The parser can
// panic on malformed input; that is reported as an error.
func PageCount(r io.ReaderAt, size int64) (pages int, err error) {
	if size < 5 {
		return 0, ErrNotPDF
	}
	head := make([]byte, 5)
	if _, err := r.ReadAt(head, 0); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(head, []byte("%PDF-")) {
		return 0, ErrNotPDF
	}
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", rec)
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return reader.NumPage(), nil
}
