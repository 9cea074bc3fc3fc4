package pdfextract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnreadable marks a document that cannot be parsed at all. This is a
// content defect, not a backend outage: callers must not retry it.
var ErrUnreadable = errors.New("unreadable pdf")

// PageText is the extracted plain text of a single page.
type PageText struct {
	Number int
	Text   string
}

// Pages extracts plain text page by page so downstream chunks can carry
// page-level provenance. A structurally valid PDF with no extractable text
// yields pages with empty Text, not an error.
func Pages(r io.Reader) ([]PageText, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf input failed: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnreadable)
	}

	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	total := pdfReader.NumPage()
	pages := make([]PageText, 0, total)
	for i := 1; i <= total; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, PageText{Number: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single broken page should not sink the document.
			pages = append(pages, PageText{Number: i})
			continue
		}
		pages = append(pages, PageText{Number: i, Text: text})
	}
	return pages, nil
}

// TotalChars counts extracted characters across pages, used by the
// data-quality gate before chunking.
func TotalChars(pages []PageText) int {
	n := 0
	for _, p := range pages {
		n += len(strings.TrimSpace(p.Text))
	}
	return n
}
