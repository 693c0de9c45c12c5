// Package pdf wraps the text-extraction primitive: page-count metadata
// probing and per-page plain-text extraction over raw document bytes.
package pdf

import (
	"bytes"
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// Document is one parsed PDF held in memory for the lifetime of a single
// processing run.
type Document interface {
	PageCount() int
	// ExtractPage returns the plain text of one page, 1-based.
	ExtractPage(page int) (string, error)
}

// Opener parses raw PDF bytes into a Document.
type Opener func(data []byte) (Document, error)

type document struct {
	reader *pdflib.Reader
}

// Open parses the document structure without extracting any text. The
// underlying parser panics on some malformed cross-reference tables, so
// panics are converted to errors here.
func Open(data []byte) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	return &document{reader: reader}, nil
}

// PageCount probes a document's page count without extracting text. This
// is the cheap metadata parse the intake dispatcher runs.
func PageCount(data []byte) (int, error) {
	doc, err := Open(data)
	if err != nil {
		return 0, err
	}
	return doc.PageCount(), nil
}

func (d *document) PageCount() int {
	return d.reader.NumPage()
}

func (d *document) ExtractPage(page int) (text string, err error) {
	if page < 1 || page > d.reader.NumPage() {
		return "", fmt.Errorf("page %d out of range 1..%d", page, d.reader.NumPage())
	}

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extract page %d: %v", page, r)
		}
	}()

	p := d.reader.Page(page)
	if p.V.IsNull() {
		return "", fmt.Errorf("page %d has no content", page)
	}

	content, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("extract page %d: %w", page, err)
	}
	return strings.TrimSpace(content), nil
}
