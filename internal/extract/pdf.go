package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Decoder opens a document from its raw bytes.
type Decoder interface {
	Open(data []byte) (Document, error)
}

// Document exposes decoded pages, numbered from 1.
type Document interface {
	NumPages() int
	PageTokens(n int) ([]string, error)
}

var pdfMagic = []byte("%PDF-")

// PDFDecoder decodes PDF files with github.com/ledongthuc/pdf.
type PDFDecoder struct{}

// Open parses data. Encrypted files report ErrEncrypted; anything the
// parser rejects reports ErrMalformed.
func (PDFDecoder) Open(data []byte) (Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return nil, fmt.Errorf("%w: missing %%PDF- header", ErrMalformed)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, fmt.Errorf("%w: %v", ErrEncrypted, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &pdfDocument{r: r}, nil
}

type pdfDocument struct {
	r *pdf.Reader
}

func (d *pdfDocument) NumPages() int { return d.r.NumPage() }

// PageTokens returns the whitespace-separated text tokens of page n.
// The parser panics on some malformed content streams; those panics are
// returned as errors.
func (d *pdfDocument) PageTokens(n int) (tokens []string, err error) {
	defer func() {
		if p := recover(); p != nil {
			tokens, err = nil, fmt.Errorf("decoding page %d: %v", n, p)
		}
	}()

	page := d.r.Page(n)
	if page.V.IsNull() {
		return nil, nil
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return nil, fmt.Errorf("decoding page %d: %w", n, err)
	}
	return strings.Fields(text), nil
}
