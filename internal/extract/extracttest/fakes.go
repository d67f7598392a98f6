// Package extracttest provides in-memory stand-ins for the PDF reader,
// rasterizer and OCR engine so extraction can run without poppler or
// tesseract installed.
package extracttest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// PDF describes a fake PDF: Text holds each page's text layer ("" for a
// scanned page) and OCR holds what recognition returns per page.
type PDF struct {
	Text []string
	OCR  []string
}

// Library maps file paths to fake PDFs and implements the PageReader,
// Rasterizer and OCREngine interfaces of the extract package.
type Library struct {
	mu   sync.RWMutex
	pdfs map[string]PDF

	// FailOCR makes every recognition fail with this error.
	FailOCR error

	OCRCalls atomic.Int64
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{pdfs: make(map[string]PDF)}
}

// WritePDF writes a stub file carrying the PDF magic into dir and registers
// its pages. It returns the file path.
func (l *Library) WritePDF(dir, name string, pdf PDF) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("%PDF-1.4\n% fake\n"), 0o644); err != nil {
		return "", err
	}
	l.mu.Lock()
	l.pdfs[path] = pdf
	l.mu.Unlock()
	return path, nil
}

// ReadPages returns the registered text layer.
func (l *Library) ReadPages(path string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pdf, ok := l.pdfs[path]
	if !ok {
		return nil, fmt.Errorf("unknown fake pdf %s", path)
	}
	return append([]string(nil), pdf.Text...), nil
}

// Rasterize encodes the path and page into the "image".
func (l *Library) Rasterize(_ context.Context, pdfPath string, page, _ int) ([]byte, error) {
	return []byte(pdfPath + "\x00" + strconv.Itoa(page)), nil
}

// Name identifies the fake engine.
func (l *Library) Name() string { return "fake" }

// Recognize returns the OCR text registered for the encoded page.
func (l *Library) Recognize(ctx context.Context, image []byte) (string, error) {
	l.OCRCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.FailOCR != nil {
		return "", l.FailOCR
	}
	path, pageStr, ok := strings.Cut(string(image), "\x00")
	if !ok {
		return "", fmt.Errorf("bad fake image")
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		return "", err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	pdf := l.pdfs[path]
	if page-1 < len(pdf.OCR) {
		return pdf.OCR[page-1], nil
	}
	return "", nil
}
