package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// PageReader returns the embedded text of every page of a PDF, one entry
// per page in page order. Pages without a text layer yield "".
type PageReader interface {
	ReadPages(path string) ([]string, error)
}

// PDFPageReader reads text layers with github.com/ledongthuc/pdf.
type PDFPageReader struct{}

var _ PageReader = PDFPageReader{}

// ReadPages implements PageReader. The parser panics on some malformed
// inputs; those are reported as corrupt files.
func (PDFPageReader) ReadPages(path string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = docerrors.New(docerrors.ErrCodeFileCorrupt, "malformed PDF", fmt.Errorf("%v", r))
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeFileNotFound, "cannot open PDF", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeFileCorrupt, "cannot stat PDF", err)
	}

	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeFileCorrupt, "cannot parse PDF", err)
	}

	n := r.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A broken content stream on one page leaves it for OCR.
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

var (
	blankLines  = regexp.MustCompile(`\n\s*\n`)
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	allSpace    = regexp.MustCompile(`\s+`)
	ocrArtifact = regexp.MustCompile(`[^\w\s\-.,;:!?()\[\]{}"'&@#$%/\\]`)
	ocrBlanks   = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// usableChars counts characters of a page's text after whitespace runs are
// collapsed.
func usableChars(text string) int {
	return len([]rune(strings.TrimSpace(allSpace.ReplaceAllString(text, " "))))
}

// normalizeDirect tidies embedded text: blank-line runs become one blank
// line and horizontal whitespace collapses.
func normalizeDirect(text string) string {
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// normalizeOCR strips recognition artifacts and collapses whitespace.
func normalizeOCR(text string) string {
	text = ocrBlanks.ReplaceAllString(text, "\n\n")
	text = ocrArtifact.ReplaceAllString(text, " ")
	text = allSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
