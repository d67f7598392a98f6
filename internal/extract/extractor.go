// Package extract turns source documents into plain text.
//
// PDFs are read page by page: pages with a usable text layer are taken
// directly, the rest are rasterized and sent through an OCR engine. DOCX
// files are parsed from their XML body. A document that cannot be
// extracted is recorded as FAILED so later stages can report it as
// skipped; one bad document never stops the batch.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/store"
	"github.com/mythorath/DocAnalysisTool/internal/ui"
)

// PageBreak separates pages in extracted PDF text.
const PageBreak = "\n\n--- PAGE BREAK ---\n\n"

// Defaults for Options.
const (
	DefaultMinPageChars    = 50
	DefaultDirectTextRatio = 0.5
	DefaultDPI             = 300
)

// Options configures an Extractor.
type Options struct {
	Workers         int
	MinPageChars    int
	DirectTextRatio float64
	DPI             int
	// OCRTimeout bounds recognition of a single page.
	OCRTimeout time.Duration
}

// Extractor extracts text from documents and persists the results.
type Extractor struct {
	opts   Options
	pages  PageReader
	raster Rasterizer
	ocr    OCREngine
	meta   store.MetadataStore
	texts  *store.TextStore
	logger *slog.Logger
	now    func() time.Time

	// observe sees every persisted record of ExtractAll.
	observe func(*store.ExtractedText)
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithPageReader replaces the PDF text-layer reader.
func WithPageReader(r PageReader) Option {
	return func(e *Extractor) { e.pages = r }
}

// WithRasterizer replaces the page rasterizer.
func WithRasterizer(r Rasterizer) Option {
	return func(e *Extractor) { e.raster = r }
}

// WithOCREngine replaces the OCR engine.
func WithOCREngine(o OCREngine) Option {
	return func(e *Extractor) { e.ocr = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithObserver registers fn to receive each record ExtractAll persists.
// fn is called from worker goroutines.
func WithObserver(fn func(*store.ExtractedText)) Option {
	return func(e *Extractor) { e.observe = fn }
}

// New creates an Extractor writing records to meta and text artifacts to texts.
func New(meta store.MetadataStore, texts *store.TextStore, opts Options, options ...Option) *Extractor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MinPageChars <= 0 {
		opts.MinPageChars = DefaultMinPageChars
	}
	if opts.DirectTextRatio <= 0 {
		opts.DirectTextRatio = DefaultDirectTextRatio
	}
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.OCRTimeout <= 0 {
		opts.OCRTimeout = 2 * time.Minute
	}

	e := &Extractor{
		opts:   opts,
		pages:  PDFPageReader{},
		raster: NewPdftoppmRasterizer(""),
		ocr:    Guard(NewTesseractEngine("", "")),
		meta:   meta,
		texts:  texts,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Summary describes one extraction batch.
type Summary struct {
	Total      int                  `json:"total"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Skipped    int                  `json:"skipped"`
	Methods    map[store.Method]int `json:"methods"`
	TotalChars int64                `json:"total_chars"`
	// Failures maps document id to the failure reason.
	Failures map[string]string `json:"failures,omitempty"`
	Elapsed  time.Duration     `json:"elapsed"`
}

// FailedIDs returns the ids of failed documents, sorted.
func (s *Summary) FailedIDs() []string {
	ids := make([]string, 0, len(s.Failures))
	for id := range s.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func newSummary() *Summary {
	return &Summary{
		Methods:  make(map[store.Method]int),
		Failures: make(map[string]string),
	}
}

// Extract extracts one document without persisting it. On failure the
// returned record has method FAILED and the error is the typed cause.
func (e *Extractor) Extract(ctx context.Context, doc *store.Document) (*store.ExtractedText, error) {
	return e.extractOne(ctx, doc, nil)
}

func (e *Extractor) extractOne(ctx context.Context, doc *store.Document, progress ui.ProgressFunc) (*store.ExtractedText, error) {
	start := e.now()
	et := &store.ExtractedText{DocID: doc.ID}

	content, err := e.extract(ctx, doc, et, progress)
	et.ExtractedAt = e.now()
	et.Elapsed = et.ExtractedAt.Sub(start)

	if err == nil && strings.TrimSpace(content) == "" {
		err = docerrors.New(docerrors.ErrCodeEmptyContent, "no text content extracted", nil)
	}
	if err != nil {
		et.Method = store.MethodFailed
		et.Error = docerrors.Reason(err)
		return et, err
	}

	et.Content = content
	et.CharCount = len([]rune(content))
	return et, nil
}

func (e *Extractor) extract(ctx context.Context, doc *store.Document, et *store.ExtractedText, progress ui.ProgressFunc) (string, error) {
	if _, err := os.Stat(doc.Path); err != nil {
		return "", docerrors.New(docerrors.ErrCodeFileNotFound, fmt.Sprintf("source file missing: %s", doc.Path), err)
	}

	ft, err := Classify(doc.Path)
	if err != nil {
		return "", err
	}

	switch ft {
	case store.FileTypePDF:
		return e.extractPDF(ctx, doc, et, progress)
	case store.FileTypeDOCX:
		content, err := ParseDOCX(doc.Path)
		if err != nil {
			return "", err
		}
		et.Method = store.MethodDOCXParse
		et.UnitCount = len(content.Units())
		return content.Text(), nil
	default:
		return "", docerrors.New(docerrors.ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported file type %s", ft), nil)
	}
}

// extractPDF decides per page between the text layer and OCR. When the
// share of pages with usable text does not exceed DirectTextRatio the text
// layer is distrusted and every page is recognized.
func (e *Extractor) extractPDF(ctx context.Context, doc *store.Document, et *store.ExtractedText, progress ui.ProgressFunc) (string, error) {
	pages, err := e.pages.ReadPages(doc.Path)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", docerrors.New(docerrors.ErrCodeFileCorrupt, "PDF has no pages", nil)
	}

	usable := make([]bool, len(pages))
	nUsable := 0
	for i, p := range pages {
		if usableChars(p) >= e.opts.MinPageChars {
			usable[i] = true
			nUsable++
		}
	}
	trustText := float64(nUsable)/float64(len(pages)) > e.opts.DirectTextRatio

	var needOCR []int
	for i := range pages {
		if !trustText || !usable[i] {
			needOCR = append(needOCR, i)
		}
	}

	out := make([]string, len(pages))
	if trustText {
		for i, p := range pages {
			if usable[i] {
				out[i] = normalizeDirect(p)
			}
		}
	}

	for n, i := range needOCR {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		progress.Emit(ui.ProgressEvent{
			Stage:       ui.StageOCR,
			Current:     n,
			Total:       len(needOCR),
			CurrentFile: doc.ID,
			Message:     fmt.Sprintf("%s page %d", doc.ID, i+1),
		})
		text, err := e.ocrPage(ctx, doc.Path, i+1)
		if err != nil {
			if docerrors.GetCode(err) == docerrors.ErrCodeOCRUnavailable {
				return "", err
			}
			// A single unreadable page does not fail the document.
			e.logger.Warn("OCR failed for page",
				slog.String("doc_id", doc.ID),
				slog.Int("page", i+1),
				slog.String("error", docerrors.Reason(err)))
			continue
		}
		out[i] = normalizeOCR(text)
	}

	var kept []string
	for _, t := range out {
		if t != "" {
			kept = append(kept, t)
		}
	}

	et.UnitCount = len(pages)
	et.OCRPages = len(needOCR)
	if len(needOCR) > 0 {
		et.Method = store.MethodOCR
	} else {
		et.Method = store.MethodDirectText
	}
	return strings.Join(kept, PageBreak), nil
}

func (e *Extractor) ocrPage(ctx context.Context, path string, page int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.OCRTimeout)
	defer cancel()

	img, err := e.raster.Rasterize(ctx, path, page, e.opts.DPI)
	if err != nil {
		return "", err
	}
	return e.ocr.Recognize(ctx, img)
}

// ExtractAll runs the extraction work queue over docs. Documents that
// already have a successful record are skipped unless force is set.
// Cancellation stops scheduling; documents already persisted stay intact.
func (e *Extractor) ExtractAll(ctx context.Context, docs []*store.Document, force bool, progress ui.ProgressFunc) (*Summary, error) {
	start := e.now()
	summary := newSummary()
	summary.Total = len(docs)

	var todo []*store.Document
	for _, doc := range docs {
		if !force {
			prev, err := e.meta.GetExtraction(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			if prev != nil && !prev.Failed() {
				summary.Skipped++
				summary.Succeeded++
				summary.Methods[prev.Method]++
				summary.TotalChars += int64(prev.CharCount)
				continue
			}
		}
		todo = append(todo, doc)
	}

	var (
		mu   sync.Mutex
		done atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for _, doc := range todo {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			et, err := e.extractOne(gctx, doc, progress)
			if err != nil && gctx.Err() != nil {
				// Cancelled mid-document; leave no record so a rerun retries it.
				return nil
			}
			// A finished document is persisted even if the batch is cancelled meanwhile.
			if perr := e.persist(context.WithoutCancel(gctx), et); perr != nil {
				return perr
			}
			if e.observe != nil {
				e.observe(et)
			}

			mu.Lock()
			summary.Methods[et.Method]++
			if et.Failed() {
				summary.Failed++
				summary.Failures[doc.ID] = et.Error
			} else {
				summary.Succeeded++
				summary.TotalChars += int64(et.CharCount)
			}
			mu.Unlock()

			if err != nil {
				e.logger.Warn("extraction failed", append([]any{slog.String("doc_id", doc.ID)}, docerrors.FormatForLog(err)...)...)
			} else {
				e.logger.Info("extracted document",
					slog.String("doc_id", doc.ID),
					slog.String("method", string(et.Method)),
					slog.Int("chars", et.CharCount),
					slog.Int("ocr_pages", et.OCRPages))
			}

			progress.Emit(ui.ProgressEvent{
				Stage:       ui.StageExtract,
				Current:     int(done.Add(1)),
				Total:       len(todo),
				CurrentFile: doc.ID,
			})
			return nil
		})
	}

	err := g.Wait()
	summary.Elapsed = e.now().Sub(start)
	if err != nil {
		return summary, err
	}
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// persist writes the text artifact before the record, so a record never
// points at missing text. FAILED records drop any stale artifact.
func (e *Extractor) persist(ctx context.Context, et *store.ExtractedText) error {
	if et.Failed() {
		if err := e.texts.Remove(et.DocID); err != nil {
			return err
		}
	} else if err := e.texts.Write(et.DocID, et.Content); err != nil {
		return err
	}
	return e.meta.SaveExtraction(ctx, et)
}

// WriteFailuresLog writes "docid: reason" lines for every failed document
// in the summary. An existing log is replaced; nothing is written when
// there are no failures.
func WriteFailuresLog(path string, s *Summary) error {
	if len(s.Failures) == 0 {
		return nil
	}
	var b strings.Builder
	for _, id := range s.FailedIDs() {
		fmt.Fprintf(&b, "%s: %s\n", id, s.Failures[id])
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
