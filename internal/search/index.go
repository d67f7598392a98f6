// Package search provides the full-text search index over extracted
// documents: a small boolean query language, BM25 ranking through Bleve or
// SQLite FTS5, highlighted snippets and atomic rebuilds.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/store"
)

// Backend names accepted in Options.Backend.
const (
	BackendBleve  = "bleve"
	BackendSQLite = "sqlite"
)

// DefaultLimit is used when Search is called with a non-positive limit.
const DefaultLimit = 10

// Result is one ranked search hit.
type Result struct {
	DocID        string  `json:"doc_id"`
	Filename     string  `json:"filename"`
	Organization string  `json:"organization,omitempty"`
	Category     string  `json:"category,omitempty"`
	FileType     string  `json:"file_type"`
	CharCount    int     `json:"char_count"`
	SourceURL    string  `json:"source_url,omitempty"`
	Method       string  `json:"method"`
	Snippet      string  `json:"snippet"`
	Score        float64 `json:"score"`
}

// Stats describes the index currently being served.
type Stats struct {
	Backend    string         `json:"backend"`
	Documents  int            `json:"documents"`
	Skipped    int            `json:"skipped"`
	TotalChars int64          `json:"total_chars"`
	ByFileType map[string]int `json:"by_file_type"`
	ByMethod   map[string]int `json:"by_method"`
	BuiltAt    time.Time      `json:"built_at"`
	BuildTime  time.Duration  `json:"build_time"`
}

// Options configures an Index.
type Options struct {
	// Backend is "bleve" (default) or "sqlite".
	Backend string
	// Dir holds the on-disk index. Empty keeps the index in memory.
	Dir string
	// SnippetTokens is the snippet window of the sqlite backend.
	SnippetTokens int
	Logger        *slog.Logger
}

// indexDoc is the flattened form handed to a backend.
type indexDoc struct {
	ID           string
	Content      string
	Filename     string
	Organization string
	Category     string
	FileType     string
	SourceURL    string
	Method       string
	CharCount    int
}

func (d indexDoc) fields() map[string]interface{} {
	preview := []rune(d.Content)
	if len(preview) > previewChars {
		preview = preview[:previewChars]
	}
	return map[string]interface{}{
		"content":      d.Content,
		"filename":     d.Filename,
		"organization": d.Organization,
		"category":     d.Category,
		"file_type":    d.FileType,
		"source_url":   d.SourceURL,
		"method":       d.Method,
		"char_count":   float64(d.CharCount),
		"preview":      string(preview),
	}
}

type backend interface {
	search(ctx context.Context, q Node, limit int) ([]Result, error)
	close() error
}

type backendKind interface {
	name() string
	fileName() string
	build(ctx context.Context, path string, docs []indexDoc, stats *Stats) (backend, error)
	open(path string) (backend, *Stats, error)
}

// snapshot is one immutable built index. Readers hold mu for reading while
// they query it; the swap that retires it takes mu for writing before
// closing, so in-flight searches always finish against the old index.
type snapshot struct {
	mu      sync.RWMutex
	closed  bool
	backend backend
	stats   Stats
}

func (s *snapshot) retire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.backend.close()
}

// Index is a rebuildable search index. Build replaces the served index
// atomically; Search never observes a partially built one.
type Index struct {
	opts   Options
	kind   backendKind
	logger *slog.Logger

	current atomic.Pointer[snapshot]
	buildMu sync.Mutex
}

// New returns an empty index. Call Build or Load before searching.
func New(opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var kind backendKind
	switch opts.Backend {
	case "", BackendBleve:
		opts.Backend = BackendBleve
		kind = bleveKind{}
	case BackendSQLite:
		kind = sqliteKind{snippetTokens: opts.SnippetTokens}
	default:
		return nil, docerrors.ConfigError(fmt.Sprintf("unknown search backend %q", opts.Backend), nil)
	}
	return &Index{opts: opts, kind: kind, logger: logger}, nil
}

// Backend returns the backend name.
func (ix *Index) Backend() string { return ix.kind.name() }

// Path returns the on-disk location of the served index, or "" in memory.
func (ix *Index) Path() string {
	if ix.opts.Dir == "" {
		return ""
	}
	return filepath.Join(ix.opts.Dir, ix.kind.fileName())
}

// Ready reports whether an index is available for searching.
func (ix *Index) Ready() bool { return ix.current.Load() != nil }

// Build indexes every non-FAILED entry and swaps the result in. FAILED
// entries are counted as skipped. On error the previous index keeps serving.
func (ix *Index) Build(ctx context.Context, corpus []*store.CorpusEntry) error {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	start := time.Now()
	docs, stats := prepare(corpus)
	stats.Backend = ix.kind.name()
	stats.BuiltAt = start

	if ix.opts.Dir == "" {
		b, err := ix.kind.build(ctx, "", docs, stats)
		if err != nil {
			return buildErr(err)
		}
		stats.BuildTime = time.Since(start)
		ix.swap(&snapshot{backend: b, stats: *stats})
		ix.logBuilt(stats)
		return nil
	}

	final := ix.Path()
	tmp := final + ".building"
	_ = os.RemoveAll(tmp)

	b, err := ix.kind.build(ctx, tmp, docs, stats)
	if err != nil {
		_ = os.RemoveAll(tmp)
		return buildErr(err)
	}
	if err := b.close(); err != nil {
		_ = os.RemoveAll(tmp)
		return buildErr(err)
	}

	old := final + ".old"
	_ = os.RemoveAll(old)
	if _, err := os.Stat(final); err == nil {
		if err := os.Rename(final, old); err != nil {
			_ = os.RemoveAll(tmp)
			return buildErr(err)
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.RemoveAll(tmp)
		return buildErr(err)
	}

	nb, _, err := ix.kind.open(final)
	if err != nil {
		return buildErr(err)
	}
	stats.BuildTime = time.Since(start)
	ix.swap(&snapshot{backend: nb, stats: *stats})
	_ = os.RemoveAll(old)
	ix.logBuilt(stats)
	return nil
}

func (ix *Index) logBuilt(stats *Stats) {
	ix.logger.Info("search_index_built",
		slog.String("backend", stats.Backend),
		slog.Int("documents", stats.Documents),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("elapsed", stats.BuildTime))
}

func buildErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return docerrors.New(docerrors.ErrCodeIndexFailed, "failed to build search index", err)
}

// Load opens the index persisted in Dir by an earlier Build. A missing
// index leaves the Index unavailable without error.
func (ix *Index) Load() error {
	if ix.opts.Dir == "" {
		return nil
	}
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	path := ix.Path()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	b, stats, err := ix.kind.open(path)
	if err != nil {
		return docerrors.New(docerrors.ErrCodeCorruptIndex, "search index is unreadable", err).
			WithDetail("path", path).
			WithSuggestion("Run 'docanalysis index' to rebuild it")
	}
	ix.swap(&snapshot{backend: b, stats: *stats})
	return nil
}

func (ix *Index) swap(next *snapshot) {
	prev := ix.current.Swap(next)
	if prev != nil {
		if err := prev.retire(); err != nil {
			ix.logger.Warn("search_index_close_failed", slog.String("error", err.Error()))
		}
	}
}

// acquire returns the served snapshot read-locked.
func (ix *Index) acquire() (*snapshot, error) {
	for {
		s := ix.current.Load()
		if s == nil {
			return nil, docerrors.IndexUnavailableError()
		}
		s.mu.RLock()
		if !s.closed {
			return s, nil
		}
		// Retired between Load and RLock; the pointer already moved on.
		s.mu.RUnlock()
	}
}

// Search parses query and returns up to limit results ranked by BM25,
// ties broken by document id. Syntax errors are reported before the index
// is consulted.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	q, err := Parse(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	s, err := ix.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	results, err := s.backend.search(ctx, q, limit)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeIndexFailed, "search failed", err).
			WithDetail("query", query)
	}
	return results, nil
}

// Stats returns statistics of the served index.
func (ix *Index) Stats() (*Stats, error) {
	s, err := ix.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	st := s.stats
	return &st, nil
}

// Close releases the served index. Later searches report the index as
// unavailable.
func (ix *Index) Close() error {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()
	prev := ix.current.Swap(nil)
	if prev == nil {
		return nil
	}
	return prev.retire()
}

// prepare flattens the corpus in document id order.
func prepare(corpus []*store.CorpusEntry) ([]indexDoc, *Stats) {
	stats := &Stats{
		ByFileType: make(map[string]int),
		ByMethod:   make(map[string]int),
	}
	docs := make([]indexDoc, 0, len(corpus))
	for _, e := range corpus {
		if e == nil || e.Document == nil || e.Extraction == nil || e.Extraction.Failed() {
			stats.Skipped++
			continue
		}
		d, et := e.Document, e.Extraction
		docs = append(docs, indexDoc{
			ID:           d.ID,
			Content:      et.Content,
			Filename:     d.Filename,
			Organization: d.Organization,
			Category:     d.Category,
			FileType:     string(d.FileType),
			SourceURL:    d.SourceURL,
			Method:       string(et.Method),
			CharCount:    et.CharCount,
		})
		stats.Documents++
		stats.TotalChars += int64(et.CharCount)
		stats.ByFileType[string(d.FileType)]++
		stats.ByMethod[string(et.Method)]++
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, stats
}
