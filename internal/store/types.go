// Package store persists documents, extracted text and cluster results.
// Metadata lives in SQLite; extracted text is kept as one artifact file per
// document so later stages never re-read the original bytes.
package store

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// FileType is the classified type of a source document.
type FileType string

const (
	FileTypePDF   FileType = "PDF"
	FileTypeDOCX  FileType = "DOCX"
	FileTypeOther FileType = "OTHER"
)

// FileTypeFromName classifies by extension only. Content sniffing happens in
// the extractor, which may refine OTHER into PDF or DOCX.
func FileTypeFromName(name string) FileType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FileTypePDF
	case ".docx":
		return FileTypeDOCX
	default:
		return FileTypeOther
	}
}

// Method records how a document's text was obtained.
type Method string

const (
	MethodDirectText Method = "DIRECT_TEXT"
	MethodOCR        Method = "OCR"
	MethodDOCXParse  Method = "DOCX_PARSE"
	MethodFailed     Method = "FAILED"
)

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodDirectText, MethodOCR, MethodDOCXParse, MethodFailed:
		return true
	}
	return false
}

// Document is an input document. Immutable once added.
type Document struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"source_url,omitempty"`
	Filename     string    `json:"filename"`
	Organization string    `json:"organization,omitempty"`
	Category     string    `json:"category,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	FileType     FileType  `json:"file_type"`
	Path         string    `json:"path"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExtractedText is the extraction outcome for one document.
// FAILED records have empty Content and a non-empty Error.
type ExtractedText struct {
	DocID       string        `json:"doc_id"`
	Content     string        `json:"-"`
	Method      Method        `json:"method"`
	CharCount   int           `json:"char_count"`
	UnitCount   int           `json:"unit_count"`
	OCRPages    int           `json:"ocr_pages"`
	ExtractedAt time.Time     `json:"extracted_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Error       string        `json:"error,omitempty"`
}

// Failed reports whether extraction failed.
func (e *ExtractedText) Failed() bool {
	return e.Method == MethodFailed
}

// CorpusEntry joins a document with its extraction. Content is loaded from
// the artifact store.
type CorpusEntry struct {
	Document   *Document
	Extraction *ExtractedText
}

// Stats summarises the metadata store.
type Stats struct {
	Documents      int              `json:"documents"`
	Extracted      int              `json:"extracted"`
	Failed         int              `json:"failed"`
	TotalChars     int64            `json:"total_chars"`
	ByFileType     map[FileType]int `json:"by_file_type"`
	ByMethod       map[Method]int   `json:"by_method"`
	ClusterMethods []string         `json:"cluster_methods,omitempty"`
}

// ClusterRun is a persisted clustering result. Payload is the serialized
// result owned by the cluster package; Assignments maps doc id to cluster id
// for quick lookups.
type ClusterRun struct {
	RunID       string
	Method      string
	CreatedAt   time.Time
	Payload     []byte
	Assignments map[string]int
}

// MetadataStore is the document metadata store.
type MetadataStore interface {
	// AddDocument inserts doc unless its id exists; it returns the stored
	// record and whether it was newly created.
	AddDocument(ctx context.Context, doc *Document) (*Document, bool, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)

	// SaveExtraction replaces any previous extraction for the document.
	SaveExtraction(ctx context.Context, et *ExtractedText) error
	GetExtraction(ctx context.Context, docID string) (*ExtractedText, error)
	ListExtractions(ctx context.Context) ([]*ExtractedText, error)

	// SaveClusterRun atomically replaces the stored run for run.Method.
	SaveClusterRun(ctx context.Context, run *ClusterRun) error
	GetClusterRun(ctx context.Context, method string) (*ClusterRun, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
