// Package manifest reads the CSV manifest that lists the documents of a batch.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// Column header aliases, compared case-insensitively after trimming.
var (
	idHeaders       = []string{"document id", "document_id", "doc_id", "id"}
	urlHeaders      = []string{"attachment files", "attachment_files", "url", "urls", "source_url"}
	orgHeaders      = []string{"organization name", "organization", "org"}
	categoryHeaders = []string{"category"}
	commentHeaders  = []string{"comment", "comments"}
)

// Entry is one manifest row.
type Entry struct {
	Line         int
	DocumentID   string
	URLs         []string
	Organization string
	Category     string
	Comment      string
}

// RowError reports a row that was skipped or partially used.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Manifest is a parsed manifest. Rows with problems are listed in Errors;
// the remaining rows are still returned.
type Manifest struct {
	Entries []Entry
	Errors  []RowError
}

// ParseFile parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, docerrors.New(docerrors.ErrCodeFileNotFound,
			fmt.Sprintf("cannot open manifest %s", path), err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a manifest. A missing required column fails the whole read;
// malformed rows are collected and skipped.
func Parse(r io.Reader) (*Manifest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, docerrors.InputError("manifest has no header row", err)
	}
	// strip a UTF-8 BOM left by spreadsheet exports
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	cols := columnIndex(header)
	idCol, ok := lookup(cols, idHeaders)
	if !ok {
		return nil, missingColumn("Document ID")
	}
	urlCol, ok := lookup(cols, urlHeaders)
	if !ok {
		return nil, missingColumn("Attachment Files")
	}
	orgCol, _ := lookup(cols, orgHeaders)
	catCol, _ := lookup(cols, categoryHeaders)
	commentCol, _ := lookup(cols, commentHeaders)

	m := &Manifest{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			line := 0
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			m.Errors = append(m.Errors, RowError{Line: line, Err: rowErr(err.Error())})
			continue
		}
		line, _ := cr.FieldPos(0)
		if isBlank(record) {
			continue
		}

		id := field(record, idCol)
		if id == "" {
			m.Errors = append(m.Errors, RowError{Line: line, Err: rowErr("missing document id")})
			continue
		}

		valid, invalid := ParseAttachmentURLs(field(record, urlCol))
		for _, bad := range invalid {
			m.Errors = append(m.Errors, RowError{Line: line, Err: rowErr(fmt.Sprintf("invalid attachment url %q", bad))})
		}

		m.Entries = append(m.Entries, Entry{
			Line:         line,
			DocumentID:   id,
			URLs:         valid,
			Organization: field(record, orgCol),
			Category:     field(record, catCol),
			Comment:      field(record, commentCol),
		})
	}
	return m, nil
}

// ParseAttachmentURLs splits a comma separated attachment cell into valid
// and invalid URLs. A valid URL has both a scheme and a host.
func ParseAttachmentURLs(cell string) (valid, invalid []string) {
	for _, part := range strings.Split(cell, ",") {
		u := strings.TrimSpace(part)
		if u == "" {
			continue
		}
		if ValidURL(u) {
			valid = append(valid, u)
		} else {
			invalid = append(invalid, u)
		}
	}
	return valid, invalid
}

// ValidURL reports whether s parses with a scheme and host.
func ValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

var docketIDPattern = regexp.MustCompile(`[A-Z]{2,}-\d{4}-\d{4}-\d{4}`)

// DocIDFromFilename derives a document id from a file name: a docket style
// id (e.g. CMS-2025-0028-0042) anywhere in the name, else the name stem.
func DocIDFromFilename(name string) string {
	base := filepath.Base(name)
	if m := docketIDPattern.FindString(base); m != "" {
		return m
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func lookup(cols map[string]int, aliases []string) (int, bool) {
	for _, a := range aliases {
		if i, ok := cols[a]; ok {
			return i, true
		}
	}
	return -1, false
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func missingColumn(name string) error {
	return docerrors.New(docerrors.ErrCodeManifestColumn,
		fmt.Sprintf("manifest is missing required column %q", name), nil).
		WithSuggestion("The manifest needs 'Document ID' and 'Attachment Files' columns")
}

func rowErr(msg string) error {
	return docerrors.New(docerrors.ErrCodeManifestRow, msg, nil)
}
