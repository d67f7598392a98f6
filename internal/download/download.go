// Package download fetches the source documents listed in a manifest.
//
// The pipeline depends only on the Downloader interface. Retries, rate
// limits and file naming are details of the HTTP implementation and are
// invisible to callers, which see a local path or a typed failure.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mythorath/DocAnalysisTool/internal/manifest"
)

// FailureKind classifies a failed download.
type FailureKind string

const (
	FailureNetwork    FailureKind = "network"
	FailureHTTPStatus FailureKind = "http_status"
	FailureTimeout    FailureKind = "timeout"
)

// Failure is the typed error carried by a failed Outcome.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f.Kind == FailureHTTPStatus {
		return fmt.Sprintf("%s: unexpected status %d", f.Kind, f.StatusCode)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Request asks for one URL belonging to a document.
type Request struct {
	DocumentID   string
	URL          string
	Organization string
	Category     string
	Comment      string
}

// Outcome is the result of one Request. Exactly one of Path or Failure is set.
type Outcome struct {
	Request Request
	Path    string
	Skipped bool
	Bytes   int64
	Failure *Failure
}

// OK reports whether the file is available locally.
func (o Outcome) OK() bool {
	return o.Failure == nil && o.Path != ""
}

// Downloader turns requests into local files. Outcomes are returned in
// request order.
type Downloader interface {
	Download(ctx context.Context, reqs []Request) []Outcome
}

// RequestsFromManifest expands manifest rows into one request per URL.
func RequestsFromManifest(entries []manifest.Entry) []Request {
	var reqs []Request
	for _, e := range entries {
		for _, u := range e.URLs {
			reqs = append(reqs, Request{
				DocumentID:   e.DocumentID,
				URL:          u,
				Organization: e.Organization,
				Category:     e.Category,
				Comment:      e.Comment,
			})
		}
	}
	return reqs
}

var (
	unsafeChars    = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	attachmentPart = regexp.MustCompile(`attachment_(\d+)`)
)

const maxFileNameLen = 200

// SanitizeFileName replaces characters that are unsafe in file names and
// caps the length, keeping the extension.
func SanitizeFileName(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, ".")
	if len(name) > maxFileNameLen {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		name = stem[:min(len(stem), 190)] + ext
	}
	return name
}

// extensions are probed in order against the lowercased URL path; .docx
// must come before .doc.
var extensions = []string{".docx", ".doc", ".xlsx", ".xls", ".txt", ".pdf"}

// FileName derives the local file name for a request:
// <sanitized id>[_attachment_N].<ext>, where N comes from the URL and the
// extension defaults to .pdf.
func FileName(req Request) string {
	base := SanitizeFileName(req.DocumentID)

	ext := ".pdf"
	if u, err := url.Parse(req.URL); err == nil && u.Path != "" {
		p := strings.ToLower(path.Clean(u.Path))
		for _, e := range extensions {
			if strings.Contains(p, e) {
				ext = e
				break
			}
		}
	}

	if m := attachmentPart.FindStringSubmatch(req.URL); m != nil {
		return fmt.Sprintf("%s_attachment_%s%s", base, m[1], ext)
	}
	return base + ext
}

// WriteFailedLog writes one "docid: url (reason)" line per failed outcome.
// Nothing is written when every download succeeded.
func WriteFailedLog(file string, outcomes []Outcome) (int, error) {
	var b strings.Builder
	n := 0
	for _, o := range outcomes {
		if o.Failure == nil {
			continue
		}
		n++
		fmt.Fprintf(&b, "%s: %s (%v)\n", o.Request.DocumentID, o.Request.URL, o.Failure)
	}
	if n == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return 0, err
	}
	header := "Failed Downloads:\n" + strings.Repeat("=", 50) + "\n"
	return n, os.WriteFile(file, []byte(header+b.String()), 0o644)
}

// classify maps a transport error to a failure kind.
func classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return FailureTimeout
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return FailureTimeout
	}
	return FailureNetwork
}

func asFailure(err error, target **Failure) bool {
	return errors.As(err, target)
}
