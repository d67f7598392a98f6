package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mythorath/DocAnalysisTool/internal/manifest"
	"github.com/mythorath/DocAnalysisTool/internal/ui"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CMS-2025-0028-0001", "CMS-2025-0028-0001"},
		{`a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"two  words\there", "two_words_here"},
		{"..hidden..", "hidden"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFileName(tt.in), tt.in)
	}
}

func TestSanitizeFileName_CapsLength(t *testing.T) {
	long := strings.Repeat("x", 250) + ".pdf"

	got := SanitizeFileName(long)

	assert.Len(t, got, 194)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "pdf attachment with number",
			req:  Request{DocumentID: "CMS-2025-0028-0001", URL: "https://downloads.example.gov/CMS-2025-0028-0001/attachment_2.pdf"},
			want: "CMS-2025-0028-0001_attachment_2.pdf",
		},
		{
			name: "docx before doc",
			req:  Request{DocumentID: "D1", URL: "https://example.com/files/letter.docx"},
			want: "D1.docx",
		},
		{
			name: "unknown extension defaults to pdf",
			req:  Request{DocumentID: "D2", URL: "https://example.com/download?id=7"},
			want: "D2.pdf",
		},
		{
			name: "spreadsheet",
			req:  Request{DocumentID: "D 3", URL: "https://example.com/x/data.xlsx"},
			want: "D_3.xlsx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.req))
		})
	}
}

func TestRequestsFromManifest(t *testing.T) {
	entries := []manifest.Entry{
		{DocumentID: "A", URLs: []string{"https://x/1.pdf", "https://x/2.pdf"}, Organization: "Org"},
		{DocumentID: "B"},
		{DocumentID: "C", URLs: []string{"https://x/3.docx"}},
	}

	reqs := RequestsFromManifest(entries)

	require.Len(t, reqs, 3)
	assert.Equal(t, "A", reqs[1].DocumentID)
	assert.Equal(t, "Org", reqs[1].Organization)
	assert.Equal(t, "https://x/3.docx", reqs[2].URL)
}

func newTestDownloader(t *testing.T, opts Options) *HTTPDownloader {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.InitialBackoff = time.Millisecond
	d, err := NewHTTPDownloader(opts)
	require.NoError(t, err)
	return d
}

func TestHTTPDownloader_Success(t *testing.T) {
	// Given: a server returning a small PDF body
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docanalysis-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	var events []ui.ProgressEvent
	var mu sync.Mutex
	d := newTestDownloader(t, Options{
		UserAgent: "docanalysis-test",
		Progress: func(ev ui.ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		},
	})

	// When: downloading one request
	out := d.Download(context.Background(), []Request{{DocumentID: "DOC-1", URL: srv.URL + "/DOC-1/attachment_1.pdf"}})

	// Then: the file lands under the derived name
	require.Len(t, out, 1)
	require.True(t, out[0].OK(), "failure: %v", out[0].Failure)
	assert.Equal(t, filepath.Join(d.opts.Dir, "DOC-1_attachment_1.pdf"), out[0].Path)
	data, err := os.ReadFile(out[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))
	assert.Equal(t, int64(len(data)), out[0].Bytes)
	require.Len(t, events, 1)
	assert.Equal(t, ui.StageDownload, events[0].Stage)
}

func TestHTTPDownloader_SkipsExisting(t *testing.T) {
	// Given: the target file already exists
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DOC-1.pdf"), []byte("cached"), 0o644))
	d := newTestDownloader(t, Options{Dir: dir})

	// When: downloading
	out := d.Download(context.Background(), []Request{{DocumentID: "DOC-1", URL: srv.URL + "/a.pdf"}})

	// Then: no request is made and the outcome is marked skipped
	assert.True(t, out[0].Skipped)
	assert.True(t, out[0].OK())
	assert.Zero(t, hits.Load())
}

func TestHTTPDownloader_RetriesServerErrors(t *testing.T) {
	// Given: a server that fails twice then succeeds
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := newTestDownloader(t, Options{MaxRetries: 2})

	// When: downloading
	out := d.Download(context.Background(), []Request{{DocumentID: "R", URL: srv.URL + "/r.pdf"}})

	// Then: the third attempt succeeds
	assert.True(t, out[0].OK())
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPDownloader_NotFoundIsFinal(t *testing.T) {
	// Given: a server returning 404
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := newTestDownloader(t, Options{MaxRetries: 3})

	// When: downloading
	out := d.Download(context.Background(), []Request{{DocumentID: "N", URL: srv.URL + "/missing.pdf"}})

	// Then: an http_status failure is reported after one attempt
	require.NotNil(t, out[0].Failure)
	assert.Equal(t, FailureHTTPStatus, out[0].Failure.Kind)
	assert.Equal(t, http.StatusNotFound, out[0].Failure.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.NoFileExists(t, filepath.Join(d.opts.Dir, "N.pdf"))
}

func TestHTTPDownloader_Timeout(t *testing.T) {
	// Given: a server slower than the timeout
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	d := newTestDownloader(t, Options{Timeout: 20 * time.Millisecond})

	// When: downloading
	out := d.Download(context.Background(), []Request{{DocumentID: "T", URL: srv.URL + "/slow.pdf"}})

	// Then: the failure is typed as a timeout
	require.NotNil(t, out[0].Failure)
	assert.Equal(t, FailureTimeout, out[0].Failure.Kind)
}

func TestHTTPDownloader_NetworkFailure(t *testing.T) {
	// Given: a server that is already closed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := newTestDownloader(t, Options{})

	// When: downloading
	out := d.Download(context.Background(), []Request{{DocumentID: "X", URL: url + "/x.pdf"}})

	// Then: the failure is a network failure
	require.NotNil(t, out[0].Failure)
	assert.Equal(t, FailureNetwork, out[0].Failure.Kind)
}

func TestHTTPDownloader_PreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	d := newTestDownloader(t, Options{Workers: 3})
	var reqs []Request
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		reqs = append(reqs, Request{DocumentID: id, URL: srv.URL + "/" + id + ".pdf"})
	}

	out := d.Download(context.Background(), reqs)

	require.Len(t, out, 5)
	for i, o := range out {
		assert.Equal(t, reqs[i].DocumentID, o.Request.DocumentID)
		assert.True(t, o.OK())
	}
}

func TestWriteFailedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "failed_links.txt")
	outcomes := []Outcome{
		{Request: Request{DocumentID: "A", URL: "https://x/a"}, Path: "/tmp/a.pdf"},
		{Request: Request{DocumentID: "B", URL: "https://x/b"}, Failure: &Failure{Kind: FailureHTTPStatus, StatusCode: 500}},
	}

	n, err := WriteFailedLog(path, outcomes)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "B: https://x/b (http_status: unexpected status 500)")
	assert.NotContains(t, string(data), "A:")
}

func TestWriteFailedLog_NothingFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.txt")

	n, err := WriteFailedLog(path, []Outcome{{Path: "/x"}})

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, path)
}
