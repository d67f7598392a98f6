package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/ui"
)

// Defaults for HTTPDownloader.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultWorkers   = 4
	DefaultUserAgent = "docanalysis/1.0"
)

// Options configures an HTTPDownloader.
type Options struct {
	Dir string
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	Timeout    time.Duration
	// RequestsPerSecond limits request starts across all workers.
	// Zero disables limiting.
	RequestsPerSecond float64
	Workers           int
	UserAgent         string
	// InitialBackoff is the first retry delay; it doubles on each retry.
	InitialBackoff time.Duration
	Client         *http.Client
	Logger         *slog.Logger
	Progress       ui.ProgressFunc
}

// HTTPDownloader downloads over HTTP with retries and rate limiting.
type HTTPDownloader struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Downloader = (*HTTPDownloader)(nil)

// NewHTTPDownloader creates a downloader writing into opts.Dir.
func NewHTTPDownloader(opts Options) (*HTTPDownloader, error) {
	if opts.Dir == "" {
		return nil, docerrors.ConfigError("download directory is required", nil)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, docerrors.New(docerrors.ErrCodeStorage, "failed to create download directory", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &HTTPDownloader{opts: opts, client: client, limiter: limiter, logger: logger}, nil
}

// Download implements Downloader. Files that already exist are skipped.
// Cancellation stops new requests; their outcomes carry the context error.
func (d *HTTPDownloader) Download(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i, req := range reqs {
		g.Go(func() error {
			outcomes[i] = d.downloadOne(gctx, req)
			n := done.Add(1)
			d.opts.Progress.Emit(ui.ProgressEvent{
				Stage:       ui.StageDownload,
				Current:     int(n),
				Total:       len(reqs),
				CurrentFile: req.DocumentID,
			})
			return nil
		})
	}
	_ = g.Wait()

	var ok, skipped, failed int
	for _, o := range outcomes {
		switch {
		case o.Failure != nil:
			failed++
		case o.Skipped:
			skipped++
		default:
			ok++
		}
	}
	d.logger.Info("download complete", slog.Int("downloaded", ok), slog.Int("skipped", skipped), slog.Int("failed", failed))
	return outcomes
}

func (d *HTTPDownloader) downloadOne(ctx context.Context, req Request) Outcome {
	dest := filepath.Join(d.opts.Dir, FileName(req))
	out := Outcome{Request: req}

	if info, err := os.Stat(dest); err == nil && !info.IsDir() {
		d.logger.Debug("skipping existing file", slog.String("path", dest))
		out.Path = dest
		out.Skipped = true
		out.Bytes = info.Size()
		return out
	}

	retry := docerrors.RetryConfig{
		MaxRetries:   d.opts.MaxRetries,
		InitialDelay: d.opts.InitialBackoff,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  retryable,
	}
	attempt := 0
	n, err := docerrors.RetryWithResult(ctx, retry, func() (int64, error) {
		attempt++
		n, err := d.fetch(ctx, req.URL, dest)
		if err != nil {
			d.logger.Warn("download attempt failed",
				slog.String("doc_id", req.DocumentID),
				slog.String("url", req.URL),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return n, err
	})
	if err != nil {
		var f *Failure
		if !asFailure(err, &f) {
			f = &Failure{Kind: classify(err), Err: err}
		}
		out.Failure = f
		d.logger.Error("download failed", slog.String("doc_id", req.DocumentID), slog.String("url", req.URL), slog.String("error", f.Error()))
		return out
	}

	out.Path = dest
	out.Bytes = n
	return out
}

// fetch downloads url into dest via a temp file so a partial body never
// looks like a finished download.
func (d *HTTPDownloader) fetch(ctx context.Context, url, dest string) (int64, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return 0, &Failure{Kind: classify(err), Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &Failure{Kind: FailureNetwork, Err: err}
	}
	httpReq.Header.Set("User-Agent", d.opts.UserAgent)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, &Failure{Kind: classify(err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &Failure{
			Kind:       FailureHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("GET %s: %s", url, resp.Status),
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, docerrors.New(docerrors.ErrCodeStorage, "failed to create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, &Failure{Kind: classify(err), Err: err}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, docerrors.New(docerrors.ErrCodeStorage, "failed to move download into place", err)
	}
	return n, nil
}

// retryable retries transport failures, 5xx and 429. Other statuses and
// local storage errors are final.
func retryable(err error) bool {
	var f *Failure
	if !asFailure(err, &f) {
		return false
	}
	if f.Kind == FailureHTTPStatus {
		return f.StatusCode >= 500 || f.StatusCode == http.StatusTooManyRequests
	}
	return true
}
