package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mythorath/DocAnalysisTool/internal/cluster"
	"github.com/mythorath/DocAnalysisTool/internal/download"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/extract"
	"github.com/mythorath/DocAnalysisTool/internal/manifest"
	"github.com/mythorath/DocAnalysisTool/internal/report"
	"github.com/mythorath/DocAnalysisTool/internal/search"
	"github.com/mythorath/DocAnalysisTool/internal/store"
	"github.com/mythorath/DocAnalysisTool/internal/telemetry"
	"github.com/mythorath/DocAnalysisTool/internal/ui"
)

// IngestSummary describes files registered from a local directory.
type IngestSummary struct {
	Files    int `json:"files"`
	Added    int `json:"added"`
	Existing int `json:"existing"`
}

// Ingest registers every regular file directly inside dir as a document.
// The id is the file stem. When m is non-nil, organization, category and
// comment come from the manifest row whose document id appears in the
// file name.
func (p *Pipeline) Ingest(ctx context.Context, dir string, m *manifest.Manifest) (*IngestSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, docerrors.InputError(fmt.Sprintf("cannot read input directory %s", dir), err).
			WithSuggestion("Check the path passed with --input")
	}

	rows := make(map[string]manifest.Entry)
	if m != nil {
		for _, e := range m.Entries {
			rows[e.DocumentID] = e
		}
	}

	sum := &IngestSummary{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		sum.Files++

		doc := &store.Document{
			ID:       strings.TrimSuffix(name, filepath.Ext(name)),
			Filename: name,
			FileType: store.FileTypeFromName(name),
			Path:     filepath.Join(dir, name),
		}
		if row, ok := rows[manifest.DocIDFromFilename(name)]; ok {
			doc.Organization = row.Organization
			doc.Category = row.Category
			doc.Comment = row.Comment
			if len(row.URLs) == 1 {
				doc.SourceURL = row.URLs[0]
			}
		}
		if err := p.addDocument(ctx, doc, sum); err != nil {
			return sum, err
		}
	}

	p.logger.Info("ingest_complete",
		slog.String("dir", dir),
		slog.Int("files", sum.Files),
		slog.Int("added", sum.Added),
		slog.Int("existing", sum.Existing))
	return sum, nil
}

func (p *Pipeline) addDocument(ctx context.Context, doc *store.Document, sum *IngestSummary) error {
	_, created, err := p.meta.AddDocument(ctx, doc)
	if err != nil {
		return err
	}
	if created {
		sum.Added++
	} else {
		sum.Existing++
	}
	return nil
}

// DownloadSummary describes one download stage.
type DownloadSummary struct {
	IngestSummary
	Requested  int                 `json:"requested"`
	Downloaded int                 `json:"downloaded"`
	Skipped    int                 `json:"skipped"`
	Failed     int                 `json:"failed"`
	RowErrors  []manifest.RowError `json:"row_errors,omitempty"`
	Outcomes   []download.Outcome  `json:"-"`
	FailedLog  string              `json:"failed_log,omitempty"`
}

// Download fetches every attachment listed in the manifest at path and
// registers the files that are available locally. Failed URLs are listed
// in logs/failed_downloads.txt; they never stop the stage.
func (p *Pipeline) Download(ctx context.Context, manifestPath string) (*DownloadSummary, error) {
	m, err := manifest.ParseFile(manifestPath)
	if err != nil {
		return nil, err
	}
	for _, re := range m.Errors {
		p.logger.Warn("manifest_row_skipped", slog.Int("line", re.Line), slog.String("reason", re.Error()))
	}

	reqs := download.RequestsFromManifest(m.Entries)
	sum := &DownloadSummary{Requested: len(reqs), RowErrors: m.Errors}
	sum.Outcomes = p.download.Download(ctx, reqs)

	for _, o := range sum.Outcomes {
		switch {
		case o.Failure != nil:
			sum.Failed++
			p.metrics.RecordDownload(string(o.Failure.Kind))
			continue
		case o.Skipped:
			sum.Skipped++
			p.metrics.RecordDownload("skipped")
		default:
			sum.Downloaded++
			p.metrics.RecordDownload("ok")
		}
		if !o.OK() {
			continue
		}
		name := filepath.Base(o.Path)
		doc := &store.Document{
			ID:           strings.TrimSuffix(name, filepath.Ext(name)),
			SourceURL:    o.Request.URL,
			Filename:     name,
			Organization: o.Request.Organization,
			Category:     o.Request.Category,
			Comment:      o.Request.Comment,
			FileType:     store.FileTypeFromName(name),
			Path:         o.Path,
		}
		if err := p.addDocument(ctx, doc, &sum.IngestSummary); err != nil {
			return sum, err
		}
		sum.Files++
	}

	if n, err := download.WriteFailedLog(p.ws.FailedDownloadsLog(), sum.Outcomes); err != nil {
		p.logger.Warn("failed_downloads_log_write_failed", slog.String("error", err.Error()))
	} else if n > 0 {
		sum.FailedLog = p.ws.FailedDownloadsLog()
	}

	p.logger.Info("download_complete",
		slog.Int("requested", sum.Requested),
		slog.Int("downloaded", sum.Downloaded),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed))
	return sum, ctx.Err()
}

// Extract extracts text from every registered document. Documents with a
// stored extraction are left alone unless force is set. A failures log is
// written next to the pipeline log when any document failed.
func (p *Pipeline) Extract(ctx context.Context, force bool) (*extract.Summary, error) {
	docs, err := p.meta.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	sum, err := p.extractor.ExtractAll(ctx, docs, force, p.progress)
	if err != nil {
		return sum, err
	}

	path := p.ws.FailuresLog()
	if sum.Failed == 0 {
		_ = os.Remove(path)
		return sum, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sum, docerrors.New(docerrors.ErrCodeStorage, "create log directory", err)
	}
	if err := extract.WriteFailuresLog(path, sum); err != nil {
		p.logger.Warn("failures_log_write_failed", slog.String("error", err.Error()))
	}
	return sum, nil
}

// corpus joins every extraction with its document. Successful entries
// carry their text; FAILED entries are kept so later stages can report
// them as skipped.
func (p *Pipeline) corpus(ctx context.Context) ([]*store.CorpusEntry, error) {
	entries, _, err := store.LoadCorpus(ctx, p.meta, p.texts)
	if err != nil {
		return nil, err
	}
	extractions, err := p.meta.ListExtractions(ctx)
	if err != nil {
		return nil, err
	}
	for _, et := range extractions {
		if !et.Failed() {
			continue
		}
		doc, err := p.meta.GetDocument(ctx, et.DocID)
		if err != nil {
			continue
		}
		entries = append(entries, &store.CorpusEntry{Document: doc, Extraction: et})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Document.ID < entries[j].Document.ID
	})
	return entries, nil
}

// Index rebuilds the search index from the stored extractions. Queries
// keep being served by the previous index until the new one is in place.
func (p *Pipeline) Index(ctx context.Context) (*search.Stats, error) {
	entries, err := p.corpus(ctx)
	if err != nil {
		return nil, err
	}
	p.progress.Emit(ui.ProgressEvent{Stage: ui.StageIndex, Total: len(entries), Message: "building search index"})
	if err := p.index.Build(ctx, entries); err != nil {
		return nil, err
	}
	stats, err := p.index.Stats()
	if err != nil {
		return nil, err
	}
	p.progress.Emit(ui.ProgressEvent{Stage: ui.StageIndex, Current: len(entries), Total: len(entries)})
	p.metrics.RecordIndexBuild(stats.Documents, stats.BuildTime)
	return stats, nil
}

// Search runs query against the current index. A limit of zero or less
// uses search.default_limit.
func (p *Pipeline) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	if limit <= 0 {
		limit = p.cfg.Search.DefaultLimit
	}
	start := time.Now()
	results, err := p.index.Search(ctx, query, limit)
	elapsed := time.Since(start)

	p.metrics.RecordSearch(len(results), elapsed, err)
	if err != nil {
		return nil, err
	}
	p.queries.Record(telemetry.QueryEvent{
		Query:       query,
		ResultCount: len(results),
		Latency:     elapsed,
		Timestamp:   start,
	})
	return results, nil
}

// ClusterOutcome is a clustering run and the report written for it.
type ClusterOutcome struct {
	Result *cluster.Result
	Report *report.Report
	Paths  report.Paths
}

// Cluster groups the extracted corpus with method and writes
// reports/clusters_<method>.csv and .json. k is a positive cluster count
// or cluster.AutoK. Nothing is written when no document had text.
func (p *Pipeline) Cluster(ctx context.Context, method string, k int) (*ClusterOutcome, error) {
	entries, err := p.corpus(ctx)
	if err != nil {
		return nil, err
	}
	p.progress.Emit(ui.ProgressEvent{Stage: ui.StageCluster, Total: len(entries), Message: method})

	start := time.Now()
	res, err := p.engine.Cluster(ctx, entries, method, k)
	if err != nil {
		p.metrics.RecordCluster(method, 0, time.Since(start), err)
		return nil, err
	}
	p.metrics.RecordCluster(res.Method, res.EffectiveK, res.Elapsed, nil)
	p.progress.Emit(ui.ProgressEvent{Stage: ui.StageCluster, Current: len(entries), Total: len(entries)})

	out := &ClusterOutcome{Result: res, Report: report.Build(res, entries)}
	if len(res.Assignments) == 0 {
		return out, nil
	}
	if out.Paths, err = report.WriteFiles(p.ws.ReportDir(), out.Report); err != nil {
		return out, err
	}
	p.logger.Info("cluster_report_written",
		slog.String("method", res.Method),
		slog.String("csv", out.Paths.CSV),
		slog.String("json", out.Paths.JSON))
	return out, nil
}

// LatestCluster returns the stored result of the last run of method.
func (p *Pipeline) LatestCluster(ctx context.Context, method string) (*cluster.Result, error) {
	return p.engine.Latest(ctx, method)
}

// Stats describes the workspace.
type Stats struct {
	Workspace string                        `json:"workspace"`
	Store     *store.Stats                  `json:"store"`
	Index     *search.Stats                 `json:"index,omitempty"`
	Queries   *telemetry.QueryStatsSnapshot `json:"queries,omitempty"`
}

// Stats gathers store, index and query statistics. Query statistics
// recorded by this process are flushed first.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	st, err := p.meta.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Workspace: p.ws.Root, Store: st}
	if p.index.Ready() {
		if out.Index, err = p.index.Stats(); err != nil {
			return nil, err
		}
	}
	if err := p.queries.Flush(ctx); err != nil {
		p.logger.Warn("query_stats_flush_failed", docerrors.FormatForLog(err)...)
	}
	if out.Queries, err = p.queryStore.Load(ctx, 10, 10); err != nil {
		return nil, err
	}
	return out, nil
}
