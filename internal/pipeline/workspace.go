package pipeline

import (
	"path/filepath"

	"github.com/mythorath/DocAnalysisTool/internal/config"
	"github.com/mythorath/DocAnalysisTool/internal/logging"
)

// Workspace is the directory one batch lives in:
//
//	<root>/docanalysis.db        documents, extractions, cluster runs, query stats
//	<root>/text/<docid>.txt      extracted text artifacts
//	<root>/index/                search index
//	<root>/reports/              clusters_<method>.csv/.json
//	<root>/logs/                 docanalysis.log, failures.log, failed_downloads.txt
//	<root>/downloads/            fetched attachments (download.dir)
type Workspace struct {
	Root        string
	downloadDir string
}

// NewWorkspace resolves the workspace layout for cfg. A relative
// download.dir is placed inside the workspace.
func NewWorkspace(cfg *config.Config) Workspace {
	dl := cfg.Download.Dir
	if dl == "" {
		dl = "downloads"
	}
	if !filepath.IsAbs(dl) {
		dl = filepath.Join(cfg.Workspace, dl)
	}
	return Workspace{Root: cfg.Workspace, downloadDir: dl}
}

func (w Workspace) DBPath() string      { return filepath.Join(w.Root, "docanalysis.db") }
func (w Workspace) TextDir() string     { return filepath.Join(w.Root, "text") }
func (w Workspace) IndexDir() string    { return filepath.Join(w.Root, "index") }
func (w Workspace) ReportDir() string   { return filepath.Join(w.Root, "reports") }
func (w Workspace) DownloadDir() string { return w.downloadDir }

// FailuresLog lists documents whose extraction failed.
func (w Workspace) FailuresLog() string { return logging.FailuresPath(w.Root) }

// FailedDownloadsLog lists manifest URLs that could not be fetched.
func (w Workspace) FailedDownloadsLog() string {
	return filepath.Join(logging.LogDir(w.Root), "failed_downloads.txt")
}
