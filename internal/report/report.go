// Package report exports a clustering run as a per-document CSV table and a
// JSON document with the full run metadata, and reads both back.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mythorath/DocAnalysisTool/internal/cluster"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/store"
	"github.com/mythorath/DocAnalysisTool/internal/textproc"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"filename",
	"document_id",
	"organization",
	"category",
	"source_url",
	"cluster_id",
	"cluster_size",
	"cluster_keywords",
	"document_keywords_tfidf",
	"document_keywords_frequency",
	"character_count",
	"word_count",
	"summary",
	"clustering_method",
}

// keywordSep joins keyword lists inside one CSV cell.
const keywordSep = "; "

// Row is one document of the tabular report. Documents skipped by the run
// (failed extraction) have a nil ClusterID.
type Row struct {
	Filename          string   `json:"filename"`
	DocumentID        string   `json:"document_id"`
	Organization      string   `json:"organization"`
	Category          string   `json:"category"`
	SourceURL         string   `json:"source_url"`
	ClusterID         *int     `json:"cluster_id"`
	ClusterSize       int      `json:"cluster_size"`
	ClusterKeywords   []string `json:"cluster_keywords"`
	TFIDFKeywords     []string `json:"document_keywords_tfidf"`
	FrequencyKeywords []string `json:"document_keywords_frequency"`
	CharacterCount    int      `json:"character_count"`
	WordCount         int      `json:"word_count"`
	Summary           string   `json:"summary"`
	ClusteringMethod  string   `json:"clustering_method"`
}

// Report is the structured export of one clustering run.
type Report struct {
	GeneratedAt time.Time            `json:"generated_at"`
	RunID       string               `json:"run_id"`
	Method      string               `json:"method"`
	RequestedK  int                  `json:"requested_k"`
	EffectiveK  int                  `json:"effective_k"`
	Params      cluster.Params       `json:"parameters"`
	Metrics     cluster.Metrics      `json:"metrics"`
	Warnings    []string             `json:"warnings"`
	Skipped     []string             `json:"skipped"`
	Clusters    []cluster.Descriptor `json:"clusters"`
	Documents   []Row                `json:"documents"`
}

// Build joins a clustering result with the corpus it was computed from.
// Rows follow document id order; skipped documents are included without a
// cluster.
func Build(res *cluster.Result, entries []*store.CorpusEntry) *Report {
	rep := &Report{
		GeneratedAt: time.Now().UTC(),
		RunID:       res.RunID,
		Method:      res.Method,
		RequestedK:  res.RequestedK,
		EffectiveK:  res.EffectiveK,
		Params:      res.Params,
		Metrics:     res.Metrics,
		Warnings:    append([]string{}, res.Warnings...),
		Skipped:     append([]string{}, res.Skipped...),
		Clusters:    res.Descriptors,
	}

	byID := make(map[string]*store.CorpusEntry, len(entries))
	for _, e := range entries {
		if e != nil && e.Document != nil {
			byID[e.Document.ID] = e
		}
	}

	for _, a := range res.Assignments {
		row := baseRow(byID[a.DocID], a.DocID, res.Method)
		id := a.ClusterID
		row.ClusterID = &id
		if d, ok := res.Descriptor(a.ClusterID); ok {
			row.ClusterSize = d.Size
			row.ClusterKeywords = d.Keywords
		}
		row.TFIDFKeywords = a.TFIDFKeywords
		row.FrequencyKeywords = a.FrequencyKeywords
		rep.Documents = append(rep.Documents, row)
	}
	for _, id := range res.Skipped {
		rep.Documents = append(rep.Documents, baseRow(byID[id], id, res.Method))
	}
	sort.SliceStable(rep.Documents, func(i, j int) bool {
		return rep.Documents[i].DocumentID < rep.Documents[j].DocumentID
	})
	return rep
}

func baseRow(e *store.CorpusEntry, id, method string) Row {
	row := Row{DocumentID: id, ClusteringMethod: method}
	if e == nil {
		return row
	}
	row.Filename = e.Document.Filename
	row.Organization = e.Document.Organization
	row.Category = e.Document.Category
	row.SourceURL = e.Document.SourceURL
	if e.Extraction != nil && !e.Extraction.Failed() {
		row.CharacterCount = e.Extraction.CharCount
		row.WordCount = textproc.WordCount(e.Extraction.Content)
		row.Summary = textproc.Summary(e.Extraction.Content)
	}
	return row
}

// Assignments returns the document id to cluster id mapping of rows,
// leaving out skipped documents.
func Assignments(rows []Row) map[string]int {
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.ClusterID != nil {
			out[r.DocumentID] = *r.ClusterID
		}
	}
	return out
}

// WriteCSV writes the header and one record per document.
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rep.Documents {
		cid := ""
		if r.ClusterID != nil {
			cid = strconv.Itoa(*r.ClusterID)
		}
		record := []string{
			r.Filename,
			r.DocumentID,
			r.Organization,
			r.Category,
			r.SourceURL,
			cid,
			strconv.Itoa(r.ClusterSize),
			strings.Join(r.ClusterKeywords, keywordSep),
			strings.Join(r.TFIDFKeywords, keywordSep),
			strings.Join(r.FrequencyKeywords, keywordSep),
			strconv.Itoa(r.CharacterCount),
			strconv.Itoa(r.WordCount),
			r.Summary,
			r.ClusteringMethod,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes rep as indented JSON.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// ParseCSV reads a table written by WriteCSV. Columns are located by name,
// so extra or reordered columns are tolerated; missing ones are an input
// error.
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, docerrors.InputError("report has no header row", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, name := range Columns {
		if _, ok := col[name]; !ok {
			return nil, docerrors.New(docerrors.ErrCodeManifestColumn,
				fmt.Sprintf("report is missing column %q", name), nil)
		}
	}

	var rows []Row
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, docerrors.InputError(fmt.Sprintf("report line %d", line), err)
		}
		get := func(name string) string { return record[col[name]] }

		row := Row{
			Filename:          get("filename"),
			DocumentID:        get("document_id"),
			Organization:      get("organization"),
			Category:          get("category"),
			SourceURL:         get("source_url"),
			ClusterKeywords:   splitKeywords(get("cluster_keywords")),
			TFIDFKeywords:     splitKeywords(get("document_keywords_tfidf")),
			FrequencyKeywords: splitKeywords(get("document_keywords_frequency")),
			Summary:           get("summary"),
			ClusteringMethod:  get("clustering_method"),
		}
		if s := strings.TrimSpace(get("cluster_id")); s != "" {
			id, err := strconv.Atoi(s)
			if err != nil {
				return nil, docerrors.InputError(fmt.Sprintf("report line %d: bad cluster_id %q", line, s), err)
			}
			row.ClusterID = &id
		}
		for name, dst := range map[string]*int{
			"cluster_size":    &row.ClusterSize,
			"character_count": &row.CharacterCount,
			"word_count":      &row.WordCount,
		} {
			if *dst, err = atoiOrZero(get(name)); err != nil {
				return nil, docerrors.InputError(fmt.Sprintf("report line %d: bad %s", line, name), err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseJSON reads a report written by WriteJSON.
func ParseJSON(r io.Reader) (*Report, error) {
	var rep Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, docerrors.InputError("malformed JSON report", err)
	}
	return &rep, nil
}

func splitKeywords(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, keywordSep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func atoiOrZero(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// Paths are the files written by WriteFiles.
type Paths struct {
	CSV  string
	JSON string
}

// WriteFiles writes clusters_<method>.csv and clusters_<method>.json into
// dir, each replaced atomically.
func WriteFiles(dir string, rep *Report) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, docerrors.New(docerrors.ErrCodeStorage, "create report directory", err)
	}
	p := Paths{
		CSV:  filepath.Join(dir, "clusters_"+rep.Method+".csv"),
		JSON: filepath.Join(dir, "clusters_"+rep.Method+".json"),
	}
	if err := writeAtomic(p.CSV, func(w io.Writer) error { return WriteCSV(w, rep) }); err != nil {
		return Paths{}, err
	}
	if err := writeAtomic(p.JSON, func(w io.Writer) error { return WriteJSON(w, rep) }); err != nil {
		return Paths{}, err
	}
	return p, nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-report-*")
	if err != nil {
		return docerrors.New(docerrors.ErrCodeStorage, "create report file", err)
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return docerrors.New(docerrors.ErrCodeStorage, "write report", err).WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return docerrors.New(docerrors.ErrCodeStorage, "close report", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return docerrors.New(docerrors.ErrCodeStorage, "rename report", err)
	}
	return nil
}
