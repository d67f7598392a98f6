package report

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mythorath/DocAnalysisTool/internal/cluster"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/store"
)

func corpus() []*store.CorpusEntry {
	texts := map[string]string{
		"CMS-0001": "Medicare physician payment schedule, reimbursement and billing for clinicians.",
		"CMS-0002": "The physician payment schedule lowers Medicare reimbursement; clinicians object.",
		"CMS-0003": "Wildfire smoke and drought force evacuation planning in rural forest counties.",
		"CMS-0004": "Rural counties plan wildfire evacuation as drought and smoke spread, \"forest\" cover burns.",
	}
	var out []*store.CorpusEntry
	for id, text := range texts {
		out = append(out, &store.CorpusEntry{
			Document: &store.Document{
				ID:           id,
				Filename:     id + ".pdf",
				Organization: "Acme, Inc.",
				Category:     "Health Care Provider",
				SourceURL:    "https://downloads.example.gov/" + id + ".pdf",
			},
			Extraction: &store.ExtractedText{DocID: id, Content: text, Method: store.MethodDirectText, CharCount: len(text)},
		})
	}
	out = append(out, &store.CorpusEntry{
		Document:   &store.Document{ID: "CMS-0005", Filename: "CMS-0005.pdf"},
		Extraction: &store.ExtractedText{DocID: "CMS-0005", Method: store.MethodFailed, Error: "corrupt"},
	})
	return out
}

func clustered(t *testing.T) (*cluster.Result, []*store.CorpusEntry) {
	t.Helper()
	entries := corpus()
	res, err := cluster.NewEngine(cluster.DefaultOptions(), nil, nil, nil).
		Cluster(context.Background(), entries, cluster.MethodKMeans, 2)
	require.NoError(t, err)
	return res, entries
}

func TestBuild_OneRowPerDocument(t *testing.T) {
	res, entries := clustered(t)

	rep := Build(res, entries)

	require.Len(t, rep.Documents, 5)
	for i := 1; i < len(rep.Documents); i++ {
		assert.Less(t, rep.Documents[i-1].DocumentID, rep.Documents[i].DocumentID)
	}
	skipped := rep.Documents[4]
	assert.Equal(t, "CMS-0005", skipped.DocumentID)
	assert.Nil(t, skipped.ClusterID)
	assert.Equal(t, []string{"CMS-0005"}, rep.Skipped)

	first := rep.Documents[0]
	require.NotNil(t, first.ClusterID)
	assert.Positive(t, first.ClusterSize)
	assert.NotEmpty(t, first.ClusterKeywords)
	assert.NotEmpty(t, first.Summary)
	assert.Positive(t, first.WordCount)
	assert.Equal(t, cluster.MethodKMeans, first.ClusteringMethod)
}

func TestCSV_Header(t *testing.T) {
	res, entries := clustered(t)
	var buf bytes.Buffer

	require.NoError(t, WriteCSV(&buf, Build(res, entries)))

	header := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, strings.Join(Columns, ","), header)
	assert.Len(t, Columns, 14)
}

func TestRoundTrip_SameAssignments(t *testing.T) {
	// Given: an exported clustering run
	res, entries := clustered(t)
	rep := Build(res, entries)
	want := make(map[string]int)
	for _, a := range res.Assignments {
		want[a.DocID] = a.ClusterID
	}

	// When: writing and re-reading both formats
	var csvBuf, jsonBuf bytes.Buffer
	require.NoError(t, WriteCSV(&csvBuf, rep))
	require.NoError(t, WriteJSON(&jsonBuf, rep))
	rows, err := ParseCSV(&csvBuf)
	require.NoError(t, err)
	parsed, err := ParseJSON(&jsonBuf)
	require.NoError(t, err)

	// Then: both yield the run's document → cluster mapping
	assert.Equal(t, want, Assignments(rows))
	assert.Equal(t, want, Assignments(parsed.Documents))
	require.Len(t, rows, len(rep.Documents))
	for i, row := range rows {
		assert.Equal(t, rep.Documents[i].Summary, row.Summary)
		assert.Equal(t, rep.Documents[i].Organization, row.Organization)
		assert.Equal(t, rep.Documents[i].WordCount, row.WordCount)
		assert.Equal(t, len(rep.Documents[i].ClusterKeywords), len(row.ClusterKeywords))
	}
	assert.Equal(t, res.RunID, parsed.RunID)
	assert.Equal(t, res.Params, parsed.Params)
	assert.Len(t, parsed.Clusters, len(res.Descriptors))
}

func TestParseCSV_MissingColumn(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("filename,document_id\na.pdf,A\n"))

	require.Error(t, err)
	assert.Equal(t, docerrors.ErrCodeManifestColumn, docerrors.GetCode(err))
}

func TestParseCSV_BadClusterID(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(Columns, ",") + "\n")
	buf.WriteString("a.pdf,A,,,,x,1,,,,10,2,text,kmeans\n")

	_, err := ParseCSV(&buf)

	assert.Equal(t, docerrors.ErrCodeInvalidInput, docerrors.GetCode(err))
}

func TestParseJSON_Malformed(t *testing.T) {
	_, err := ParseJSON(strings.NewReader("{not json"))

	assert.Equal(t, docerrors.ErrCodeInvalidInput, docerrors.GetCode(err))
}

func TestWriteFiles(t *testing.T) {
	res, entries := clustered(t)
	dir := t.TempDir()

	paths, err := WriteFiles(dir, Build(res, entries))

	require.NoError(t, err)
	assert.FileExists(t, paths.CSV)
	assert.FileExists(t, paths.JSON)
	assert.True(t, strings.HasSuffix(paths.CSV, "clusters_kmeans.csv"))

	f, err := os.Open(paths.JSON)
	require.NoError(t, err)
	defer f.Close()
	rep, err := ParseJSON(f)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, rep.RunID)
}
