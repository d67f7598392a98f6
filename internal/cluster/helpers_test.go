package cluster

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mythorath/DocAnalysisTool/internal/embed"
	"github.com/mythorath/DocAnalysisTool/internal/store"
)

// topicTexts are three clearly separated themes, three documents each.
var topicTexts = map[string][]string{
	"medicare": {
		"Medicare physician payment schedule reimbursement rates for clinicians billing Medicare patients",
		"The physician payment schedule cuts Medicare reimbursement and clinicians worry about billing",
		"Clinicians oppose Medicare reimbursement reductions in the physician payment schedule billing rules",
	},
	"wildfire": {
		"Wildfire smoke forest management and evacuation planning for rural counties during drought",
		"Forest thinning reduces wildfire risk while drought worsens smoke and evacuation problems",
		"Rural counties need evacuation routes because wildfire smoke and drought threaten forest towns",
	},
	"software": {
		"Open source software licensing compiler toolchains and developer security patches",
		"Developer teams patch compiler security flaws in open source software toolchains",
		"Security of open source compiler toolchains depends on developer patches and software licensing",
	},
}

// topicCorpus returns the nine topic documents, ids prefixed by topic.
func topicCorpus() []*store.CorpusEntry {
	var entries []*store.CorpusEntry
	for _, topic := range []string{"medicare", "wildfire", "software"} {
		for i, text := range topicTexts[topic] {
			entries = append(entries, entry(fmt.Sprintf("%s-%d", topic, i), text))
		}
	}
	return entries
}

func entry(id, text string) *store.CorpusEntry {
	return &store.CorpusEntry{
		Document: &store.Document{
			ID:           id,
			Filename:     id + ".pdf",
			Organization: "Org " + id[:1],
			Category:     "Individual",
		},
		Extraction: &store.ExtractedText{
			DocID:     id,
			Content:   text,
			Method:    store.MethodDirectText,
			CharCount: len(text),
		},
	}
}

func failedEntry(id string) *store.CorpusEntry {
	return &store.CorpusEntry{
		Document:   &store.Document{ID: id, Filename: id + ".pdf"},
		Extraction: &store.ExtractedText{DocID: id, Method: store.MethodFailed, Error: "corrupt"},
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func staticEmbedder(context.Context) (embed.Embedder, error) {
	return embed.NewStaticEmbedder(), nil
}

func unavailableEmbedder(context.Context) (embed.Embedder, error) {
	return nil, fmt.Errorf("connection refused")
}

// fakeEmbedder returns fixed vectors by position.
type fakeEmbedder struct {
	vecs [][]float32
	dims int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return f.vecs[:len(texts)], nil
}

func (f *fakeEmbedder) Dimensions() int                { return f.dims }
func (f *fakeEmbedder) ModelName() string              { return "fake" }
func (f *fakeEmbedder) Available(context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                   { return nil }

// clusterOf maps doc id to cluster id.
func clusterOf(res *Result) map[string]int {
	out := make(map[string]int, len(res.Assignments))
	for _, a := range res.Assignments {
		out[a.DocID] = a.ClusterID
	}
	return out
}
