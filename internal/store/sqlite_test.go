package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AddDocument_IsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a stored document
	doc := &Document{ID: "CMS-2025-0028-0001", Filename: "CMS-2025-0028-0001.pdf", Organization: "Acme Health", Path: "/d/a.pdf"}
	stored, created, err := s.AddDocument(ctx, doc)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, FileTypePDF, stored.FileType)

	// When: adding the same id with different metadata
	again, created, err := s.AddDocument(ctx, &Document{ID: doc.ID, Filename: "other.docx", Organization: "Changed"})

	// Then: the original record is returned unchanged
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Acme Health", again.Organization)
	assert.Equal(t, "CMS-2025-0028-0001.pdf", again.Filename)
}

func TestSQLiteStore_GetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocument(context.Background(), "missing")

	assert.True(t, errors.Is(err, docerrors.ErrDocNotFound))
}

func TestSQLiteStore_AddDocument_RejectsEmptyID(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.AddDocument(context.Background(), &Document{Filename: "x.pdf"})

	assert.Equal(t, docerrors.CategoryInput, docerrors.GetCategory(err))
}

func TestSQLiteStore_SaveExtraction_ReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, err := s.AddDocument(ctx, &Document{ID: "d1", Filename: "d1.pdf"})
	require.NoError(t, err)

	// Given: a failed extraction
	require.NoError(t, s.SaveExtraction(ctx, &ExtractedText{DocID: "d1", Method: MethodFailed, Error: "corrupt"}))

	// When: a re-run succeeds
	require.NoError(t, s.SaveExtraction(ctx, &ExtractedText{
		DocID: "d1", Method: MethodOCR, CharCount: 120, UnitCount: 2, OCRPages: 2, Elapsed: 3 * time.Second,
	}))

	// Then: only the new record remains
	et, err := s.GetExtraction(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, et)
	assert.Equal(t, MethodOCR, et.Method)
	assert.Equal(t, 120, et.CharCount)
	assert.Empty(t, et.Error)
	assert.Equal(t, 3*time.Second, et.Elapsed)

	all, err := s.ListExtractions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_SaveExtraction_RejectsUnknownMethod(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveExtraction(context.Background(), &ExtractedText{DocID: "d1", Method: "MAGIC"})

	assert.Error(t, err)
}

func TestSQLiteStore_GetExtraction_MissingIsNil(t *testing.T) {
	s := newTestStore(t)

	et, err := s.GetExtraction(context.Background(), "nope")

	require.NoError(t, err)
	assert.Nil(t, et)
}

func TestSQLiteStore_ClusterRun_ReplaceAndIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: results for two methods
	require.NoError(t, s.SaveClusterRun(ctx, &ClusterRun{
		RunID: "r1", Method: "kmeans", Payload: []byte(`{"k":2}`),
		Assignments: map[string]int{"a": 0, "b": 1},
	}))
	require.NoError(t, s.SaveClusterRun(ctx, &ClusterRun{
		RunID: "r2", Method: "lda", Payload: []byte(`{}`),
		Assignments: map[string]int{"a": 3},
	}))

	// When: kmeans is re-run
	require.NoError(t, s.SaveClusterRun(ctx, &ClusterRun{
		RunID: "r3", Method: "kmeans", Payload: []byte(`{"k":1}`),
		Assignments: map[string]int{"a": 0},
	}))

	// Then: kmeans is replaced, lda untouched
	km, err := s.GetClusterRun(ctx, "kmeans")
	require.NoError(t, err)
	assert.Equal(t, "r3", km.RunID)
	assert.Equal(t, map[string]int{"a": 0}, km.Assignments)

	lda, err := s.GetClusterRun(ctx, "lda")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 3}, lda.Assignments)

	none, err := s.GetClusterRun(ctx, "embedding")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLiteStore_ClusterRun_CancelledSaveKeepsPrevious(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveClusterRun(context.Background(), &ClusterRun{
		RunID: "good", Method: "kmeans", Payload: []byte(`{}`), Assignments: map[string]int{"a": 1},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.SaveClusterRun(ctx, &ClusterRun{RunID: "bad", Method: "kmeans", Payload: []byte(`{}`)})
	require.Error(t, err)

	run, err := s.GetClusterRun(context.Background(), "kmeans")
	require.NoError(t, err)
	assert.Equal(t, "good", run.RunID)
}

func TestSQLiteStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, name := range []string{"a.pdf", "b.pdf", "c.docx"} {
		_, _, err := s.AddDocument(ctx, &Document{ID: fmt.Sprintf("d%d", i), Filename: name})
		require.NoError(t, err)
	}
	require.NoError(t, s.SaveExtraction(ctx, &ExtractedText{DocID: "d0", Method: MethodDirectText, CharCount: 100}))
	require.NoError(t, s.SaveExtraction(ctx, &ExtractedText{DocID: "d1", Method: MethodFailed, Error: "x"}))
	require.NoError(t, s.SaveExtraction(ctx, &ExtractedText{DocID: "d2", Method: MethodDOCXParse, CharCount: 50}))

	st, err := s.Stats(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, st.Documents)
	assert.Equal(t, 2, st.Extracted)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, int64(150), st.TotalChars)
	assert.Equal(t, 2, st.ByFileType[FileTypePDF])
	assert.Equal(t, 1, st.ByMethod[MethodDOCXParse])
}

func TestSQLiteStore_ConcurrentWritersDistinctIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("doc-%02d", i)
			_, _, err := s.AddDocument(ctx, &Document{ID: id, Filename: id + ".pdf"})
			assert.NoError(t, err)
			assert.NoError(t, s.SaveExtraction(ctx, &ExtractedText{DocID: id, Method: MethodDirectText, CharCount: i + 1}))
		}(i)
	}
	wg.Wait()

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 20)
	assert.Equal(t, "doc-00", docs[0].ID)
}
