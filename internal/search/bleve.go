package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	bleveregexp "github.com/blevesearch/bleve/v2/analysis/tokenizer/regexp"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// TextAnalyzerName is the analyzer used for document content: runs of
	// letters and digits, lowercased, no stemming or stop words. It must
	// split text exactly like Analyze so parsed query terms match.
	TextAnalyzerName = "doc_text"

	wordTokenizerName = "doc_words"
	wordPattern       = `[\p{L}\p{N}]+`

	contentField     = "content"
	statsKey         = "_docanalysis_stats"
	bm25ScoringModel = "bm25"

	// indexBatchSize bounds memory while building.
	indexBatchSize = 200
)

var storedFields = []string{
	"filename", "organization", "category", "file_type", "source_url", "method", "char_count", "preview",
}

// bleveKind builds and opens Bleve indexes.
type bleveKind struct{}

func (bleveKind) name() string     { return BackendBleve }
func (bleveKind) fileName() string { return "bleve" }

// createIndexMapping maps content as analyzed text with term vectors and
// stores the metadata fields unindexed.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomTokenizer(wordTokenizerName, map[string]interface{}{
		"type":   bleveregexp.Name,
		"regexp": wordPattern,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add word tokenizer: %w", err)
	}
	err = im.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     wordTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	im.DefaultAnalyzer = TextAnalyzerName
	im.ScoringModel = bm25ScoringModel

	doc := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = TextAnalyzerName
	content.Store = true
	content.IncludeTermVectors = true
	doc.AddFieldMappingsAt(contentField, content)

	for _, f := range storedFields {
		var fm *mapping.FieldMapping
		if f == "char_count" {
			fm = bleve.NewNumericFieldMapping()
		} else {
			fm = bleve.NewTextFieldMapping()
		}
		fm.Index = false
		fm.Store = true
		fm.IncludeInAll = false
		doc.AddFieldMappingsAt(f, fm)
	}
	im.DefaultMapping = doc
	return im, nil
}

func (bleveKind) build(ctx context.Context, path string, docs []indexDoc, stats *Stats) (backend, error) {
	im, err := createIndexMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	batch := idx.NewBatch()
	for i, d := range docs {
		if i%indexBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				_ = idx.Close()
				return nil, err
			}
		}
		if err := batch.Index(d.ID, d.fields()); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index document %s: %w", d.ID, err)
		}
		if batch.Size() >= indexBatchSize {
			if err := idx.Batch(batch); err != nil {
				_ = idx.Close()
				return nil, fmt.Errorf("failed to execute batch: %w", err)
			}
			batch = idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to execute batch: %w", err)
		}
	}

	data, err := json.Marshal(stats)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	if err := idx.SetInternal([]byte(statsKey), data); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to store index stats: %w", err)
	}
	return &bleveBackend{index: idx}, nil
}

func (bleveKind) open(path string) (backend, *Stats, error) {
	idx, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, nil, err
	}
	data, err := idx.GetInternal([]byte(statsKey))
	if err != nil || len(data) == 0 {
		_ = idx.Close()
		return nil, nil, fmt.Errorf("index at %s has no stats record", path)
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		_ = idx.Close()
		return nil, nil, fmt.Errorf("index stats are corrupt: %w", err)
	}
	return &bleveBackend{index: idx}, &stats, nil
}

// bleveBackend answers queries from a built Bleve index.
type bleveBackend struct {
	index bleve.Index
}

func (b *bleveBackend) search(ctx context.Context, q Node, limit int) ([]Result, error) {
	req := bleve.NewSearchRequestOptions(toBleveQuery(q), limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})
	req.Fields = storedFields
	req.Highlight = bleve.NewHighlightWithStyle(html.Name)
	req.Highlight.Fields = []string{contentField}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{
			DocID:        hit.ID,
			Filename:     stringField(hit.Fields, "filename"),
			Organization: stringField(hit.Fields, "organization"),
			Category:     stringField(hit.Fields, "category"),
			FileType:     stringField(hit.Fields, "file_type"),
			SourceURL:    stringField(hit.Fields, "source_url"),
			Method:       stringField(hit.Fields, "method"),
			Score:        hit.Score,
		}
		if n, ok := hit.Fields["char_count"].(float64); ok {
			r.CharCount = int(n)
		}
		if frags := hit.Fragments[contentField]; len(frags) > 0 {
			r.Snippet = strings.Join(frags, " … ")
		} else {
			// Pure NOT queries have no match locations to highlight.
			r.Snippet = stringField(hit.Fields, "preview")
		}
		results = append(results, r)
	}
	return results, nil
}

func (b *bleveBackend) close() error {
	return b.index.Close()
}

func stringField(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// toBleveQuery translates the parsed query. Terms are already analyzed, so
// term, prefix and phrase queries bypass the analyzer.
func toBleveQuery(n Node) query.Query {
	switch v := n.(type) {
	case *TermNode:
		if v.Prefix {
			q := bleve.NewPrefixQuery(v.Term)
			q.SetField(contentField)
			return q
		}
		q := bleve.NewTermQuery(v.Term)
		q.SetField(contentField)
		return q
	case *PhraseNode:
		return bleve.NewPhraseQuery(v.Terms, contentField)
	case *AndNode:
		return bleve.NewConjunctionQuery(toBleveQueries(v.Children)...)
	case *OrNode:
		return bleve.NewDisjunctionQuery(toBleveQueries(v.Children)...)
	case *NotNode:
		q := bleve.NewBooleanQuery()
		q.AddMust(bleve.NewMatchAllQuery())
		q.AddMustNot(toBleveQuery(v.Child))
		return q
	default:
		return bleve.NewMatchNoneQuery()
	}
}

func toBleveQueries(nodes []Node) []query.Query {
	out := make([]query.Query, len(nodes))
	for i, n := range nodes {
		out[i] = toBleveQuery(n)
	}
	return out
}
