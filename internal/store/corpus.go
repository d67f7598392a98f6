package store

import (
	"context"
	"log/slog"
)

// LoadCorpus joins every successful extraction with its document and text
// artifact, ordered by document id. FAILED records and documents whose
// artifact has gone missing are counted in skipped.
func LoadCorpus(ctx context.Context, meta MetadataStore, texts *TextStore) ([]*CorpusEntry, int, error) {
	docs, err := meta.ListDocuments(ctx)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]*Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	extractions, err := meta.ListExtractions(ctx)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]*CorpusEntry, 0, len(extractions))
	skipped := 0
	for _, et := range extractions {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		doc, ok := byID[et.DocID]
		if !ok || et.Failed() {
			skipped++
			continue
		}
		content, err := texts.Read(et.DocID)
		if err != nil {
			slog.Warn("text_artifact_missing",
				slog.String("doc_id", et.DocID),
				slog.String("error", err.Error()))
			skipped++
			continue
		}
		et.Content = content
		entries = append(entries, &CorpusEntry{Document: doc, Extraction: et})
	}
	return entries, skipped, nil
}
