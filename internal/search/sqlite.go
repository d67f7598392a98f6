package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// previewChars is the fallback snippet length when nothing was highlighted.
const previewChars = 240

// sqliteKind builds FTS5 indexes in a standalone database file.
type sqliteKind struct {
	snippetTokens int
}

func (sqliteKind) name() string     { return BackendSQLite }
func (sqliteKind) fileName() string { return "search.db" }

func openSearchDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func (k sqliteKind) build(ctx context.Context, path string, docs []indexDoc, stats *Stats) (backend, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		_ = os.Remove(path)
		dsn = path
	}
	db, err := openSearchDB(dsn)
	if err != nil {
		return nil, err
	}
	if err := k.populate(ctx, db, docs, stats); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteBackend{db: db, snippetTokens: k.snippetTokens}, nil
}

func (sqliteKind) populate(ctx context.Context, db *sql.DB, docs []indexDoc, stats *Stats) error {
	const schema = `
	PRAGMA synchronous = OFF;

	-- Only content is tokenized; metadata rides along unindexed.
	CREATE VIRTUAL TABLE docs USING fts5(
		doc_id UNINDEXED,
		content,
		filename UNINDEXED,
		organization UNINDEXED,
		category UNINDEXED,
		file_type UNINDEXED,
		source_url UNINDEXED,
		method UNINDEXED,
		char_count UNINDEXED,
		tokenize = 'unicode61'
	);

	CREATE TABLE index_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO docs (doc_id, content, filename, organization, category, file_type, source_url, method, char_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.ID, d.Content, d.Filename, d.Organization, d.Category,
			d.FileType, d.SourceURL, d.Method, d.CharCount); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.ID, err)
		}
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES ('stats', ?)`, string(data)); err != nil {
		return fmt.Errorf("failed to store index stats: %w", err)
	}
	return tx.Commit()
}

func (k sqliteKind) open(path string) (backend, *Stats, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, err
	}
	db, err := openSearchDB(path)
	if err != nil {
		return nil, nil, err
	}
	var data string
	if err := db.QueryRow(`SELECT value FROM index_meta WHERE key = 'stats'`).Scan(&data); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("index at %s has no stats record: %w", path, err)
	}
	var stats Stats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("index stats are corrupt: %w", err)
	}
	return &sqliteBackend{db: db, snippetTokens: k.snippetTokens}, &stats, nil
}

// sqliteBackend evaluates the boolean structure of a query with one FTS5
// MATCH subquery per leaf, then scores matches with bm25() over the
// disjunction of the leaves not under a NOT.
type sqliteBackend struct {
	db            *sql.DB
	snippetTokens int
}

func (s *sqliteBackend) search(ctx context.Context, q Node, limit int) ([]Result, error) {
	where, args := sqlFilter(q)
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, doc_id, filename, organization, category, file_type, source_url, method,
		       char_count, substr(content, 1, ?)
		FROM docs WHERE `+where, append([]any{previewChars}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	matched := make(map[int64]*Result)
	for rows.Next() {
		var rowid int64
		var r Result
		if err := rows.Scan(&rowid, &r.DocID, &r.Filename, &r.Organization, &r.Category, &r.FileType,
			&r.SourceURL, &r.Method, &r.CharCount, &r.Snippet); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		matched[rowid] = &r
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if leaves := positiveLeaves(q); len(leaves) > 0 && len(matched) > 0 {
		if err := s.score(ctx, leaves, matched); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(matched))
	for _, r := range matched {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *sqliteBackend) score(ctx context.Context, leaves []Node, matched map[int64]*Result) error {
	exprs := make([]string, len(leaves))
	for i, l := range leaves {
		exprs[i] = ftsExpr(l)
	}
	tokens := s.snippetTokens
	if tokens <= 0 {
		tokens = 16
	}

	// bm25() is negative with lower meaning better, so it is negated to
	// rank like the Bleve backend.
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, -bm25(docs), snippet(docs, 1, '<mark>', '</mark>', '…', ?)
		FROM docs WHERE docs MATCH ?`, tokens, strings.Join(exprs, " OR "))
	if err != nil {
		return fmt.Errorf("scoring failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rowid int64
		var score float64
		var snippet string
		if err := rows.Scan(&rowid, &score, &snippet); err != nil {
			return fmt.Errorf("failed to scan score: %w", err)
		}
		if r, ok := matched[rowid]; ok {
			r.Score = score
			r.Snippet = snippet
		}
	}
	return rows.Err()
}

func (s *sqliteBackend) close() error {
	return s.db.Close()
}

// sqlFilter renders the query as a WHERE clause over docs.rowid.
func sqlFilter(n Node) (string, []any) {
	switch v := n.(type) {
	case *TermNode, *PhraseNode:
		return "rowid IN (SELECT rowid FROM docs WHERE docs MATCH ?)", []any{ftsExpr(v)}
	case *AndNode:
		return sqlJoin(v.Children, " AND ")
	case *OrNode:
		return sqlJoin(v.Children, " OR ")
	case *NotNode:
		inner, args := sqlFilter(v.Child)
		return "NOT (" + inner + ")", args
	default:
		return "0", nil
	}
}

func sqlJoin(children []Node, op string) (string, []any) {
	parts := make([]string, len(children))
	var args []any
	for i, c := range children {
		part, a := sqlFilter(c)
		parts[i] = "(" + part + ")"
		args = append(args, a...)
	}
	return strings.Join(parts, op), args
}

// ftsExpr renders a leaf in FTS5 query syntax. Every term is quoted so
// words like "and" or "near" are never read as operators.
func ftsExpr(n Node) string {
	switch v := n.(type) {
	case *TermNode:
		if v.Prefix {
			return ftsQuote(v.Term) + "*"
		}
		return ftsQuote(v.Term)
	case *PhraseNode:
		return ftsQuote(strings.Join(v.Terms, " "))
	default:
		return `""`
	}
}

func ftsQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
