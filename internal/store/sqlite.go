package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// SQLiteStore implements MetadataStore on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	// locks serialises writers per document id.
	locks *KeyedMutex

	closeOnce sync.Once
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the metadata database.
// An empty path opens an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer and :memory: databases are
	// per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path, locks: NewKeyedMutex()}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id           TEXT PRIMARY KEY,
		source_url   TEXT NOT NULL DEFAULT '',
		filename     TEXT NOT NULL,
		organization TEXT NOT NULL DEFAULT '',
		category     TEXT NOT NULL DEFAULT '',
		comment      TEXT NOT NULL DEFAULT '',
		file_type    TEXT NOT NULL,
		path         TEXT NOT NULL,
		created_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS extractions (
		doc_id       TEXT PRIMARY KEY REFERENCES documents(id),
		method       TEXT NOT NULL,
		char_count   INTEGER NOT NULL,
		unit_count   INTEGER NOT NULL,
		ocr_pages    INTEGER NOT NULL,
		extracted_at INTEGER NOT NULL,
		elapsed_ns   INTEGER NOT NULL,
		error        TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS cluster_runs (
		method     TEXT PRIMARY KEY,
		run_id     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		payload    BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cluster_assignments (
		method     TEXT NOT NULL REFERENCES cluster_runs(method) ON DELETE CASCADE,
		doc_id     TEXT NOT NULL,
		cluster_id INTEGER NOT NULL,
		PRIMARY KEY (method, doc_id)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddDocument inserts doc if no document with the same id exists.
func (s *SQLiteStore) AddDocument(ctx context.Context, doc *Document) (*Document, bool, error) {
	if doc == nil || doc.ID == "" {
		return nil, false, docerrors.InputError("document id must not be empty", nil)
	}
	unlock := s.locks.Lock(doc.ID)
	defer unlock()

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.FileType == "" {
		doc.FileType = FileTypeFromName(doc.Filename)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO documents
			(id, source_url, filename, organization, category, comment, file_type, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourceURL, doc.Filename, doc.Organization, doc.Category, doc.Comment,
		string(doc.FileType), doc.Path, doc.CreatedAt.UnixNano())
	if err != nil {
		return nil, false, storageErr("insert document", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return doc, true, nil
	}

	existing, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

const documentColumns = `id, source_url, filename, organization, category, comment, file_type, path, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var ft string
	var created int64
	if err := row.Scan(&d.ID, &d.SourceURL, &d.Filename, &d.Organization, &d.Category,
		&d.Comment, &ft, &d.Path, &created); err != nil {
		return nil, err
	}
	d.FileType = FileType(ft)
	d.CreatedAt = time.Unix(0, created)
	return &d, nil
}

// GetDocument returns the document with id or ErrDocNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docerrors.New(docerrors.ErrCodeDocNotFound, fmt.Sprintf("document %s not found", id), nil)
	}
	if err != nil {
		return nil, storageErr("get document", err)
	}
	return d, nil
}

// ListDocuments returns all documents ordered by id.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY id`)
	if err != nil {
		return nil, storageErr("list documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, storageErr("scan document", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SaveExtraction replaces the extraction record for et.DocID.
func (s *SQLiteStore) SaveExtraction(ctx context.Context, et *ExtractedText) error {
	if et == nil || et.DocID == "" {
		return docerrors.InputError("extraction must reference a document", nil)
	}
	if !et.Method.Valid() {
		return docerrors.InputError(fmt.Sprintf("unknown extraction method %q", et.Method), nil)
	}
	unlock := s.locks.Lock(et.DocID)
	defer unlock()

	if et.ExtractedAt.IsZero() {
		et.ExtractedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO extractions
			(doc_id, method, char_count, unit_count, ocr_pages, extracted_at, elapsed_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		et.DocID, string(et.Method), et.CharCount, et.UnitCount, et.OCRPages,
		et.ExtractedAt.UnixNano(), int64(et.Elapsed), et.Error)
	if err != nil {
		return storageErr("save extraction", err)
	}
	return nil
}

const extractionColumns = `doc_id, method, char_count, unit_count, ocr_pages, extracted_at, elapsed_ns, error`

func scanExtraction(row rowScanner) (*ExtractedText, error) {
	var et ExtractedText
	var method string
	var at, elapsed int64
	if err := row.Scan(&et.DocID, &method, &et.CharCount, &et.UnitCount, &et.OCRPages,
		&at, &elapsed, &et.Error); err != nil {
		return nil, err
	}
	et.Method = Method(method)
	et.ExtractedAt = time.Unix(0, at)
	et.Elapsed = time.Duration(elapsed)
	return &et, nil
}

// GetExtraction returns the extraction for docID, or nil if none exists.
func (s *SQLiteStore) GetExtraction(ctx context.Context, docID string) (*ExtractedText, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE doc_id = ?`, docID)
	et, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get extraction", err)
	}
	return et, nil
}

// ListExtractions returns every extraction ordered by document id.
func (s *SQLiteStore) ListExtractions(ctx context.Context) ([]*ExtractedText, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+extractionColumns+` FROM extractions ORDER BY doc_id`)
	if err != nil {
		return nil, storageErr("list extractions", err)
	}
	defer rows.Close()

	var out []*ExtractedText
	for rows.Next() {
		et, err := scanExtraction(rows)
		if err != nil {
			return nil, storageErr("scan extraction", err)
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

// SaveClusterRun replaces the stored result for run.Method in one
// transaction. On any error the previous result stays in place.
func (s *SQLiteStore) SaveClusterRun(ctx context.Context, run *ClusterRun) error {
	if run == nil || run.Method == "" {
		return docerrors.InputError("cluster run must name its method", nil)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_assignments WHERE method = ?`, run.Method); err != nil {
		return storageErr("clear assignments", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO cluster_runs (method, run_id, created_at, payload)
		VALUES (?, ?, ?, ?)`,
		run.Method, run.RunID, run.CreatedAt.UnixNano(), run.Payload); err != nil {
		return storageErr("save cluster run", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cluster_assignments (method, doc_id, cluster_id) VALUES (?, ?, ?)`)
	if err != nil {
		return storageErr("prepare assignment insert", err)
	}
	defer stmt.Close()
	for docID, clusterID := range run.Assignments {
		if _, err := stmt.ExecContext(ctx, run.Method, docID, clusterID); err != nil {
			return storageErr("insert assignment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit cluster run", err)
	}
	return nil
}

// GetClusterRun returns the last successful run for method, or nil.
func (s *SQLiteStore) GetClusterRun(ctx context.Context, method string) (*ClusterRun, error) {
	run := &ClusterRun{Method: method, Assignments: make(map[string]int)}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, created_at, payload FROM cluster_runs WHERE method = ?`, method).
		Scan(&run.RunID, &created, &run.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get cluster run", err)
	}
	run.CreatedAt = time.Unix(0, created)

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, cluster_id FROM cluster_assignments WHERE method = ?`, method)
	if err != nil {
		return nil, storageErr("get assignments", err)
	}
	defer rows.Close()
	for rows.Next() {
		var docID string
		var clusterID int
		if err := rows.Scan(&docID, &clusterID); err != nil {
			return nil, storageErr("scan assignment", err)
		}
		run.Assignments[docID] = clusterID
	}
	return run, rows.Err()
}

// Stats aggregates counts across documents and extractions.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByFileType: make(map[FileType]int),
		ByMethod:   make(map[Method]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT file_type, COUNT(*) FROM documents GROUP BY file_type`)
	if err != nil {
		return nil, storageErr("stats by file type", err)
	}
	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			rows.Close()
			return nil, storageErr("scan stats", err)
		}
		st.ByFileType[FileType(ft)] = n
		st.Documents += n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT method, COUNT(*), COALESCE(SUM(char_count), 0) FROM extractions GROUP BY method`)
	if err != nil {
		return nil, storageErr("stats by method", err)
	}
	for rows.Next() {
		var m string
		var n int
		var chars int64
		if err := rows.Scan(&m, &n, &chars); err != nil {
			rows.Close()
			return nil, storageErr("scan stats", err)
		}
		st.ByMethod[Method(m)] = n
		if Method(m) == MethodFailed {
			st.Failed += n
		} else {
			st.Extracted += n
			st.TotalChars += chars
		}
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT method FROM cluster_runs ORDER BY method`)
	if err != nil {
		return nil, storageErr("stats cluster runs", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, storageErr("scan stats", err)
		}
		st.ClusterMethods = append(st.ClusterMethods, m)
	}
	return st, rows.Err()
}

// DB exposes the connection so that other packages can keep their own
// tables in the workspace database. Callers must not close it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close checkpoints the WAL and closes the database. Safe to call twice.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.path != "" {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		}
		err = s.db.Close()
	})
	return err
}

func storageErr(op string, err error) error {
	return docerrors.New(docerrors.ErrCodeStorage, op+" failed", err)
}
