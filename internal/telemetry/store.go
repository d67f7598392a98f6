package telemetry

import (
	"context"
	"database/sql"
	"time"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// maxZeroResultRows bounds the persisted zero-result query log.
const maxZeroResultRows = 100

// SQLiteQueryStore implements QueryStatsStore on the workspace database.
type SQLiteQueryStore struct {
	db *sql.DB
}

var _ QueryStatsStore = (*SQLiteQueryStore)(nil)

// NewSQLiteQueryStore creates the statistics tables in db if needed. db is
// shared with the metadata store and is not closed by this type.
func NewSQLiteQueryStore(ctx context.Context, db *sql.DB) (*SQLiteQueryStore, error) {
	if db == nil {
		return nil, docerrors.InternalError("query statistics need a database connection", nil)
	}
	if err := InitSchema(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteQueryStore{db: db}, nil
}

// InitSchema creates the query statistics tables if they don't exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Query type frequency (aggregated daily)
	CREATE TABLE IF NOT EXISTS query_type_stats (
		date TEXT NOT NULL,
		query_type TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, query_type)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Zero-result queries, trimmed to the most recent 100
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return storageErr("create query statistics schema", err)
	}
	return nil
}

// SaveQueryTypeCounts adds counts to the day's query type totals.
func (s *SQLiteQueryStore) SaveQueryTypeCounts(ctx context.Context, date string, counts map[QueryType]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT INTO query_type_stats (date, query_type, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, query_type) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for qt, count := range counts {
			if _, err := stmt.ExecContext(ctx, date, string(qt), count); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertTermCounts adds to the per-term search counts.
func (s *SQLiteQueryStore) UpsertTermCounts(ctx context.Context, terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`, func(stmt *sql.Stmt) error {
		for term, count := range terms {
			if _, err := stmt.ExecContext(ctx, term, count); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddZeroResultQueries appends queries to the zero-result log and drops
// all but the newest 100 entries.
func (s *SQLiteQueryStore) AddZeroResultQueries(ctx context.Context, queries []string, at time.Time) error {
	if len(queries) == 0 {
		return nil
	}
	err := s.inTx(ctx, `
		INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, q := range queries {
			if _, err := stmt.ExecContext(ctx, q, at.UTC()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, maxZeroResultRows)
	if err != nil {
		return storageErr("trim zero-result queries", err)
	}
	return nil
}

// SaveLatencyCounts adds counts to the day's latency histogram.
func (s *SQLiteQueryStore) SaveLatencyCounts(ctx context.Context, date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for bucket, count := range counts {
			if _, err := stmt.ExecContext(ctx, date, string(bucket), count); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load aggregates everything persisted so far. ZeroResultQueries is oldest
// first, like the in-memory buffer.
func (s *SQLiteQueryStore) Load(ctx context.Context, topTerms, zeroResults int) (*QueryStatsSnapshot, error) {
	snap := &QueryStatsSnapshot{
		QueryTypeCounts:     make(map[QueryType]int64),
		LatencyDistribution: make(map[LatencyBucket]int64),
	}

	var first sql.NullString
	err := s.sumByKey(ctx, `SELECT query_type, SUM(count) FROM query_type_stats GROUP BY query_type`,
		func(key string, count int64) {
			snap.QueryTypeCounts[QueryType(key)] = count
			snap.TotalQueries += count
		})
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(date) FROM query_type_stats`).Scan(&first); err != nil {
		return nil, storageErr("query first statistics date", err)
	}
	if first.Valid {
		if t, err := time.Parse("2006-01-02", first.String); err == nil {
			snap.Since = t
		}
	}

	err = s.sumByKey(ctx, `SELECT bucket, SUM(count) FROM query_latency_stats GROUP BY bucket`,
		func(key string, count int64) { snap.LatencyDistribution[LatencyBucket(key)] = count })
	if err != nil {
		return nil, err
	}

	if snap.TopTerms, err = s.topTerms(ctx, topTerms); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zero_result_queries`).Scan(&snap.ZeroResultCount); err != nil {
		return nil, storageErr("count zero-result queries", err)
	}
	if snap.ZeroResultQueries, err = s.zeroResultQueries(ctx, zeroResults); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteQueryStore) topTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, storageErr("query top terms", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, storageErr("scan top terms", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

func (s *SQLiteQueryStore) zeroResultQueries(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query FROM (
			SELECT id, query FROM zero_result_queries ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, storageErr("query zero-result queries", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, storageErr("scan zero-result queries", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (s *SQLiteQueryStore) sumByKey(ctx context.Context, query string, fn func(key string, count int64)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return storageErr("query statistics", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return storageErr("scan statistics", err)
		}
		fn(key, count)
	}
	if err := rows.Err(); err != nil {
		return storageErr("read statistics", err)
	}
	return nil
}

// inTx prepares query in a transaction and hands the statement to fn.
func (s *SQLiteQueryStore) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return storageErr("prepare statement", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return storageErr("write query statistics", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return docerrors.New(docerrors.ErrCodeStorage, op+" failed", err)
}
