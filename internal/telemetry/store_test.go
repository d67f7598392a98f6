package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *SQLiteQueryStore {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLiteQueryStore(context.Background(), db)
	require.NoError(t, err)
	return s
}

func TestNewSQLiteQueryStore_RequiresDB(t *testing.T) {
	_, err := NewSQLiteQueryStore(context.Background(), nil)

	assert.Error(t, err)
}

func TestSQLiteQueryStore_AccumulatesAcrossFlushes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Given: two days of counts
	require.NoError(t, s.SaveQueryTypeCounts(ctx, "2026-01-06", map[QueryType]int64{QueryTypeTerms: 10, QueryTypePhrase: 2}))
	require.NoError(t, s.SaveQueryTypeCounts(ctx, "2026-01-07", map[QueryType]int64{QueryTypeTerms: 5}))
	require.NoError(t, s.SaveLatencyCounts(ctx, "2026-01-06", map[LatencyBucket]int64{BucketP10: 7}))
	require.NoError(t, s.SaveLatencyCounts(ctx, "2026-01-07", map[LatencyBucket]int64{BucketP10: 1, BucketP500: 3}))
	require.NoError(t, s.UpsertTermCounts(ctx, map[string]int64{"medicare": 4, "rural": 1}))
	require.NoError(t, s.UpsertTermCounts(ctx, map[string]int64{"rural": 6}))

	// When: loading the totals
	snap, err := s.Load(ctx, 10, 10)

	// Then: counts are summed over days and flushes
	require.NoError(t, err)
	assert.Equal(t, int64(15), snap.QueryTypeCounts[QueryTypeTerms])
	assert.Equal(t, int64(17), snap.TotalQueries)
	assert.Equal(t, int64(8), snap.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(3), snap.LatencyDistribution[BucketP500])
	assert.Equal(t, []TermCount{{"rural", 7}, {"medicare", 4}}, snap.TopTerms)
	assert.Equal(t, "2026-01-06", snap.Since.Format("2006-01-02"))
}

func TestSQLiteQueryStore_ZeroResultLogIsTrimmed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	var queries []string
	for i := 0; i < maxZeroResultRows+20; i++ {
		queries = append(queries, fmt.Sprintf("missing %d", i))
	}

	require.NoError(t, s.AddZeroResultQueries(ctx, queries, time.Now()))
	snap, err := s.Load(ctx, 5, 3)

	require.NoError(t, err)
	assert.Equal(t, int64(maxZeroResultRows), snap.ZeroResultCount)
	assert.Equal(t, []string{"missing 117", "missing 118", "missing 119"}, snap.ZeroResultQueries)
}

func TestSQLiteQueryStore_EmptyLoad(t *testing.T) {
	s := setupTestStore(t)

	snap, err := s.Load(context.Background(), 10, 10)

	require.NoError(t, err)
	assert.Zero(t, snap.TotalQueries)
	assert.Empty(t, snap.TopTerms)
	assert.True(t, snap.Since.IsZero())
}

func TestQueryStats_FlushToSQLite(t *testing.T) {
	// Given: a collector backed by the database
	s := setupTestStore(t)
	qs := NewQueryStats(s)
	qs.Record(QueryEvent{Query: "wildfire smoke", ResultCount: 3, Latency: 30 * time.Millisecond})
	qs.Record(QueryEvent{Query: `"prior authorization"`, ResultCount: 0, Latency: 4 * time.Millisecond})

	// When: closing the collector
	require.NoError(t, qs.Close(context.Background()))

	// Then: a later process sees the statistics
	snap, err := s.Load(context.Background(), 10, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.QueryTypeCounts[QueryTypePhrase])
	assert.Equal(t, []string{`"prior authorization"`}, snap.ZeroResultQueries)
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP50])
	assert.Len(t, snap.TopTerms, 4)
}
