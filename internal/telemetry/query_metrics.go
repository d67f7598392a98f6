package telemetry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType classifies a search query by the grammar features it uses.
type QueryType string

const (
	QueryTypeTerms   QueryType = "terms"
	QueryTypePhrase  QueryType = "phrase"
	QueryTypeBoolean QueryType = "boolean"
	QueryTypePrefix  QueryType = "prefix"
)

// ClassifyQuery picks the most specific type present: boolean operators
// win over phrases, phrases over prefix wildcards.
func ClassifyQuery(query string) QueryType {
	for _, f := range strings.Fields(query) {
		switch f {
		case "AND", "OR", "NOT":
			return QueryTypeBoolean
		}
	}
	if strings.ContainsAny(query, "()") {
		return QueryTypeBoolean
	}
	if strings.Contains(query, `"`) {
		return QueryTypePhrase
	}
	if strings.Contains(query, "*") {
		return QueryTypePrefix
	}
	return QueryTypeTerms
}

// LatencyBucket is a coarse latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch ms := d.Milliseconds(); {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one executed search.
type QueryEvent struct {
	Query       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer; capacity defaults to 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	n := copy(out, b.items[b.head:])
	copy(out[n:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms returns the lowercased words of a query that are at least
// three letters long, with operators, quotes and wildcards removed.
func ExtractTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(query) {
		switch f {
		case "AND", "OR", "NOT":
			continue
		}
		w := strings.ToLower(strings.Trim(f, `"()*`))
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term and how often it was searched for.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryStatsSnapshot is a point-in-time copy of the collected statistics.
type QueryStatsSnapshot struct {
	QueryTypeCounts     map[QueryType]int64     `json:"query_type_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of queries without results.
func (s *QueryStatsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryStatsStore persists query statistics between processes.
type QueryStatsStore interface {
	SaveQueryTypeCounts(ctx context.Context, date string, counts map[QueryType]int64) error
	UpsertTermCounts(ctx context.Context, terms map[string]int64) error
	AddZeroResultQueries(ctx context.Context, queries []string, at time.Time) error
	SaveLatencyCounts(ctx context.Context, date string, counts map[LatencyBucket]int64) error
	Load(ctx context.Context, topTerms, zeroResults int) (*QueryStatsSnapshot, error)
}

// QueryStats collects search statistics in memory until Flush. Safe for
// concurrent use.
type QueryStats struct {
	mu sync.Mutex

	queryTypes  map[QueryType]int64
	terms       *lru.Cache[string, int64]
	zeroResults *CircularBuffer[string]
	pendingZero []string
	latencies   map[LatencyBucket]int64
	total       int64
	zeroCount   int64
	startTime   time.Time
	store       QueryStatsStore
	maxTopTerms int
	closed      bool
}

// NewQueryStats creates a collector. store may be nil.
func NewQueryStats(store QueryStatsStore) *QueryStats {
	terms, _ := lru.New[string, int64](100)
	return &QueryStats{
		queryTypes:  make(map[QueryType]int64),
		terms:       terms,
		zeroResults: NewCircularBuffer[string](100),
		latencies:   make(map[LatencyBucket]int64),
		startTime:   time.Now(),
		store:       store,
		maxTopTerms: 20,
	}
}

// Record adds one query.
func (q *QueryStats) Record(ev QueryEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	q.queryTypes[ClassifyQuery(ev.Query)]++
	q.total++
	for _, term := range ExtractTerms(ev.Query) {
		count, _ := q.terms.Get(term)
		q.terms.Add(term, count+1)
	}
	if ev.ResultCount == 0 {
		q.zeroResults.Add(ev.Query)
		q.pendingZero = append(q.pendingZero, ev.Query)
		q.zeroCount++
	}
	q.latencies[LatencyToBucket(ev.Latency)]++
}

// Snapshot returns the in-memory statistics since the collector started.
func (q *QueryStats) Snapshot() *QueryStatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *QueryStats) snapshotLocked() *QueryStatsSnapshot {
	types := make(map[QueryType]int64, len(q.queryTypes))
	for k, v := range q.queryTypes {
		types[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(q.latencies))
	for k, v := range q.latencies {
		latencies[k] = v
	}

	var top []TermCount
	for _, term := range q.terms.Keys() {
		if count, ok := q.terms.Peek(term); ok {
			top = append(top, TermCount{Term: term, Count: count})
		}
	}
	sortTermCounts(top)
	if len(top) > q.maxTopTerms {
		top = top[:q.maxTopTerms]
	}

	return &QueryStatsSnapshot{
		QueryTypeCounts:     types,
		TopTerms:            top,
		ZeroResultQueries:   q.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        q.total,
		ZeroResultCount:     q.zeroCount,
		Since:               q.startTime,
	}
}

func sortTermCounts(tc []TermCount) {
	sort.Slice(tc, func(i, j int) bool {
		if tc[i].Count != tc[j].Count {
			return tc[i].Count > tc[j].Count
		}
		return tc[i].Term < tc[j].Term
	})
}

// Flush adds the statistics gathered so far to the store and resets the
// in-memory counters. Without a store it does nothing.
func (q *QueryStats) Flush(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	q.mu.Lock()
	snap := q.snapshotLocked()
	zero := q.pendingZero
	terms := make(map[string]int64, q.terms.Len())
	for _, term := range q.terms.Keys() {
		if count, ok := q.terms.Peek(term); ok {
			terms[term] = count
		}
	}
	q.queryTypes = make(map[QueryType]int64)
	q.latencies = make(map[LatencyBucket]int64)
	q.terms.Purge()
	q.pendingZero = nil
	q.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if err := q.store.SaveQueryTypeCounts(ctx, today, snap.QueryTypeCounts); err != nil {
		return err
	}
	if err := q.store.UpsertTermCounts(ctx, terms); err != nil {
		return err
	}
	if err := q.store.AddZeroResultQueries(ctx, zero, time.Now()); err != nil {
		return err
	}
	return q.store.SaveLatencyCounts(ctx, today, snap.LatencyDistribution)
}

// Close flushes and stops recording.
func (q *QueryStats) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.Flush(ctx)
}
