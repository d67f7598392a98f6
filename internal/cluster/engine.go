package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mythorath/DocAnalysisTool/internal/config"
	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
	"github.com/mythorath/DocAnalysisTool/internal/store"
	"github.com/mythorath/DocAnalysisTool/internal/textproc"
)

// Options tune every method of an Engine. Zero values take the defaults of
// DefaultOptions.
type Options struct {
	MinK           int
	MaxK           int
	Seed           int64
	KeywordCount   int
	MaxFeatures    int
	LDAIterations  int
	ReduceDims     int
	MinClusterSize int
	Epsilon        float64
	// Model names the embedding model in errors and run parameters.
	Model string
	// Provider is the configured embedding provider. Unless it is
	// "static", a static embedder is reported as a stand-in.
	Provider string

	// FallbackOnFailure runs k-means when the embedding model is
	// unavailable instead of failing the run.
	FallbackOnFailure bool

	StopWords map[string]struct{}
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MinK:           2,
		MaxK:           10,
		Seed:           42,
		KeywordCount:   10,
		MaxFeatures:    1000,
		LDAIterations:  100,
		ReduceDims:     5,
		MinClusterSize: 2,
	}
}

// OptionsFromConfig maps the cluster and embeddings configuration sections.
func OptionsFromConfig(cfg config.ClusterConfig, emb config.EmbeddingsConfig) Options {
	return Options{
		MinK:              cfg.MinK,
		MaxK:              cfg.MaxK,
		Seed:              cfg.Seed,
		KeywordCount:      cfg.KeywordCount,
		MaxFeatures:       cfg.MaxFeatures,
		LDAIterations:     cfg.LDAIterations,
		ReduceDims:        cfg.ReduceDims,
		MinClusterSize:    cfg.MinClusterSize,
		Epsilon:           cfg.Epsilon,
		Model:             emb.Model,
		Provider:          emb.Provider,
		FallbackOnFailure: cfg.FallbackOnFailure,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinK <= 0 {
		o.MinK = d.MinK
	}
	if o.MaxK <= 0 {
		o.MaxK = d.MaxK
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	if o.KeywordCount <= 0 {
		o.KeywordCount = d.KeywordCount
	}
	if o.MaxFeatures <= 0 {
		o.MaxFeatures = d.MaxFeatures
	}
	if o.LDAIterations <= 0 {
		o.LDAIterations = d.LDAIterations
	}
	if o.ReduceDims <= 0 {
		o.ReduceDims = d.ReduceDims
	}
	if o.MinClusterSize <= 0 {
		o.MinClusterSize = d.MinClusterSize
	}
	if o.StopWords == nil {
		o.StopWords = textproc.DefaultStopWords()
	}
	return o
}

// ParseK accepts "auto" (or empty) and positive integers.
func ParseK(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "auto" {
		return AutoK, nil
	}
	k, err := strconv.Atoi(s)
	if err != nil || k < 1 {
		return 0, docerrors.InputError(fmt.Sprintf("k must be a positive integer or \"auto\", got %q", s), err)
	}
	return k, nil
}

// Engine runs clustering methods over extraction batches and keeps the
// latest successful result of each method in the metadata store.
type Engine struct {
	opts    Options
	store   store.MetadataStore
	methods map[string]Method
	logger  *slog.Logger
}

// NewEngine creates an engine. meta may be nil, in which case results are
// not persisted. embedder may be nil when the embedding method is not used.
func NewEngine(opts Options, meta store.MetadataStore, embedder EmbedderFunc, logger *slog.Logger) *Engine {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		opts:    opts,
		store:   meta,
		methods: make(map[string]Method),
		logger:  logger,
	}
	e.Register(NewKMeans(opts))
	e.Register(NewLDA(opts))
	e.Register(NewEmbedding(opts, embedder))
	return e
}

// Register adds or replaces a method under its name.
func (e *Engine) Register(m Method) {
	e.methods[m.Name()] = m
}

// Method looks up a method by name.
func (e *Engine) Method(name string) (Method, error) {
	m, ok := e.methods[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, docerrors.New(docerrors.ErrCodeUnknownMethod,
			fmt.Sprintf("unknown clustering method %q", name), nil).
			WithSuggestion("use one of: " + strings.Join(Methods(), ", "))
	}
	return m, nil
}

// Cluster groups the extracted documents in entries with the named method.
// FAILED extractions are skipped and listed in Result.Skipped. k is a
// positive cluster count or AutoK. A run that fails leaves the previously
// stored result of the method untouched.
func (e *Engine) Cluster(ctx context.Context, entries []*store.CorpusEntry, method string, k int) (*Result, error) {
	if k < 0 {
		return nil, docerrors.InputError(fmt.Sprintf("k must not be negative, got %d", k), nil)
	}
	m, err := e.Method(method)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c, skipped := NewCorpus(entries, e.opts.StopWords)
	res := &Result{
		RunID:      uuid.NewString(),
		Method:     m.Name(),
		RequestedK: k,
		Skipped:    skipped,
		CreatedAt:  start.UTC(),
	}
	if len(skipped) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d documents with failed extraction were skipped", len(skipped)))
	}

	if c.Len() == 0 {
		res.Warnings = append(res.Warnings, "no documents with extracted text to cluster")
		res.Assignments = []Assignment{}
		res.Descriptors = []Descriptor{}
		res.Elapsed = time.Since(start)
		e.logger.Warn("cluster_run_empty",
			slog.String("method", m.Name()),
			slog.Int("skipped", len(skipped)))
		return res, nil
	}

	p, err := e.assign(ctx, c, m, k, res)
	if err != nil {
		e.logger.Error("cluster_run_failed",
			slog.String("method", m.Name()),
			slog.Int("documents", c.Len()),
			slog.String("error", err.Error()))
		return nil, err
	}

	res.Params = p.Params
	res.Metrics = p.Metrics
	res.Warnings = append(res.Warnings, p.Warnings...)
	res.Assignments = assignments(c, p.Labels, res.Method, e.opts.StopWords, e.opts.KeywordCount)
	res.Descriptors = descriptors(c, p, res.Method, e.opts.KeywordCount)
	res.Metrics.Unclustered = 0
	for _, d := range res.Descriptors {
		if d.ClusterID == Unclustered {
			res.Metrics.Unclustered = d.Size
			continue
		}
		res.EffectiveK++
	}
	res.Elapsed = time.Since(start)

	if err := e.persist(ctx, res); err != nil {
		return nil, err
	}

	e.logger.Info("cluster_run_complete",
		slog.String("run_id", res.RunID),
		slog.String("method", res.Method),
		slog.Int("documents", c.Len()),
		slog.Int("requested_k", k),
		slog.Int("effective_k", res.EffectiveK),
		slog.Int("unclustered", res.Metrics.Unclustered),
		slog.Int("warnings", len(res.Warnings)),
		slog.Duration("elapsed", res.Elapsed))
	return res, nil
}

// assign runs m, or k-means in its place when the embedding model is
// unavailable and fallback is enabled.
func (e *Engine) assign(ctx context.Context, c *Corpus, m Method, k int, res *Result) (*Partition, error) {
	if c.Len() == 1 {
		return singleCluster(1, "a single document forms a single cluster"), nil
	}

	p, err := m.Assign(ctx, c, k)
	if err != nil && m.Name() == MethodEmbedding && e.opts.FallbackOnFailure &&
		errors.Is(err, docerrors.ErrModelUnavailable) {
		e.logger.Warn("cluster_fallback_kmeans",
			slog.String("reason", docerrors.Reason(err)))
		res.Method = MethodKMeans
		res.Warnings = append(res.Warnings,
			"embedding model unavailable ("+docerrors.Reason(err)+"); fell back to kmeans")
		p, err = e.methods[MethodKMeans].Assign(ctx, c, k)
	}
	if err != nil {
		return nil, classify(err)
	}
	if len(p.Labels) != c.Len() {
		return nil, docerrors.New(docerrors.ErrCodeClusterFailed,
			fmt.Sprintf("%s produced %d labels for %d documents", m.Name(), len(p.Labels), c.Len()), nil)
	}
	return p, nil
}

// classify passes cancellation and coded errors through and reports
// anything else as a failed run.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if docerrors.GetCode(err) != "" {
		return err
	}
	return docerrors.New(docerrors.ErrCodeClusterFailed, "clustering failed", err)
}

func (e *Engine) persist(ctx context.Context, res *Result) error {
	if e.store == nil {
		return nil
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return docerrors.InternalError("encode cluster result", err)
	}
	assigned := make(map[string]int, len(res.Assignments))
	for _, a := range res.Assignments {
		assigned[a.DocID] = a.ClusterID
	}
	return e.store.SaveClusterRun(ctx, &store.ClusterRun{
		RunID:       res.RunID,
		Method:      res.Method,
		CreatedAt:   res.CreatedAt,
		Payload:     payload,
		Assignments: assigned,
	})
}

// Latest returns the stored result of the last successful run of method,
// or nil when there is none.
func (e *Engine) Latest(ctx context.Context, method string) (*Result, error) {
	m, err := e.Method(method)
	if err != nil {
		return nil, err
	}
	if e.store == nil {
		return nil, nil
	}
	run, err := e.store.GetClusterRun(ctx, m.Name())
	if err != nil || run == nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(run.Payload, &res); err != nil {
		return nil, docerrors.New(docerrors.ErrCodeStorage, "decode stored cluster result", err).
			WithDetail("run_id", run.RunID)
	}
	return &res, nil
}
