// Package cluster groups extracted documents with one of three
// interchangeable methods (k-means over TF-IDF, LDA topic modelling, and
// embedding density clustering) and describes every resulting cluster with
// salience and frequency keywords.
package cluster

import (
	"context"
	"time"
)

// Method names accepted by Engine.Cluster.
const (
	MethodKMeans    = "kmeans"
	MethodLDA       = "lda"
	MethodEmbedding = "embedding"
)

// Methods lists the method names in a stable order.
func Methods() []string {
	return []string{MethodKMeans, MethodLDA, MethodEmbedding}
}

// AutoK asks the method to choose the number of clusters itself.
const AutoK = 0

// Unclustered is the cluster id of documents the embedding method leaves
// outside every dense region.
const Unclustered = -1

// Assignment places one document in one cluster of a run.
type Assignment struct {
	DocID             string   `json:"doc_id"`
	ClusterID         int      `json:"cluster_id"`
	Method            string   `json:"method"`
	TFIDFKeywords     []string `json:"tfidf_keywords"`
	FrequencyKeywords []string `json:"frequency_keywords"`
}

// Descriptor summarises one cluster of a run.
type Descriptor struct {
	ClusterID          int            `json:"cluster_id"`
	Method             string         `json:"method"`
	Keywords           []string       `json:"keywords"`
	FrequencyKeywords  []string       `json:"frequency_keywords"`
	RepresentativeDocs []string       `json:"representative_docs"`
	Size               int            `json:"size"`
	Quality            *float64       `json:"quality,omitempty"`
	TopOrganizations   map[string]int `json:"top_organizations,omitempty"`
	TopCategories      map[string]int `json:"top_categories,omitempty"`
	AvgCharCount       float64        `json:"avg_char_count"`
}

// Params records the parameters a run actually used.
type Params struct {
	Seed           int64   `json:"seed"`
	MaxFeatures    int     `json:"max_features,omitempty"`
	MinDF          int     `json:"min_df,omitempty"`
	MaxDF          float64 `json:"max_df,omitempty"`
	NInit          int     `json:"n_init,omitempty"`
	Iterations     int     `json:"iterations,omitempty"`
	Alpha          float64 `json:"alpha,omitempty"`
	Beta           float64 `json:"beta,omitempty"`
	Model          string  `json:"model,omitempty"`
	ReduceDims     int     `json:"reduce_dims,omitempty"`
	MinClusterSize int     `json:"min_cluster_size,omitempty"`
	Epsilon        float64 `json:"epsilon,omitempty"`
}

// Metrics are run-level quality measures. Nil fields were not computable.
type Metrics struct {
	Silhouette  *float64 `json:"silhouette,omitempty"`
	Perplexity  *float64 `json:"perplexity,omitempty"`
	Unclustered int      `json:"unclustered"`
}

// Result is the complete output of one clustering run.
type Result struct {
	RunID       string        `json:"run_id"`
	Method      string        `json:"method"`
	RequestedK  int           `json:"requested_k"`
	EffectiveK  int           `json:"effective_k"`
	Params      Params        `json:"params"`
	Metrics     Metrics       `json:"metrics"`
	Warnings    []string      `json:"warnings,omitempty"`
	Skipped     []string      `json:"skipped,omitempty"`
	Assignments []Assignment  `json:"assignments"`
	Descriptors []Descriptor  `json:"descriptors"`
	CreatedAt   time.Time     `json:"created_at"`
	Elapsed     time.Duration `json:"elapsed"`
}

// ClusterOf returns the cluster id assigned to docID.
func (r *Result) ClusterOf(docID string) (int, bool) {
	for _, a := range r.Assignments {
		if a.DocID == docID {
			return a.ClusterID, true
		}
	}
	return 0, false
}

// Descriptor returns the descriptor of cluster id.
func (r *Result) Descriptor(id int) (*Descriptor, bool) {
	for i := range r.Descriptors {
		if r.Descriptors[i].ClusterID == id {
			return &r.Descriptors[i], true
		}
	}
	return nil, false
}

// Partition is what a Method produces: one label per corpus document plus
// the method's own view of which members best represent each cluster.
type Partition struct {
	// Labels[i] is the cluster of corpus document i, or Unclustered.
	Labels []int

	// Ranking orders each cluster's members from most to least
	// representative. Clusters absent from the map keep corpus order.
	Ranking map[int][]int

	// Quality holds per-cluster scores where the method has one.
	Quality map[int]float64

	Params   Params
	Metrics  Metrics
	Warnings []string
}

// Method assigns corpus documents to clusters. k is a positive cluster
// count or AutoK; methods reduce it to fit the corpus and say so in
// Partition.Warnings rather than fail.
type Method interface {
	Name() string
	Assign(ctx context.Context, c *Corpus, k int) (*Partition, error)
}
