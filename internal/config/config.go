package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-project configuration file.
const ProjectFileName = ".docanalysis.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCANALYSIS_"

// Config is the complete pipeline configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Workspace  string           `yaml:"workspace" json:"workspace"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Cluster    ClusterConfig    `yaml:"cluster" json:"cluster"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Download   DownloadConfig   `yaml:"download" json:"download"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ExtractionConfig controls the content extractor.
type ExtractionConfig struct {
	// Workers is the number of documents extracted in parallel.
	Workers int `yaml:"workers" json:"workers"`

	// MinPageChars is the trimmed character count at which a PDF page
	// counts as having usable embedded text.
	MinPageChars int `yaml:"min_page_chars" json:"min_page_chars"`

	// DirectTextRatio is the share of usable pages above which embedded
	// text is trusted. Below it every page goes through OCR.
	DirectTextRatio float64 `yaml:"direct_text_ratio" json:"direct_text_ratio"`

	// OCREngine is "tesseract", "tika" or "none".
	OCREngine    string `yaml:"ocr_engine" json:"ocr_engine"`
	OCRDPI       int    `yaml:"ocr_dpi" json:"ocr_dpi"`
	OCRLanguage  string `yaml:"ocr_language" json:"ocr_language"`
	OCRTimeout   string `yaml:"ocr_timeout" json:"ocr_timeout"`
	TesseractBin string `yaml:"tesseract_bin" json:"tesseract_bin"`
	PdftoppmBin  string `yaml:"pdftoppm_bin" json:"pdftoppm_bin"`
	TikaURL      string `yaml:"tika_url" json:"tika_url"`
}

// SearchConfig controls the full-text index.
type SearchConfig struct {
	// Backend is "bleve" (in-memory, default) or "sqlite" (FTS5 file).
	Backend       string `yaml:"backend" json:"backend"`
	DefaultLimit  int    `yaml:"default_limit" json:"default_limit"`
	SnippetTokens int    `yaml:"snippet_tokens" json:"snippet_tokens"`
}

// ClusterConfig controls the cluster engine.
type ClusterConfig struct {
	Method string `yaml:"method" json:"method"`
	// K is a positive integer or "auto".
	K string `yaml:"k" json:"k"`

	MinK              int     `yaml:"min_k" json:"min_k"`
	MaxK              int     `yaml:"max_k" json:"max_k"`
	Seed              int64   `yaml:"seed" json:"seed"`
	KeywordCount      int     `yaml:"keyword_count" json:"keyword_count"`
	MaxFeatures       int     `yaml:"max_features" json:"max_features"`
	LDAIterations     int     `yaml:"lda_iterations" json:"lda_iterations"`
	ReduceDims        int     `yaml:"reduce_dims" json:"reduce_dims"`
	MinClusterSize    int     `yaml:"min_cluster_size" json:"min_cluster_size"`
	Epsilon           float64 `yaml:"epsilon" json:"epsilon"`
	FallbackOnFailure bool    `yaml:"fallback_on_failure" json:"fallback_on_failure"`
}

// EmbeddingsConfig configures the embedding provider used by the
// embedding cluster method.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static" or empty for auto-detection.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// DownloadConfig configures the HTTP downloader collaborator.
type DownloadConfig struct {
	Dir               string  `yaml:"dir" json:"dir"`
	MaxRetries        int     `yaml:"max_retries" json:"max_retries"`
	Timeout           string  `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent" json:"user_agent"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version:   1,
		Workspace: "workspace",
		Extraction: ExtractionConfig{
			Workers:         runtime.NumCPU(),
			MinPageChars:    50,
			DirectTextRatio: 0.5,
			OCREngine:       "tesseract",
			OCRDPI:          300,
			OCRLanguage:     "eng",
			OCRTimeout:      "2m",
			TesseractBin:    "tesseract",
			PdftoppmBin:     "pdftoppm",
			TikaURL:         "http://localhost:9998",
		},
		Search: SearchConfig{
			Backend:       "bleve",
			DefaultLimit:  20,
			SnippetTokens: 64,
		},
		Cluster: ClusterConfig{
			Method:         "kmeans",
			K:              "auto",
			MinK:           2,
			MaxK:           10,
			Seed:           42,
			KeywordCount:   10,
			MaxFeatures:    1000,
			LDAIterations:  100,
			ReduceDims:     5,
			MinClusterSize: 2,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "",
			Model:     "nomic-embed-text",
			BatchSize: 16,
			Timeout:   "60s",
			CacheSize: 1000,
		},
		Download: DownloadConfig{
			Dir:               "downloads",
			MaxRetries:        2,
			Timeout:           "30s",
			RequestsPerSecond: 4,
			UserAgent:         "docanalysis/1.0",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the user configuration file, following XDG:
//   - $XDG_CONFIG_HOME/docanalysis/config.yaml
//   - ~/.config/docanalysis/config.yaml
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docanalysis", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docanalysis", "config.yaml")
	}
	return filepath.Join(home, ".config", "docanalysis", "config.yaml")
}

// Load builds the configuration for dir. Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/docanalysis/config.yaml)
//  3. Project config (.docanalysis.yaml in dir)
//  4. .env file in dir (only sets variables not already in the environment)
//  5. Environment variables (DOCANALYSIS_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAMLIfExists(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if err := cfg.loadYAMLIfExists(filepath.Join(dir, ProjectFileName)); err != nil {
		return nil, err
	}

	if envFile := filepath.Join(dir, ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads an explicit config file on top of defaults and env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if !fileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAMLIfExists(path string) error {
	if !fileExists(path) {
		return nil
	}
	return c.loadYAML(path)
}

// loadYAML decodes path over the current values; keys absent from the
// file keep whatever the earlier layers set.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	setString("WORKSPACE", &c.Workspace)
	setInt("WORKERS", &c.Extraction.Workers)
	setString("OCR_ENGINE", &c.Extraction.OCREngine)
	setString("TIKA_URL", &c.Extraction.TikaURL)
	setString("TESSERACT_BIN", &c.Extraction.TesseractBin)
	setString("SEARCH_BACKEND", &c.Search.Backend)
	setString("CLUSTER_METHOD", &c.Cluster.Method)
	setString("CLUSTER_K", &c.Cluster.K)
	setString("EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setString("EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("OLLAMA_HOST", &c.Embeddings.OllamaHost)
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace must not be empty")
	}
	if c.Extraction.Workers < 1 {
		return fmt.Errorf("extraction.workers must be at least 1, got %d", c.Extraction.Workers)
	}
	if c.Extraction.DirectTextRatio < 0 || c.Extraction.DirectTextRatio > 1 {
		return fmt.Errorf("extraction.direct_text_ratio must be between 0 and 1, got %f", c.Extraction.DirectTextRatio)
	}
	if c.Extraction.MinPageChars < 0 {
		return fmt.Errorf("extraction.min_page_chars must be non-negative, got %d", c.Extraction.MinPageChars)
	}
	if !oneOf(c.Extraction.OCREngine, "tesseract", "tika", "none") {
		return fmt.Errorf("extraction.ocr_engine must be 'tesseract', 'tika' or 'none', got %s", c.Extraction.OCREngine)
	}
	if !oneOf(c.Search.Backend, "bleve", "sqlite") {
		return fmt.Errorf("search.backend must be 'bleve' or 'sqlite', got %s", c.Search.Backend)
	}
	if !oneOf(c.Cluster.Method, "kmeans", "lda", "embedding") {
		return fmt.Errorf("cluster.method must be 'kmeans', 'lda' or 'embedding', got %s", c.Cluster.Method)
	}
	if c.Cluster.K != "auto" {
		if n, err := strconv.Atoi(c.Cluster.K); err != nil || n < 1 {
			return fmt.Errorf("cluster.k must be a positive integer or 'auto', got %q", c.Cluster.K)
		}
	}
	if c.Cluster.MinK < 1 || c.Cluster.MaxK < c.Cluster.MinK {
		return fmt.Errorf("cluster.min_k/max_k must satisfy 1 <= min_k <= max_k, got %d/%d", c.Cluster.MinK, c.Cluster.MaxK)
	}
	if c.Embeddings.Provider != "" && !oneOf(c.Embeddings.Provider, "ollama", "static") {
		return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
	}
	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	for name, d := range map[string]string{
		"extraction.ocr_timeout": c.Extraction.OCRTimeout,
		"embeddings.timeout":     c.Embeddings.Timeout,
		"download.timeout":       c.Download.Timeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", name, d)
		}
	}
	return nil
}

// Duration parses a duration field, returning fallback for empty or bad values.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	v = strings.ToLower(v)
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
