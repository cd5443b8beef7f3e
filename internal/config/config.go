package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	AllowOrigins    []string      `yaml:"allow_origins"`
}

// OCRConfig points the loader at an external OCR service for images.
type OCRConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoaderConfig configures text extraction.
type LoaderConfig struct {
	MaxExtractBytes int       `yaml:"max_extract_bytes"`
	OCR             OCRConfig `yaml:"ocr"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type      string  `yaml:"type"`
	ChunkSize int     `yaml:"chunk_size"`
	Overlap   float64 `yaml:"overlap"`
}

// OpenAIConfig holds connection details for an OpenAI-compatible API.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// OllamaConfig holds connection details for an Ollama server.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// GeminiConfig holds credentials for the Gemini API.
type GeminiConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	Type      string        `yaml:"type"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty"`
	Ollama    *OllamaConfig `yaml:"ollama,omitempty"`
	Gemini    *GeminiConfig `yaml:"gemini,omitempty"`
}

// BreakerConfig configures the generation circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// GeneratorConfig selects and configures the generation backend.
type GeneratorConfig struct {
	Type         string        `yaml:"type"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	MaxSentences int           `yaml:"max_sentences"`
	RateLimit    float64       `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
	Breaker      BreakerConfig `yaml:"breaker"`
	OpenAI       *OpenAIConfig `yaml:"openai,omitempty"`
	Ollama       *OllamaConfig `yaml:"ollama,omitempty"`
	Gemini       *GeminiConfig `yaml:"gemini,omitempty"`
}

// RetryConfig is the bounded backoff policy for backend calls.
type RetryConfig struct {
	Attempts        int           `yaml:"attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// BadgerConfig configures the persistent embedded index.
type BadgerConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Collection string `yaml:"collection"`
}

// PgvectorConfig contains connection details for Postgres with pgvector.
type PgvectorConfig struct {
	URLEnv string `yaml:"url_env"`
	Table  string `yaml:"table"`
	Lists  int    `yaml:"lists"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	Metric   string          `yaml:"metric"`
	Badger   *BadgerConfig   `yaml:"badger,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	Pgvector *PgvectorConfig `yaml:"pgvector,omitempty"`
}

// RetrievalConfig configures candidate filtering.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	MaxK           int     `yaml:"max_k"`
	MinScore       float64 `yaml:"min_score"`
	Overfetch      int     `yaml:"overfetch"`
	PerDocumentCap int     `yaml:"per_document_cap"`
	// Dedupe thresholds; 0 turns that check off.
	DedupeOverlap    float64       `yaml:"dedupe_overlap"`
	DedupeSimilarity float64       `yaml:"dedupe_similarity"`
	Timeout          time.Duration `yaml:"timeout"`
}

// AssemblerConfig configures the context budget.
type AssemblerConfig struct {
	Budget int    `yaml:"budget"`
	Unit   string `yaml:"unit"`
}

// CacheConfig selects the query-result cache.
type CacheConfig struct {
	Type     string        `yaml:"type"`
	TTL      time.Duration `yaml:"ttl"`
	MaxItems int64         `yaml:"max_items"`
	RedisURL string        `yaml:"redis_url"`
}

// CatalogConfig configures the ingested-document catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// WatchConfig enables directory auto-ingestion.
type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Loader      LoaderConfig      `yaml:"loader"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Retry       RetryConfig       `yaml:"retry"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Assembler   AssemblerConfig   `yaml:"assembler"`
	Cache       CacheConfig       `yaml:"cache"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Watch       WatchConfig       `yaml:"watch"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			applyEnv(cfg)
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrConfiguration, path, err)
	}
	applyConfigDefaults(cfg)
	applyEnv(cfg)
	return cfg, cfg.Validate()
}

// LoadDefault tries ./config.yaml first, then ~/.config/docquery/config.yaml.
// If neither exists, it writes defaults to ~/.config/docquery/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)
	return cfg, userPath, cfg.Validate()
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Addr returns the listen address for the HTTP server.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docquery", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  32 << 20,
			RateLimit:       20,
			RateBurst:       40,
			AllowOrigins:    []string{"*"},
		},
		Loader:    LoaderConfig{MaxExtractBytes: 8 << 20, OCR: OCRConfig{Timeout: 60 * time.Second}},
		Chunker:   ChunkerConfig{Type: "sentence", ChunkSize: 500, Overlap: 0.15},
		Embedder:  EmbedderConfig{Type: "hashing", Dimension: 384, BatchSize: 32, Timeout: 30 * time.Second},
		Generator: GeneratorConfig{Type: "extractive", MaxSentences: 3, Timeout: 60 * time.Second},
		Retry: RetryConfig{
			Attempts:        3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
		},
		VectorStore: VectorStoreConfig{Type: "memory", Metric: "cosine"},
		Retrieval: RetrievalConfig{
			TopK:             3,
			MaxK:             50,
			MinScore:         0.15,
			Overfetch:        3,
			DedupeOverlap:    0.5,
			DedupeSimilarity: 0.9,
			Timeout:          10 * time.Second,
		},
		Assembler: AssemblerConfig{Budget: 6000, Unit: "chars"},
		Cache:     CacheConfig{Type: "memory", TTL: 10 * time.Minute, MaxItems: 10000},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
		Tracing:   TracingConfig{ServiceName: "docquery", SampleRatio: 0.1},
		Watch:     WatchConfig{Debounce: 500 * time.Millisecond},
	}
	return cfg
}

// Default returns the built-in configuration with all derived fields filled.
func Default() *AppConfig {
	cfg := defaultConfig()
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Timeout == 0 {
		cfg.Embedder.Timeout = 30 * time.Second
	}
	switch cfg.Embedder.Type {
	case "hashing":
		if cfg.Embedder.Dimension == 0 {
			cfg.Embedder.Dimension = 384
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = fmt.Sprintf("hashing-v1-%d", cfg.Embedder.Dimension)
		}
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIConfig{}
		}
		cfg.Embedder.OpenAI.applyDefaults()
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-3-small"
		}
	case "ollama":
		if cfg.Embedder.Ollama == nil {
			cfg.Embedder.Ollama = &OllamaConfig{}
		}
		cfg.Embedder.Ollama.applyDefaults()
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "all-minilm"
		}
	case "gemini":
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiConfig{}
		}
		cfg.Embedder.Gemini.applyDefaults()
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-004"
		}
	}

	if cfg.Generator.Timeout == 0 {
		cfg.Generator.Timeout = 60 * time.Second
	}
	if cfg.Generator.Breaker.MaxFailures == 0 {
		cfg.Generator.Breaker.MaxFailures = 5
	}
	if cfg.Generator.Breaker.OpenTimeout == 0 {
		cfg.Generator.Breaker.OpenTimeout = 30 * time.Second
	}
	switch cfg.Generator.Type {
	case "openai":
		if cfg.Generator.OpenAI == nil {
			cfg.Generator.OpenAI = &OpenAIConfig{}
		}
		cfg.Generator.OpenAI.applyDefaults()
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "gpt-4o-mini"
		}
	case "ollama":
		if cfg.Generator.Ollama == nil {
			cfg.Generator.Ollama = &OllamaConfig{}
		}
		cfg.Generator.Ollama.applyDefaults()
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "gemma3:270m"
		}
	case "gemini":
		if cfg.Generator.Gemini == nil {
			cfg.Generator.Gemini = &GeminiConfig{}
		}
		cfg.Generator.Gemini.applyDefaults()
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "gemini-2.0-flash"
		}
	case "extractive":
		if cfg.Generator.MaxSentences == 0 {
			cfg.Generator.MaxSentences = 3
		}
	}

	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = 200 * time.Millisecond
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = 5 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}

	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = "cosine"
	}
	switch cfg.VectorStore.Type {
	case "badger":
		if cfg.VectorStore.Badger == nil {
			cfg.VectorStore.Badger = &BadgerConfig{}
		}
		if cfg.VectorStore.Badger.Path == "" {
			cfg.VectorStore.Badger.Path = filepath.Join("data", "index")
		}
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6334"
		}
		if cfg.VectorStore.Qdrant.APIKeyEnv == "" {
			cfg.VectorStore.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
		}
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "documents"
		}
	case "pgvector":
		if cfg.VectorStore.Pgvector == nil {
			cfg.VectorStore.Pgvector = &PgvectorConfig{}
		}
		if cfg.VectorStore.Pgvector.URLEnv == "" {
			cfg.VectorStore.Pgvector.URLEnv = "DATABASE_URL"
		}
		if cfg.VectorStore.Pgvector.Table == "" {
			cfg.VectorStore.Pgvector.Table = "chunks"
		}
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 50
	}
	if cfg.Retrieval.Overfetch == 0 {
		cfg.Retrieval.Overfetch = 3
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = 10 * time.Second
	}
	if cfg.Assembler.Budget == 0 {
		cfg.Assembler.Budget = 6000
	}
	if cfg.Assembler.Unit == "" {
		cfg.Assembler.Unit = "chars"
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "memory"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 10 * time.Minute
	}
	if cfg.Cache.MaxItems == 0 {
		cfg.Cache.MaxItems = 10000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}

func (c *OpenAIConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
}

func (c *OllamaConfig) applyDefaults() {
	if c.URL == "" {
		c.URL = "http://localhost:11434"
	}
}

func (c *GeminiConfig) applyDefaults() {
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "GEMINI_API_KEY"
	}
}
