package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

// applyEnv overlays the environment variables the service has always honoured.
func applyEnv(cfg *AppConfig) {
	cfg.Server.Port = getEnvInt("DOCQUERY_PORT", cfg.Server.Port)
	cfg.Chunker.ChunkSize = getEnvInt("CHUNK_SIZE", cfg.Chunker.ChunkSize)
	cfg.Retrieval.TopK = getEnvInt("TOP_K", cfg.Retrieval.TopK)
	cfg.Embedder.Model = getEnv("EMBEDDING_MODEL", cfg.Embedder.Model)
	cfg.Generator.Model = getEnv("LLM_MODEL", cfg.Generator.Model)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Cache.RedisURL = getEnv("REDIS_URL", cfg.Cache.RedisURL)

	if url := os.Getenv("OLLAMA_API_URL"); url != "" {
		if cfg.Embedder.Ollama != nil {
			cfg.Embedder.Ollama.URL = url
		}
		if cfg.Generator.Ollama != nil {
			cfg.Generator.Ollama.URL = url
		}
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		q.URL = getEnv("QDRANT_URL", q.URL)
		q.Collection = getEnv("COLLECTION_NAME", q.Collection)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Validate rejects configurations the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
	}
	switch c.Chunker.Type {
	case "sentence", "":
	default:
		return bad("unknown chunker %q", c.Chunker.Type)
	}
	if c.Chunker.ChunkSize <= 0 {
		return bad("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= 0.5 {
		return bad("chunker.overlap must be in [0, 0.5), got %v", c.Chunker.Overlap)
	}
	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Dimension <= 0 {
			return bad("embedder.dimension must be positive for the hashing embedder")
		}
	case "openai", "ollama", "gemini":
	default:
		return bad("unknown embedder %q", c.Embedder.Type)
	}
	if c.Embedder.Model == "" {
		return bad("embedder.model is required")
	}
	switch c.Generator.Type {
	case "extractive", "openai", "ollama", "gemini":
	default:
		return bad("unknown generator %q", c.Generator.Type)
	}
	switch c.VectorStore.Type {
	case "memory", "badger", "qdrant", "pgvector":
	default:
		return bad("unknown vector store %q", c.VectorStore.Type)
	}
	switch c.VectorStore.Metric {
	case "cosine", "dot":
	default:
		return bad("unknown metric %q", c.VectorStore.Metric)
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.TopK > c.Retrieval.MaxK {
		return bad("retrieval.top_k must be in [1, %d], got %d", c.Retrieval.MaxK, c.Retrieval.TopK)
	}
	switch c.Assembler.Unit {
	case "chars", "tokens":
	default:
		return bad("unknown assembler unit %q", c.Assembler.Unit)
	}
	if c.Assembler.Budget <= 0 {
		return bad("assembler.budget must be positive")
	}
	switch c.Cache.Type {
	case "memory", "redis", "none":
	default:
		return bad("unknown cache %q", c.Cache.Type)
	}
	if c.Retry.Attempts < 1 {
		return bad("retry.attempts must be at least 1")
	}
	return nil
}
