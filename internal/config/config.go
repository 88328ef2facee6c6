// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the engine needs at startup. It is built once in
// main and passed down; no package reads the environment after that.
type Config struct {
	// Qdrant connection.
	QdrantHost string
	QdrantPort int

	// Collection settings.
	Collection string
	VectorDim  uint64

	// Default OpenAI-compatible backend used when a request does not carry
	// its own credentials.
	APIKey         string
	APIBaseURL     string
	EmbeddingModel string
	ChatModel      string
	RewriteModel   string

	// Chunking.
	MaxChunkSize int
	ChunkOverlap int

	// Retrieval.
	TopK             int
	PreferredMax     int
	SimilarityCutoff float32
	PreferredDirs    []string

	// Quota.
	QuotaDBPath     string
	LimitedChannels []int
	DailyLimit      int

	// Session.
	ContextWindow     int
	HeartbeatInterval time.Duration

	// HTTP server.
	Addr string
}

// Load reads configuration from the environment, applying defaults.
// Callers load .env files (godotenv) before calling this.
func Load() *Config {
	return &Config{
		QdrantHost:        getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:        getEnvInt("QDRANT_PORT", 6334),
		Collection:        getEnv("QDRANT_COLLECTION", "knowledge"),
		VectorDim:         uint64(getEnvInt("VECTOR_DIM", 1024)),
		APIKey:            os.Getenv("OPENAI_API_KEY"),
		APIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "BAAI/bge-m3"),
		ChatModel:         getEnv("CHAT_MODEL", "gpt-3.5-turbo"),
		RewriteModel:      getEnv("REWRITE_MODEL", getEnv("CHAT_MODEL", "gpt-3.5-turbo")),
		MaxChunkSize:      getEnvInt("MAX_CHUNK_SIZE", 2048),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 200),
		TopK:              getEnvInt("TOP_K", 5),
		PreferredMax:      getEnvInt("PREFERRED_MAX", 2),
		SimilarityCutoff:  float32(getEnvFloat("SIMILARITY_THRESHOLD", 0.3)),
		PreferredDirs:     getEnvList("PREFERRED_SOURCE_DIRS", []string{"user_contrib"}),
		QuotaDBPath:       getEnv("QUOTA_DB_PATH", "quota.db"),
		LimitedChannels:   getEnvInts("LIMITED_CHANNELS", []int{1, 2, 5}),
		DailyLimit:        getEnvInt("DAILY_LIMIT", 250),
		ContextWindow:     getEnvInt("CONTEXT_WINDOW", 10),
		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_SECONDS", 30)) * time.Second,
		Addr:              getEnv("ADDR", "0.0.0.0:8000"),
	}
}

// Validate checks settings that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}
	if c.PreferredMax > c.TopK {
		return fmt.Errorf("PREFERRED_MAX (%d) must not exceed TOP_K (%d)", c.PreferredMax, c.TopK)
	}
	if c.ChunkOverlap >= c.MaxChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than MAX_CHUNK_SIZE (%d)", c.ChunkOverlap, c.MaxChunkSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvInts(key string, defaultValue []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []int
	for _, s := range strings.Split(v, ",") {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
