package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full service configuration, populated from environment
// variables (optionally via a .env file).
type Config struct {
	API       APIConfig
	DB        DBConfig
	Qdrant    QdrantConfig
	OpenAI    OpenAIConfig
	Embedding EmbeddingConfig
	Redis     RedisConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	GC        GCConfig
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// DBConfig selects and configures the relational backend.
type DBConfig struct {
	Type     string // "sqlite" or "postgres"
	Path     string // sqlite only
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSL      bool
}

// DSN renders the postgres connection string.
func (c DBConfig) DSN() string {
	sslMode := "disable"
	if c.SSL {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, sslMode)
}

// QdrantConfig configures the vector store.
type QdrantConfig struct {
	URL        string
	Collection string
	VectorSize int
	Timeout    time.Duration
}

// OpenAIConfig configures the embedding endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// EmbeddingConfig tunes embedding behavior.
type EmbeddingConfig struct {
	BatchSize int
}

// RedisConfig configures the optional embedding cache backend.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Addr returns the host:port address.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RetryConfig is the default retry strategy for failed sync jobs.
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// RateLimitConfig holds per-key token bucket settings.
type RateLimitConfig struct {
	Embedding    BucketConfig
	VectorUpsert BucketConfig
	VectorDelete BucketConfig
}

// BucketConfig configures one token bucket.
type BucketConfig struct {
	MaxTokens    float64
	RefillPerSec float64
	Enabled      bool
}

// GCConfig controls the periodic maintenance sweep.
type GCConfig struct {
	Interval         time.Duration
	MetricsRetention time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		API: APIConfig{
			Port:            envInt("API_PORT", 8080),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		DB: DBConfig{
			Type:     envString("DB_TYPE", "sqlite"),
			Path:     envString("DB_PATH", "docsync.db"),
			Host:     envString("DB_HOST", "localhost"),
			Port:     envInt("DB_PORT", 5432),
			Username: envString("DB_USERNAME", "postgres"),
			Password: envString("DB_PASSWORD", ""),
			Database: envString("DB_DATABASE", "docsync"),
			SSL:      envBool("DB_SSL", false),
		},
		Qdrant: QdrantConfig{
			URL:        envString("QDRANT_URL", "http://localhost:6333"),
			Collection: envString("QDRANT_COLLECTION", "docsync"),
			VectorSize: envInt("QDRANT_VECTOR_SIZE", 0),
			Timeout:    envDuration("QDRANT_TIMEOUT", 10*time.Second),
		},
		OpenAI: OpenAIConfig{
			BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  envString("OPENAI_API_KEY", ""),
			Model:   envString("OPENAI_MODEL", "text-embedding-3-small"),
			Timeout: envDuration("OPENAI_TIMEOUT", 30*time.Second),
		},
		Embedding: EmbeddingConfig{
			BatchSize: envInt("EMBEDDING_BATCH_SIZE", 64),
		},
		Redis: RedisConfig{
			Enabled:  envBool("REDIS_ENABLED", false),
			Host:     envString("REDIS_HOST", "localhost"),
			Port:     envInt("REDIS_PORT", 6379),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			PoolSize: envInt("REDIS_POOL_SIZE", 10),
		},
		Retry: RetryConfig{
			MaxRetries:    envInt("RETRY_MAX_RETRIES", 3),
			BaseDelay:     envDuration("RETRY_BASE_DELAY", time.Second),
			BackoffFactor: envFloat("RETRY_BACKOFF_FACTOR", 2),
			MaxDelay:      envDuration("RETRY_MAX_DELAY", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Embedding: BucketConfig{
				MaxTokens:    envFloat("RATE_EMBEDDING_MAX_TOKENS", 60),
				RefillPerSec: envFloat("RATE_EMBEDDING_REFILL_PER_SEC", 1),
				Enabled:      envBool("RATE_EMBEDDING_ENABLED", true),
			},
			VectorUpsert: BucketConfig{
				MaxTokens:    envFloat("RATE_VECTOR_UPSERT_MAX_TOKENS", 300),
				RefillPerSec: envFloat("RATE_VECTOR_UPSERT_REFILL_PER_SEC", 5),
				Enabled:      envBool("RATE_VECTOR_UPSERT_ENABLED", true),
			},
			VectorDelete: BucketConfig{
				MaxTokens:    envFloat("RATE_VECTOR_DELETE_MAX_TOKENS", 300),
				RefillPerSec: envFloat("RATE_VECTOR_DELETE_REFILL_PER_SEC", 5),
				Enabled:      envBool("RATE_VECTOR_DELETE_ENABLED", true),
			},
		},
		GC: GCConfig{
			Interval:         time.Duration(envInt("GC_INTERVAL_HOURS", 24)) * time.Hour,
			MetricsRetention: time.Duration(envInt("GC_METRICS_RETENTION_DAYS", 7)) * 24 * time.Hour,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.DB.Type != "sqlite" && c.DB.Type != "postgres" {
		return fmt.Errorf("invalid DB_TYPE %q: must be sqlite or postgres", c.DB.Type)
	}
	if c.DB.Type == "sqlite" && c.DB.Path == "" {
		return fmt.Errorf("DB_PATH is required for sqlite")
	}
	if c.Qdrant.VectorSize <= 0 {
		return fmt.Errorf("QDRANT_VECTOR_SIZE is required and must be positive")
	}
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("QDRANT_COLLECTION is required")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
