package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	IndexBackendFile     = "file"
	IndexBackendWeaviate = "weaviate"

	ConversationBackendMemory   = "memory"
	ConversationBackendPostgres = "postgres"
)

type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Models
	GeminiAPIKey          string  `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel        string  `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbedRatePerSecond    float64 `envconfig:"EMBED_RATE_PER_SECOND" default:"10"`
	GenerationModel       string  `envconfig:"GENERATION_MODEL" default:"gemini-2.0-flash"`
	GenerationMaxTokens   int32   `envconfig:"GENERATION_MAX_TOKENS" default:"528"`
	GenerationTemperature float32 `envconfig:"GENERATION_TEMPERATURE" default:"0.2"`
	GenerationMaxRetries  int     `envconfig:"GENERATION_MAX_RETRIES" default:"2"`
	RerankProvider        string  `envconfig:"RERANK_PROVIDER" default:"jina"`
	RerankModel           string  `envconfig:"RERANK_MODEL"`
	RerankAPIKey          string  `envconfig:"RERANK_API_KEY"`

	// Chunking
	ChunkSize         int     `envconfig:"CHUNK_SIZE" default:"1024"`
	ChunkThreshold    float64 `envconfig:"CHUNK_THRESHOLD" default:"0.5"`
	ChunkMinSentences int     `envconfig:"CHUNK_MIN_SENTENCES" default:"2"`
	ChunkSkipWindow   int     `envconfig:"CHUNK_SKIP_WINDOW" default:"1"`

	// Retrieval
	RetrievalK       int       `envconfig:"RETRIEVAL_K" default:"6"`
	FusionWeights    []float64 `envconfig:"FUSION_WEIGHTS" default:"0.8,0.2"`
	MMRFetchK        int       `envconfig:"MMR_FETCH_K" default:"20"`
	MMRLambda        float64   `envconfig:"MMR_LAMBDA" default:"0.5"`
	ContextSize      int       `envconfig:"CONTEXT_SIZE" default:"1"`
	EnrichOversample int       `envconfig:"ENRICH_OVERSAMPLE" default:"50"`
	RerankTopN       int       `envconfig:"RERANK_TOP_N" default:"5"`
	QueryLogPath     string    `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Ingestion
	IngestConcurrency int `envconfig:"INGEST_CONCURRENCY" default:"4"`
	IngestBatchSize   int `envconfig:"INGEST_BATCH_SIZE" default:"5"`

	// Index
	IndexBackend   string `envconfig:"INDEX_BACKEND" default:"file"`
	IndexDir       string `envconfig:"INDEX_DIR" default:"data/index"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// Conversation state
	ConversationBackend string `envconfig:"CONVERSATION_BACKEND" default:"memory"`
	DBHost              string `envconfig:"DB_HOST" default:"postgres"`
	DBPort              int    `envconfig:"DB_PORT" default:"5432"`
	DBUser              string `envconfig:"DB_USER" default:"dgchat"`
	DBPass              string `envconfig:"DB_PASS" default:"password"`
	DBName              string `envconfig:"DB_NAME" default:"dgchat"`
	MigrationPath       string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Queue
	NSQLookupd      string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost        string `envconfig:"NSQD_HOST"`
	NSQDHTTP        string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQChannel      string `envconfig:"NSQ_CHANNEL" default:"dgchat"`
	PublishTurns    bool   `envconfig:"PUBLISH_TURNS" default:"false"`
	WorkerMaxFlight int    `envconfig:"WORKER_MAX_IN_FLIGHT" default:"1"`

	// Embedding cache
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	EmbedCacheTTL time.Duration `envconfig:"EMBED_CACHE_TTL" default:"24h"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win over the file.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.IndexBackend {
	case IndexBackendFile:
		if c.IndexDir == "" {
			return fmt.Errorf("%w: INDEX_DIR", ErrMissingRequired)
		}
	case IndexBackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: INDEX_BACKEND %q", ErrInvalid, c.IndexBackend)
	}

	switch c.ConversationBackend {
	case ConversationBackendMemory:
	case ConversationBackendPostgres:
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: CONVERSATION_BACKEND %q", ErrInvalid, c.ConversationBackend)
	}

	if len(c.FusionWeights) != 2 || c.FusionWeights[0] < 0 || c.FusionWeights[1] < 0 {
		return fmt.Errorf("%w: FUSION_WEIGHTS needs two non-negative values", ErrInvalid)
	}
	if c.FusionWeights[0]+c.FusionWeights[1] <= 0 {
		return fmt.Errorf("%w: FUSION_WEIGHTS must not both be zero", ErrInvalid)
	}
	if c.ChunkThreshold < 0 || c.ChunkThreshold > 1 {
		return fmt.Errorf("%w: CHUNK_THRESHOLD must be within [0,1]", ErrInvalid)
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("%w: MMR_LAMBDA must be within [0,1]", ErrInvalid)
	}
	for name, v := range map[string]int{
		"CHUNK_SIZE":         c.ChunkSize,
		"RETRIEVAL_K":        c.RetrievalK,
		"RERANK_TOP_N":       c.RerankTopN,
		"INGEST_CONCURRENCY": c.IngestConcurrency,
		"INGEST_BATCH_SIZE":  c.IngestBatchSize,
		"ENRICH_OVERSAMPLE":  c.EnrichOversample,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	return nil
}

// DSN is the lib/pq connection string for the conversation store.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
