// Package config assembles the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/storage"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/graph"
)

const (
	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"

	VectorMemory   = "memory"
	VectorSQLite   = "sqlite"
	VectorPgvector = "pgvector"

	SnapshotFile = "file"
	SnapshotS3   = "s3"
)

var ErrInvalid = errors.New("invalid configuration")

type AIConfig struct {
	Adapter          string
	ChatURL          string
	ChatKey          string
	ChatModel        string
	EmbedURL         string
	EmbedKey         string
	EmbedModel       string
	EmbedDim         int
	ParallelRequests int
	Timeout          time.Duration
}

// CorpusConfig points at the documents to ingest. Bucket is set when
// CORPUS_DIR is an s3://bucket/prefix URL.
type CorpusConfig struct {
	Dir    string
	Bucket string
	Prefix string
}

func (c CorpusConfig) Remote() bool { return c.Bucket != "" }

func (c CorpusConfig) String() string {
	if c.Remote() {
		return "s3://" + c.Bucket + "/" + c.Prefix
	}
	return c.Dir
}

type IngestConfig struct {
	Policy          string
	ParallelFiles   int
	OnStart         bool
	ChunkSize       int
	ChunkOverlap    int
	ExtractMaxChars int
	MaxRetries      int
}

type QueryConfig struct {
	TopK    int
	Timeout time.Duration
}

type VectorConfig struct {
	Backend     string
	SQLitePath  string
	DatabaseURL string
	Collection  string
}

type GraphConfig struct {
	Snapshot string
	Path     string
	S3Key    string
}

type ServerConfig struct {
	Port         string
	AuthURL      string
	MasterAPIKey string
	RateLimitRPS float64
	BodyLimit    string
}

type Config struct {
	Debug     bool
	LogFormat string

	AI     AIConfig
	Corpus CorpusConfig
	Ingest IngestConfig
	Query  QueryConfig
	Vector VectorConfig
	Graph  GraphConfig
	S3     storage.S3Params

	RabbitMQURL string
	Server      ServerConfig
	TicketsPath string
	WatchCorpus bool
}

// UsesS3 reports whether any component needs the object store.
func (c Config) UsesS3() bool {
	return c.Graph.Snapshot == SnapshotS3 || c.Corpus.Remote()
}

// Load reads the environment and validates the result. A missing model
// credential is an error.
func Load() (Config, error) {
	cfg := Config{
		Debug:     util.GetEnvBool("DEBUG", false),
		LogFormat: util.GetEnvString("LOG_FORMAT", "text"),
		AI: AIConfig{
			Adapter:          strings.ToLower(util.GetEnvString("AI_ADAPTER", AdapterOpenAI)),
			ChatURL:          util.GetEnv("AI_CHAT_URL"),
			ChatKey:          util.GetEnvString("AI_CHAT_KEY", util.GetEnv("OPENAI_API_KEY")),
			ChatModel:        util.GetEnvString("AI_CHAT_MODEL", "gpt-3.5-turbo"),
			EmbedURL:         util.GetEnv("AI_EMBED_URL"),
			EmbedKey:         util.GetEnv("AI_EMBED_KEY"),
			EmbedModel:       util.GetEnvString("AI_EMBED_MODEL", "text-embedding-3-small"),
			EmbedDim:         util.GetEnvInt("AI_EMBED_DIM", 0),
			ParallelRequests: util.GetEnvInt("AI_PARALLEL_REQ", 4),
			Timeout:          util.GetEnvSeconds("AI_TIMEOUT_SECONDS", 60),
		},
		Ingest: IngestConfig{
			Policy:          strings.ToLower(util.GetEnvString("INGEST_POLICY", "nonempty")),
			ParallelFiles:   util.GetEnvInt("INGEST_PARALLEL_FILES", 1),
			OnStart:         util.GetEnvBool("INGEST_ON_START", true),
			ChunkSize:       util.GetEnvInt("CHUNK_SIZE", 750),
			ChunkOverlap:    util.GetEnvInt("CHUNK_OVERLAP", 200),
			ExtractMaxChars: util.GetEnvInt("EXTRACT_MAX_CHARS", graph.DefaultMaxInputChars),
			MaxRetries:      util.GetEnvInt("INGEST_MAX_RETRIES", 3),
		},
		Query: QueryConfig{
			TopK:    util.GetEnvInt("QUERY_TOP_K", 3),
			Timeout: util.GetEnvSeconds("QUERY_TIMEOUT_SECONDS", 60),
		},
		Vector: VectorConfig{
			Backend:     strings.ToLower(util.GetEnvString("VECTOR_BACKEND", VectorMemory)),
			SQLitePath:  util.GetEnvString("SQLITE_PATH", "data/vectors.db"),
			DatabaseURL: util.GetEnv("DATABASE_URL"),
			Collection:  util.GetEnvString("VECTOR_COLLECTION", "company_docs"),
		},
		Graph: GraphConfig{
			Snapshot: strings.ToLower(util.GetEnvString("GRAPH_SNAPSHOT", SnapshotFile)),
			Path:     util.GetEnvString("GRAPH_PATH", "data/graph/graph.json"),
			S3Key:    util.GetEnvString("S3_GRAPH_KEY", "graph/graph.json"),
		},
		S3: storage.S3Params{
			Region:    util.GetEnvString("S3_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("S3_ENDPOINT"),
			AccessKey: util.GetEnv("S3_ACCESS_KEY"),
			SecretKey: util.GetEnv("S3_SECRET_KEY"),
			Bucket:    util.GetEnv("S3_BUCKET"),
		},
		RabbitMQURL: util.GetEnv("RABBITMQ_URL"),
		Server: ServerConfig{
			Port:         util.GetEnvString("PORT", "8080"),
			AuthURL:      util.GetEnv("AUTH_URL"),
			MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
			RateLimitRPS: util.GetEnvNumeric("RATE_LIMIT_RPS", 20),
			BodyLimit:    util.GetEnvString("BODY_LIMIT", "2M"),
		},
		TicketsPath: util.GetEnvString("TICKETS_PATH", "data/tickets.json"),
		WatchCorpus: util.GetEnvBool("WATCH_CORPUS", false),
	}

	corpus, err := ParseCorpus(util.GetEnvString("CORPUS_DIR", "data/docs"))
	if err != nil {
		return Config{}, err
	}
	cfg.Corpus = corpus
	if cfg.Corpus.Remote() && cfg.S3.Bucket == "" {
		cfg.S3.Bucket = cfg.Corpus.Bucket
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseCorpus accepts a directory path or an s3://bucket/prefix URL.
func ParseCorpus(value string) (CorpusConfig, error) {
	if !strings.HasPrefix(value, "s3://") {
		return CorpusConfig{Dir: value}, nil
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return CorpusConfig{}, fmt.Errorf("%w: CORPUS_DIR %q is not a valid s3 url", ErrInvalid, value)
	}
	return CorpusConfig{Bucket: u.Host, Prefix: strings.TrimPrefix(u.Path, "/")}, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	var errs []error

	switch c.AI.Adapter {
	case AdapterOpenAI:
		if c.AI.ChatKey == "" {
			errs = append(errs, errors.New("AI_CHAT_KEY or OPENAI_API_KEY is required for the openai adapter"))
		}
	case AdapterOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown AI_ADAPTER %q", c.AI.Adapter))
	}

	switch c.Ingest.Policy {
	case "nonempty", "fingerprint":
	default:
		errs = append(errs, fmt.Errorf("unknown INGEST_POLICY %q", c.Ingest.Policy))
	}
	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize))
	}

	switch c.Vector.Backend {
	case VectorMemory:
	case VectorSQLite:
		if c.Vector.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case VectorPgvector:
		if c.Vector.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the pgvector backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_BACKEND %q", c.Vector.Backend))
	}

	switch c.Graph.Snapshot {
	case SnapshotFile, SnapshotS3:
	default:
		errs = append(errs, fmt.Errorf("unknown GRAPH_SNAPSHOT %q", c.Graph.Snapshot))
	}
	if c.UsesS3() && c.S3.Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required for s3 snapshots or corpora"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
