package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"AI_ADAPTER", "AI_CHAT_KEY", "OPENAI_API_KEY", "AI_CHAT_MODEL", "AI_TIMEOUT_SECONDS",
	"CORPUS_DIR", "INGEST_POLICY", "CHUNK_SIZE", "CHUNK_OVERLAP", "EXTRACT_MAX_CHARS", "QUERY_TOP_K",
	"VECTOR_BACKEND", "DATABASE_URL", "SQLITE_PATH", "GRAPH_SNAPSHOT", "S3_BUCKET",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, AdapterOpenAI, cfg.AI.Adapter)
	assert.Equal(t, "sk-test", cfg.AI.ChatKey)
	assert.Equal(t, "gpt-3.5-turbo", cfg.AI.ChatModel)
	assert.Equal(t, 60*time.Second, cfg.AI.Timeout)
	assert.Equal(t, "data/docs", cfg.Corpus.Dir)
	assert.False(t, cfg.Corpus.Remote())
	assert.Equal(t, 750, cfg.Ingest.ChunkSize)
	assert.Equal(t, 2000, cfg.Ingest.ExtractMaxChars)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 3, cfg.Query.TopK)
	assert.Equal(t, VectorMemory, cfg.Vector.Backend)
	assert.Equal(t, SnapshotFile, cfg.Graph.Snapshot)
	assert.False(t, cfg.UsesS3())
}

func TestLoadMissingCredential(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestLoadOllamaNeedsNoKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_ADAPTER", "Ollama")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AdapterOllama, cfg.AI.Adapter)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown adapter", map[string]string{"AI_ADAPTER": "bard"}, "AI_ADAPTER"},
		{"unknown backend", map[string]string{"VECTOR_BACKEND": "chroma"}, "VECTOR_BACKEND"},
		{"pgvector without url", map[string]string{"VECTOR_BACKEND": "pgvector"}, "DATABASE_URL"},
		{"overlap too large", map[string]string{"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"}, "CHUNK_OVERLAP"},
		{"unknown policy", map[string]string{"INGEST_POLICY": "always"}, "INGEST_POLICY"},
		{"s3 snapshot without bucket", map[string]string{"GRAPH_SNAPSHOT": "s3"}, "S3_BUCKET"},
		{"unknown snapshot", map[string]string{"GRAPH_SNAPSHOT": "redis"}, "GRAPH_SNAPSHOT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("OPENAI_API_KEY", "sk-test")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadS3Corpus(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CORPUS_DIR", "s3://kb/docs/public")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Corpus.Remote())
	assert.Equal(t, "kb", cfg.Corpus.Bucket)
	assert.Equal(t, "docs/public", cfg.Corpus.Prefix)
	assert.Equal(t, "kb", cfg.S3.Bucket)
	assert.Equal(t, "s3://kb/docs/public", cfg.Corpus.String())
	assert.True(t, cfg.UsesS3())
}

func TestParseCorpus(t *testing.T) {
	tests := []struct {
		in      string
		want    CorpusConfig
		wantErr bool
	}{
		{"data/docs", CorpusConfig{Dir: "data/docs"}, false},
		{"s3://bucket", CorpusConfig{Bucket: "bucket"}, false},
		{"s3://bucket/a/b", CorpusConfig{Bucket: "bucket", Prefix: "a/b"}, false},
		{"s3:///nobucket", CorpusConfig{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCorpus(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
