package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("TRAG_TEST_HOST", "pg.internal")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"set", "host: ${TRAG_TEST_HOST}", "host: pg.internal"},
		{"set wins over default", "host: ${TRAG_TEST_HOST:localhost}", "host: pg.internal"},
		{"default", "port: ${TRAG_TEST_UNSET_PORT:5432}", "port: 5432"},
		{"empty default", "key: ${TRAG_TEST_UNSET_KEY:}", "key: "},
		{"undefined kept", "key: ${TRAG_TEST_UNSET_KEY}", "key: ${TRAG_TEST_UNSET_KEY}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnv(tt.in))
		})
	}
}

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadFromMergesEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "staging")
	t.Setenv("TRAG_TEST_MODEL", "qwen-max")

	writeConfig(t, dir, "config.yaml", `
store:
  backend: memory
llm:
  default_provider: qwen
  providers:
    qwen:
      model: ${TRAG_TEST_MODEL:qwen-plus}
      timeout: 90s
ingest:
  chunk_size: 1000
  chunk_overlap: 200
`)
	writeConfig(t, dir, "config.staging.yaml", `
ingest:
  chunk_overlap: 300
`)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "qwen-max", cfg.LLM.Providers["qwen"].Model)
	assert.Equal(t, 90*time.Second, cfg.LLM.Providers["qwen"].Timeout)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 300, cfg.Ingest.ChunkOverlap)
	// 未配置的键使用默认值
	assert.Equal(t, 0.8, cfg.Ingest.SimilarityThreshold)
	assert.Equal(t, "X-Tenant-ID", cfg.Security.Tenant.Header)
	assert.Equal(t, 30*time.Minute, cfg.Ingest.LockTTL)
}

func TestLoadFromWithoutFilesUsesDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "milvus", cfg.Store.Backend)
	assert.Equal(t, 2000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 600, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
}

func TestLoadFromRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "test")
	writeConfig(t, dir, "config.yaml", `
store:
  backend: sqlite
ingest:
  chunk_size: 100
  chunk_overlap: 100
`)

	_, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestValidateDefaultProvider(t *testing.T) {
	cfg := &Config{
		Store:     StoreConfig{Backend: "milvus"},
		Embedding: EmbeddingConfig{Dimension: 8},
		Ingest:    IngestConfig{ChunkSize: 10, ChunkOverlap: 2, SimilarityThreshold: 0.8},
		Retrieval: RetrievalConfig{K1: 1.5, B: 0.75},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers:       map[string]ProviderConfig{"qwen": {Model: "qwen-plus"}},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"openai"`)

	cfg.LLM.DefaultProvider = "qwen"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRetrievalBounds(t *testing.T) {
	cfg := &Config{
		Store:     StoreConfig{Backend: "memory"},
		Embedding: EmbeddingConfig{Dimension: 8},
		Ingest:    IngestConfig{ChunkSize: 10, ChunkOverlap: 2, SimilarityThreshold: 1},
		Retrieval: RetrievalConfig{K1: 1.5, B: 0},
	}
	require.NoError(t, cfg.Validate())

	cfg.Retrieval.B = 1.2
	cfg.Retrieval.K1 = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval.b")
	assert.Contains(t, err.Error(), "retrieval.k1")
}
