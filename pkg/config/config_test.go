package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"GRAPHMEM_OBJECT_STORE_ENDPOINT":   "s3.example.test",
		"GRAPHMEM_OBJECT_STORE_ACCESS_KEY": "ak",
		"GRAPHMEM_OBJECT_STORE_SECRET_KEY": "sk",
		"GRAPHMEM_OBJECT_STORE_BUCKET":     "graphmem",
		"GRAPHMEM_GRAPH_STORE_PASSWORD":    "secret",
		"GRAPHMEM_LLM_BASE_URL":            "https://llm.example.test/v1",
		"GRAPHMEM_LLM_API_KEY":             "key",
		"GRAPHMEM_LLM_MODEL":               "gpt-oss:120b",
		"GRAPHMEM_AUTH_BOOTSTRAP_KEY":      "bootstrap",
	}
	for k, val := range vars {
		t.Setenv(k, val)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8002, cfg.Server.Port)
	assert.Equal(t, "bolt://neo4j:7687", cfg.Graph.URI)
	assert.Equal(t, 30*time.Second, cfg.Graph.QueryTimeout)
	assert.Equal(t, "memory_", cfg.Vector.CollectionPrefix)
	assert.Equal(t, 1024, cfg.Embedding.Dimensions)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, 50, cfg.Ingest.MaxDocumentSizeMB)
	assert.Equal(t, 950000, cfg.Ingest.MaxTextLength)
	assert.Equal(t, 25000, cfg.Ingest.ExtractionChunkSize)
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlap)
	assert.InDelta(t, 0.58, cfg.RAG.ScoreThreshold, 1e-9)
	assert.Equal(t, 8, cfg.RAG.ChunkLimit)
	assert.Equal(t, 5, cfg.Backup.RetentionCount)
	assert.Equal(t, 600*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, int64(50)*1024*1024, cfg.MaxDocumentSizeBytes())
}

func TestLoadEnvOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GRAPHMEM_SERVER_PORT", "9100")
	t.Setenv("GRAPHMEM_RAG_SCORE_THRESHOLD", "0.65")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.InDelta(t, 0.65, cfg.RAG.ScoreThreshold, 1e-9)
}

func TestLoadMissingMandatory(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GRAPHMEM_GRAPH_STORE_PASSWORD", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph_store.password")
}

func TestValidateRejectsOverlapLargerThanChunk(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GRAPHMEM_INGEST_CHUNK_OVERLAP", "600")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestLoadFromFile(t *testing.T) {
	setRequiredEnv(t)

	f, err := os.CreateTemp(t.TempDir(), "graphmem-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("rag:\n  chunk_limit: 12\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.RAG.ChunkLimit)
}
