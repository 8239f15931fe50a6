package vector

import (
	"encoding/json"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/graphmem/pkg/domain"
)

func TestCollectionName(t *testing.T) {
	s := &Store{prefix: "memory_"}

	assert.Equal(t, "memory_legal", s.CollectionName("legal"))
	assert.Equal(t, "memory_my_project_v2", s.CollectionName("my-project.v2"))
	assert.Equal(t, "memory_caf__menu", s.CollectionName("café menu"))
}

func TestChunkPayloadRoundTrip(t *testing.T) {
	chunk := domain.Chunk{
		Text:          "Article 12 applies to all tenants.",
		DocID:         "doc-1",
		MemoryID:      "legal",
		Filename:      "lease.md",
		Index:         3,
		TotalChunks:   9,
		SectionTitle:  "Obligations",
		ArticleNumber: "12",
	}

	got := chunkFromPayload(chunkPayload(chunk))
	assert.Equal(t, chunk, got)
}

func TestExportValueKeepsIntegers(t *testing.T) {
	payload := chunkPayload(domain.Chunk{
		Text: "x", DocID: "d", MemoryID: "m", Index: 3, TotalChunks: 9,
	})

	assert.Equal(t, int64(3), exportValue(payload["chunk_index"]))
	assert.Equal(t, int64(9), exportValue(payload["total_chunks"]))
	assert.Equal(t, "d", exportValue(payload["doc_id"]))
}

func TestImportValueRestoresIntegerKind(t *testing.T) {
	// float64 is what encoding/json hands back for any number.
	assert.Equal(t, int64(7), importValue(float64(7)).GetIntegerValue())
	assert.Equal(t, 0.25, importValue(0.25).GetDoubleValue())
	assert.Equal(t, "d1", importValue("d1").GetStringValue())
	assert.True(t, importValue(true).GetBoolValue())
}

func TestExportedPayloadSurvivesJSONRoundTrip(t *testing.T) {
	chunk := domain.Chunk{
		Text: "Article 12.", DocID: "doc-1", MemoryID: "legal",
		Filename: "lease.md", Index: 3, TotalChunks: 9,
	}
	exported := map[string]any{}
	for k, v := range chunkPayload(chunk) {
		exported[k] = exportValue(v)
	}

	raw, err := json.Marshal(ExportedPoint{ID: "p1", Payload: exported})
	require.NoError(t, err)
	var decoded ExportedPoint
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := make(map[string]*pb.Value, len(decoded.Payload))
	for k, v := range decoded.Payload {
		restored[k] = importValue(v)
	}

	assert.Equal(t, chunk, chunkFromPayload(restored))
}

func TestChunkPayloadOmitsEmptySections(t *testing.T) {
	payload := chunkPayload(domain.Chunk{Text: "plain", DocID: "d", MemoryID: "m"})

	_, hasSection := payload["section_title"]
	_, hasArticle := payload["article_number"]
	assert.False(t, hasSection)
	assert.False(t, hasArticle)
}
