package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/store/graph"
	"github.com/liliang-cn/graphmem/pkg/store/vector"
)

func buildArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)), ModTime: time.Now(),
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractArchiveRoundTrip(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{
		"manifest.json":   []byte(`{"version":"1.0"}`),
		"graph_data.json": []byte(`{}`),
	})

	files, err := extractArchive(archive)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"version":"1.0"}`), files["manifest.json"])
	assert.Len(t, files, 2)
}

func TestExtractArchiveRejectsPathTraversal(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{
		"../../etc/passwd": []byte("pwned"),
	})

	_, err := extractArchive(archive)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestExtractArchiveRejectsAbsolutePaths(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{
		"/etc/passwd": []byte("pwned"),
	})

	_, err := extractArchive(archive)
	require.Error(t, err)
}

func TestExtractArchiveRejectsGarbage(t *testing.T) {
	_, err := extractArchive([]byte("definitely not gzip"))
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestDocumentEntriesCollectsByID(t *testing.T) {
	data := &graph.MemoryData{Documents: []domain.Document{
		{ID: "doc-1", ObjectURI: "s3://bucket/memories/legal/documents/doc-1"},
		{ID: "doc-2", ObjectURI: "s3://bucket/memories/legal/documents/doc-2"},
	}}
	files := map[string][]byte{
		"manifest.json":        []byte("{}"),
		"documents/doc-1":      []byte("contrat"),
		"documents/doc-2":      []byte("avenant"),
		"graph_data.json":      []byte("{}"),
		"qdrant_vectors.jsonl": nil,
	}

	documents, err := documentEntries(&Manifest{IncludesDocuments: true}, data, files)
	require.NoError(t, err)
	assert.Equal(t, []byte("contrat"), documents["doc-1"])
	assert.Equal(t, []byte("avenant"), documents["doc-2"])
	assert.Len(t, documents, 2)
}

func TestDocumentEntriesMissingDocumentFails(t *testing.T) {
	data := &graph.MemoryData{Documents: []domain.Document{
		{ID: "doc-1", ObjectURI: "s3://bucket/memories/legal/documents/doc-1"},
	}}

	_, err := documentEntries(&Manifest{IncludesDocuments: true}, data, map[string][]byte{})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
	assert.Contains(t, err.Error(), "documents/doc-1")
}

func TestDocumentEntriesOptionalWithoutManifestFlag(t *testing.T) {
	data := &graph.MemoryData{Documents: []domain.Document{
		{ID: "doc-1", ObjectURI: "s3://bucket/memories/legal/documents/doc-1"},
	}}

	documents, err := documentEntries(&Manifest{}, data, map[string][]byte{})
	require.NoError(t, err)
	assert.Empty(t, documents)
}

func TestChecksumStableAndHex(t *testing.T) {
	entry := fileEntry([]byte("contenu"))
	assert.Len(t, entry.Checksum, 64)
	assert.Equal(t, int64(7), entry.SizeBytes)
	assert.Equal(t, entry.Checksum, checksum([]byte("contenu")))
}

func TestParseVectorsJSONL(t *testing.T) {
	rows := []vector.ExportedPoint{
		{ID: "a", Vector: []float32{0.1, 0.2}, Payload: map[string]any{"doc_id": "d1", "chunk_index": 0}},
		{ID: "b", Vector: []float32{0.3, 0.4}, Payload: map[string]any{"doc_id": "d2", "chunk_index": 1}},
	}
	var buf bytes.Buffer
	for _, row := range rows {
		raw, err := json.Marshal(row)
		require.NoError(t, err)
		buf.Write(raw)
		buf.WriteByte('\n')
	}

	parsed, err := parseVectorsJSONL(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "a", parsed[0].ID)
	assert.Equal(t, "d2", parsed[1].Payload["doc_id"])
}

func TestParseVectorsJSONLEmptyAndBlankLines(t *testing.T) {
	parsed, err := parseVectorsJSONL([]byte("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseVectorsJSONLCorrupt(t *testing.T) {
	_, err := parseVectorsJSONL([]byte("{not json}\n"))
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}
